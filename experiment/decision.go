package experiment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/robertclapp/accessai-sub004/errors"
)

// VerdictKind is the outcome of one evaluation
type VerdictKind string

// Verdict kinds
const (
	VerdictContinue VerdictKind = "continue"
	VerdictWinner   VerdictKind = "winner"
)

// Verdict is the decision for one experiment.
// For a winner, Z and RateDifference are measured against the closest challenger.
type Verdict struct {
	Kind           VerdictKind `json:"kind"`
	WinnerID       string      `json:"winner_id,omitempty"`
	WinnerLabel    string      `json:"winner_label,omitempty"`
	RateDifference float64     `json:"rate_difference"` // percentage points, |leader - challenger|
	Z              float64     `json:"z"`
	CriticalZ      float64     `json:"critical_z"`
	Reason         string      `json:"reason,omitempty"`
}

// CriticalZ is the two-tailed critical value of the standard normal at the given
// confidence level in percent: 95 -> 1.960, 90 -> 1.645, 99 -> 2.576.
func CriticalZ(confidenceLevel int) float64 {
	alpha := 1 - float64(confidenceLevel)/100
	return distuv.UnitNormal.Quantile(1 - alpha/2)
}

// TwoProportionZ is the pooled two-proportion z statistic for rate a minus rate b.
// It is 0 when either sample is empty or the pooled rate leaves no variance.
func TwoProportionZ(openedA, sentA, openedB, sentB int) float64 {
	if sentA <= 0 || sentB <= 0 {
		return 0
	}
	rateA := float64(openedA) / float64(sentA)
	rateB := float64(openedB) / float64(sentB)
	pooled := float64(openedA+openedB) / float64(sentA+sentB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(sentA) + 1/float64(sentB)))
	if se == 0 {
		return 0
	}
	return (rateA - rateB) / se
}

// Decide evaluates an experiment's current counters. It has no side effects.
//
// A winner needs every variant at or above the minimum sample size and the
// leading open rate to clear the critical z against every other variant.
// Malformed input (fewer than two variants, bad confidence level, impossible
// counters) is an error; too little data is a continue verdict.
func Decide(exp Experiment, variants []Variant) (Verdict, error) {
	if err := validateForDecision(exp, variants); err != nil {
		return Verdict{}, err
	}

	critical := CriticalZ(exp.ConfidenceLevel)

	if err := checkSampleSize(exp, variants); err != nil {
		return Verdict{Kind: VerdictContinue, CriticalZ: critical, Reason: err.Error()}, nil
	}

	leader := 0
	for i := 1; i < len(variants); i++ {
		if variants[i].OpenRate() > variants[leader].OpenRate() {
			leader = i
		}
	}
	lead := variants[leader]

	closestZ := math.Inf(1)
	closestDiff := 0.0
	for i, challenger := range variants {
		if i == leader {
			continue
		}
		z := TwoProportionZ(lead.OpenedCount, lead.SentCount, challenger.OpenedCount, challenger.SentCount)
		if z < closestZ {
			closestZ = z
			closestDiff = rateDifference(lead, challenger)
		}
	}

	verdict := Verdict{
		Kind:           VerdictContinue,
		RateDifference: math.Abs(closestDiff),
		Z:              closestZ,
		CriticalZ:      critical,
	}
	// Equal rates give z = 0, so a tie never clears the threshold
	if closestDiff > 0 && closestZ >= critical {
		verdict.Kind = VerdictWinner
		verdict.WinnerID = lead.ID
		verdict.WinnerLabel = lead.Label
		return verdict, nil
	}
	verdict.Reason = fmt.Sprintf("not significant: z=%.3f below %.3f", closestZ, critical)
	return verdict, nil
}

// rateDifference is a's open rate minus b's in percentage points, computed over
// the integer counts so 300/1000 vs 220/1000 is exactly 8
func rateDifference(a, b Variant) float64 {
	if a.SentCount == 0 || b.SentCount == 0 {
		return 0
	}
	sa, sb := int64(a.SentCount), int64(b.SentCount)
	num := (int64(a.OpenedCount)*sb - int64(b.OpenedCount)*sa) * 100
	return float64(num) / float64(sa*sb)
}

func validateForDecision(exp Experiment, variants []Variant) error {
	if len(variants) < 2 {
		return errors.NewInvalidRequestError("experiment %s has %d variants, need at least 2", exp.ID, len(variants))
	}
	if exp.ConfidenceLevel < MinConfidenceLevel || exp.ConfidenceLevel > MaxConfidenceLevel {
		return errors.NewInvalidRequestError("experiment %s confidence level %d outside %d-%d",
			exp.ID, exp.ConfidenceLevel, MinConfidenceLevel, MaxConfidenceLevel)
	}
	for _, v := range variants {
		if v.SentCount < 0 || v.OpenedCount < 0 || v.ClickedCount < 0 {
			return errors.NewInvalidRequestError("variant %s has negative counters", v.ID)
		}
		if v.OpenedCount > v.SentCount {
			return errors.NewInvalidRequestError("variant %s opened %d exceeds sent %d", v.ID, v.OpenedCount, v.SentCount)
		}
	}
	return nil
}

// checkSampleSize returns ErrInsufficientData when any variant is under the
// minimum sample. An empty variant is always insufficient.
func checkSampleSize(exp Experiment, variants []Variant) error {
	minSample := exp.MinSampleSize
	if minSample < 1 {
		minSample = 1
	}
	for _, v := range variants {
		if v.SentCount < minSample {
			return errors.Wrapf(errors.ErrInsufficientData, "variant %s has %d sends, needs %d", v.Label, v.SentCount, minSample)
		}
	}
	return nil
}
