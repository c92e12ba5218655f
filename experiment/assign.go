package experiment

import (
	"context"
	"math/rand/v2"

	"github.com/robertclapp/accessai-sub004/errors"
)

func defaultPick() float64 {
	return rand.Float64()
}

// pickWeighted maps r in [0,1) onto variants in proportion to their weights
func pickWeighted(variants []Variant, r float64) *Variant {
	total := 0.0
	for _, v := range variants {
		total += v.Weight
	}
	if total <= 0 || len(variants) == 0 {
		return nil
	}

	target := r * total
	acc := 0.0
	for i := range variants {
		acc += variants[i].Weight
		if target < acc {
			return &variants[i]
		}
	}
	// r*total rounding up to total lands on the last variant
	return &variants[len(variants)-1]
}

// AssignVariant picks the variant a recipient should receive, with probability
// proportional to variant weight. Only running experiments assign.
func (s *Service) AssignVariant(ctx context.Context, experimentID string) (*Variant, error) {
	exp, err := s.store.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != StatusRunning {
		return nil, errors.NewInvalidStateError("cannot assign variants for %s experiment %s", exp.Status, experimentID)
	}

	v := pickWeighted(exp.Variants, s.pick())
	if v == nil {
		return nil, errors.NewInvalidStateError("experiment %s has no weighted variants", experimentID)
	}
	return v, nil
}
