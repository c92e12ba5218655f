// Package experiment implements subject-line A/B tests: the experiment and variant
// model, its status state machine, SQLite persistence with compare-and-set
// transitions, the statistical decision engine, and the scheduled job that
// completes experiments once a winner is significant.
package experiment

import (
	"time"

	"github.com/robertclapp/accessai-sub004/errors"
)

// Status is the lifecycle state of an experiment
type Status string

// Experiment status constants
const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the complete set of legal status moves
var transitions = map[Status][]Status{
	StatusDraft:   {StatusRunning},
	StatusRunning: {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts user input to a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", errors.NewInvalidRequestError("unknown experiment status %q", s)
	}
	return st, nil
}

// Confidence level bounds, in percent
const (
	MinConfidenceLevel = 80
	MaxConfidenceLevel = 99
)

// Experiment is one A/B test
type Experiment struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	TemplateType     string     `json:"template_type"`
	Status           Status     `json:"status"`
	ConfidenceLevel  int        `json:"confidence_level"`
	MinSampleSize    int        `json:"min_sample_size"` // per variant
	WinningVariantID *string    `json:"winning_variant_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	Variants []Variant `json:"variants"`
}

// TotalSent sums sends across variants
func (e *Experiment) TotalSent() int {
	total := 0
	for _, v := range e.Variants {
		total += v.SentCount
	}
	return total
}

// Variant returns the variant with the given id
func (e *Experiment) Variant(id string) (*Variant, bool) {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i], true
		}
	}
	return nil, false
}

// Variant is one candidate subject line within an experiment
type Variant struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	Position     int       `json:"position"`
	Label        string    `json:"label"`
	Subject      string    `json:"subject"`
	Weight       float64   `json:"weight"` // relative send probability
	SentCount    int       `json:"sent_count"`
	OpenedCount  int       `json:"opened_count"`
	ClickedCount int       `json:"clicked_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// OpenRate is opened/sent, 0 before anything is sent
func (v Variant) OpenRate() float64 {
	if v.SentCount <= 0 {
		return 0
	}
	return float64(v.OpenedCount) / float64(v.SentCount)
}

// ClickRate is clicked/sent, 0 before anything is sent
func (v Variant) ClickRate() float64 {
	if v.SentCount <= 0 {
		return 0
	}
	return float64(v.ClickedCount) / float64(v.SentCount)
}
