package experiment

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
)

// Defaults fill in experiment settings the caller leaves at zero
type Defaults struct {
	ConfidenceLevel int
	MinSampleSize   int
}

// DefaultDefaults returns the standard experiment settings
func DefaultDefaults() Defaults {
	return Defaults{ConfidenceLevel: 95, MinSampleSize: 100}
}

// CreateParams describes a new experiment
type CreateParams struct {
	Name            string
	TemplateType    string
	ConfidenceLevel int // 0 uses the default
	MinSampleSize   int // 0 uses the default
}

// VariantParams describes a new variant
type VariantParams struct {
	Label   string
	Subject string
	Weight  float64 // 0 means 1
}

// CancelResult reports whether a cancel took effect.
// Applied is false when the experiment was already terminal, e.g. the
// auto-completion job completed it first.
type CancelResult struct {
	Applied bool   `json:"applied"`
	Status  Status `json:"status"`
}

// Service is the admin surface over the experiment store
type Service struct {
	store    *Store
	defaults Defaults
	now      func() time.Time
	pick     func() float64
	log      *zap.SugaredLogger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithServiceClock replaces time.Now
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithRandom replaces the uniform [0,1) source used by AssignVariant
func WithRandom(pick func() float64) ServiceOption {
	return func(s *Service) { s.pick = pick }
}

// NewService creates the experiment admin service
func NewService(store *Store, defaults Defaults, log *zap.SugaredLogger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logger.Logger
	}
	s := &Service{
		store:    store,
		defaults: defaults,
		now:      time.Now,
		pick:     defaultPick,
		log:      logger.AddExperimentSymbol(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateExperiment creates a draft experiment
func (s *Service) CreateExperiment(ctx context.Context, p CreateParams) (*Experiment, error) {
	if p.ConfidenceLevel == 0 {
		p.ConfidenceLevel = s.defaults.ConfidenceLevel
	}
	if p.MinSampleSize == 0 {
		p.MinSampleSize = s.defaults.MinSampleSize
	}
	if p.TemplateType == "" {
		p.TemplateType = "email"
	}
	if err := validateCreate(p); err != nil {
		return nil, err
	}

	exp := &Experiment{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(p.Name),
		TemplateType:    p.TemplateType,
		Status:          StatusDraft,
		ConfidenceLevel: p.ConfidenceLevel,
		MinSampleSize:   p.MinSampleSize,
		CreatedAt:       s.now(),
	}
	if err := s.store.Create(ctx, exp); err != nil {
		return nil, err
	}

	s.log.Infow("Experiment created",
		logger.FieldExperimentID, exp.ID,
		"name", exp.Name,
		"confidence_level", exp.ConfidenceLevel,
		"min_sample_size", exp.MinSampleSize)
	return exp, nil
}

func validateCreate(p CreateParams) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.NewInvalidRequestError("experiment name is required")
	}
	if p.ConfidenceLevel < MinConfidenceLevel || p.ConfidenceLevel > MaxConfidenceLevel {
		return errors.WithHintf(
			errors.NewInvalidRequestError("confidence level %d out of range", p.ConfidenceLevel),
			"use a whole percent between %d and %d", MinConfidenceLevel, MaxConfidenceLevel,
		)
	}
	if p.MinSampleSize < 1 {
		return errors.NewInvalidRequestError("minimum sample size must be at least 1, got %d", p.MinSampleSize)
	}
	return nil
}

// AddVariant adds a variant to a draft experiment
func (s *Service) AddVariant(ctx context.Context, experimentID string, p VariantParams) (*Variant, error) {
	if p.Weight == 0 {
		p.Weight = 1
	}
	if strings.TrimSpace(p.Label) == "" {
		return nil, errors.NewInvalidRequestError("variant label is required")
	}
	if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) || p.Weight <= 0 {
		return nil, errors.NewInvalidRequestError("variant weight must be a positive finite number, got %g", p.Weight)
	}

	v := &Variant{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Label:        strings.TrimSpace(p.Label),
		Subject:      p.Subject,
		Weight:       p.Weight,
		CreatedAt:    s.now(),
	}
	if err := s.store.AddVariant(ctx, v); err != nil {
		return nil, err
	}

	s.log.Infow("Variant added",
		logger.FieldExperimentID, experimentID,
		logger.FieldVariantID, v.ID,
		"label", v.Label,
		"weight", v.Weight)
	return v, nil
}

// StartExperiment moves a draft experiment with at least two variants to running
func (s *Service) StartExperiment(ctx context.Context, id string) (*Experiment, error) {
	if err := s.store.Start(ctx, id, s.now()); err != nil {
		return nil, err
	}
	s.log.Infow("Experiment started", logger.FieldExperimentID, id)
	return s.store.Get(ctx, id)
}

// CancelExperiment cancels a running experiment. Losing the race to completion
// is not an error: the result reports Applied=false and the current status.
func (s *Service) CancelExperiment(ctx context.Context, id string) (CancelResult, error) {
	err := s.store.Transition(ctx, id, StatusRunning, StatusCancelled, s.now())
	if err == nil {
		s.log.Infow("Experiment cancelled", logger.FieldExperimentID, id)
		return CancelResult{Applied: true, Status: StatusCancelled}, nil
	}
	if !errors.Is(err, ErrStaleTransition) {
		return CancelResult{}, err
	}

	exp, getErr := s.store.Get(ctx, id)
	if getErr != nil {
		return CancelResult{}, getErr
	}
	if !exp.Status.IsTerminal() {
		return CancelResult{}, errors.NewInvalidStateError("cannot cancel %s experiment %s", exp.Status, id)
	}

	s.log.Infow("Cancel discarded, experiment already finished",
		logger.FieldExperimentID, id,
		logger.FieldStatus, exp.Status)
	return CancelResult{Applied: false, Status: exp.Status}, nil
}

// RecordSend counts n sends for a variant
func (s *Service) RecordSend(ctx context.Context, variantID string, n int) error {
	return s.store.IncrementVariantCounters(ctx, variantID, n, 0, 0)
}

// RecordOpen counts n opens for a variant
func (s *Service) RecordOpen(ctx context.Context, variantID string, n int) error {
	return s.store.IncrementVariantCounters(ctx, variantID, 0, n, 0)
}

// RecordClick counts n clicks for a variant
func (s *Service) RecordClick(ctx context.Context, variantID string, n int) error {
	return s.store.IncrementVariantCounters(ctx, variantID, 0, 0, n)
}

// Get returns an experiment with its variants
func (s *Service) Get(ctx context.Context, id string) (*Experiment, error) {
	return s.store.Get(ctx, id)
}

// List returns experiments, optionally filtered by status
func (s *Service) List(ctx context.Context, status Status) ([]*Experiment, error) {
	return s.store.List(ctx, status)
}

// Evaluate runs the decision engine on an experiment without changing it
func (s *Service) Evaluate(ctx context.Context, id string) (*Experiment, Verdict, error) {
	exp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, Verdict{}, err
	}
	verdict, err := Decide(*exp, exp.Variants)
	return exp, verdict, err
}
