package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
	"github.com/robertclapp/accessai-sub004/notify"
	"github.com/robertclapp/accessai-sub004/pulse/schedule"
)

// AutoCompleteJobID is the scheduler id of the auto-completion job
const AutoCompleteJobID = "experiments.autocomplete"

// DefaultAutoCompleteSchedule evaluates running experiments every 15 minutes
const DefaultAutoCompleteSchedule = "*/15 * * * *"

// Enqueuer accepts notifications without blocking. notify.Dispatcher implements it.
type Enqueuer interface {
	Enqueue(n notify.Notification) bool
}

// Metrics counts decision outcomes
type Metrics struct {
	evaluations *prometheus.CounterVec
	completions prometheus.Counter
}

// NewMetrics creates and registers the experiment collectors.
// A nil registerer uses the prometheus default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiment_evaluations_total",
				Help:      "Experiment evaluations by outcome (continue, winner, error)",
			},
			[]string{"outcome"},
		),
		completions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiments_completed_total",
				Help:      "Experiments completed with a significant winner",
			},
		),
	}
	reg.MustRegister(m.evaluations, m.completions)
	return m
}

func (m *Metrics) evaluated(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) completed() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

// AutoCompleter is the scheduled job body that evaluates every running experiment
// and completes those with a significant winner.
type AutoCompleter struct {
	store    *Store
	notifier Enqueuer
	metrics  *Metrics
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewAutoCompleter creates the job body. notifier and metrics may be nil.
func NewAutoCompleter(store *Store, notifier Enqueuer, metrics *Metrics, log *zap.SugaredLogger) *AutoCompleter {
	if log == nil {
		log = logger.Logger
	}
	return &AutoCompleter{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
		log:      logger.AddExperimentSymbol(log),
	}
}

// Job wraps the auto-completer as a scheduler job
func (a *AutoCompleter) Job(cronExpr string, enabled bool) schedule.Job {
	if cronExpr == "" {
		cronExpr = DefaultAutoCompleteSchedule
	}
	return schedule.Job{
		ID:       AutoCompleteJobID,
		Name:     "Experiment auto-completion",
		Schedule: cronExpr,
		Enabled:  enabled,
		Fn:       a.Run,
	}
}

type evaluation int

const (
	evaluationContinue evaluation = iota
	evaluationCompleted
	evaluationStale
)

// Run evaluates every running experiment. An error on one experiment is counted
// and logged without stopping the batch; only failing to list experiments fails the run.
func (a *AutoCompleter) Run(ctx context.Context) (schedule.JobResult, error) {
	log := logger.FromContext(ctx, a.log)

	exps, err := a.store.ListRunning(ctx)
	if err != nil {
		return schedule.JobResult{}, errors.Wrap(err, "failed to list running experiments")
	}

	var result schedule.JobResult
	completed := 0
	for _, exp := range exps {
		if ctx.Err() != nil {
			break
		}
		result.ItemsProcessed++

		outcome, err := a.evaluateOne(ctx, log, exp)
		if err != nil {
			result.ItemsFailed++
			a.metrics.evaluated("error")
			log.Warnw("Experiment evaluation failed",
				logger.FieldExperimentID, exp.ID,
				logger.FieldError, err)
			continue
		}
		result.ItemsSuccessful++
		switch outcome {
		case evaluationCompleted:
			completed++
			a.metrics.evaluated("winner")
		case evaluationStale:
			a.metrics.evaluated("stale")
		default:
			a.metrics.evaluated("continue")
		}
	}

	result.Summary = fmt.Sprintf("%d evaluated, %d completed, %d errors",
		result.ItemsProcessed, completed, result.ItemsFailed)
	return result, nil
}

// evaluateOne decides a single experiment and applies a winner. Panics are
// converted to errors so one bad record cannot abort the batch.
func (a *AutoCompleter) evaluateOne(ctx context.Context, log *zap.SugaredLogger, exp *Experiment) (outcome evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic evaluating experiment: %v", r)
		}
	}()

	verdict, err := Decide(*exp, exp.Variants)
	if err != nil {
		return evaluationContinue, err
	}
	if verdict.Kind != VerdictWinner {
		log.Debugw("Experiment continues",
			logger.FieldExperimentID, exp.ID,
			"reason", verdict.Reason)
		return evaluationContinue, nil
	}

	completedAt := a.now()
	if err := a.store.Complete(ctx, exp.ID, verdict.WinnerID, completedAt); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			// An admin cancel committed first
			log.Infow("Winner discarded, experiment no longer running",
				logger.FieldExperimentID, exp.ID)
			return evaluationStale, nil
		}
		return evaluationContinue, err
	}

	a.metrics.completed()
	log.Infow("Experiment completed",
		logger.FieldExperimentID, exp.ID,
		logger.FieldVariantID, verdict.WinnerID,
		"winner", verdict.WinnerLabel,
		"z", verdict.Z,
		"rate_difference", verdict.RateDifference)

	if a.notifier != nil {
		a.notifier.Enqueue(notify.Notification{
			ExperimentID:    exp.ID,
			ExperimentName:  exp.Name,
			WinnerLabel:     verdict.WinnerLabel,
			ConfidenceLevel: exp.ConfidenceLevel,
			RateDifference:  verdict.RateDifference,
			CompletedAt:     completedAt,
		})
	}
	return evaluationCompleted, nil
}
