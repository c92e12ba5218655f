package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/am"
	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/experiment"
	"github.com/robertclapp/accessai-sub004/logger"
	"github.com/robertclapp/accessai-sub004/notify"
	"github.com/robertclapp/accessai-sub004/pulse/schedule"
)

const metricsNamespace = "accessai"

// app holds the wired components every command works through
type app struct {
	cfg         *am.Config
	ledger      *schedule.ExecutionStore
	states      *schedule.Store
	experiments *experiment.Store
	service     *experiment.Service
	scheduler   *schedule.Scheduler
}

type appOptions struct {
	registry prometheus.Registerer // nil disables metrics
	enqueuer experiment.Enqueuer   // where winner notifications go
}

// newApp builds the stores, services and scheduler and registers the built-in jobs
func newApp(ctx context.Context, cfg *am.Config, database *sql.DB, opts appOptions) (*app, error) {
	a := &app{
		cfg:         cfg,
		ledger:      schedule.NewExecutionStore(database),
		states:      schedule.NewStore(database),
		experiments: experiment.NewStore(database),
	}

	a.service = experiment.NewService(a.experiments, experiment.Defaults{
		ConfidenceLevel: cfg.Experiments.DefaultConfidenceLevel,
		MinSampleSize:   cfg.Experiments.DefaultMinSampleSize,
	}, logger.Logger)

	var schedOpts []schedule.Option
	var expMetrics *experiment.Metrics
	if opts.registry != nil {
		schedOpts = append(schedOpts, schedule.WithMetrics(schedule.NewMetrics(metricsNamespace, opts.registry)))
		expMetrics = experiment.NewMetrics(metricsNamespace, opts.registry)
	}

	a.scheduler = schedule.New(a.ledger, a.states, schedule.Config{
		JobTimeout:      cfg.Scheduler.JobTimeout(),
		RetentionPerJob: cfg.Scheduler.RetentionPerJob,
	}, logger.Logger, schedOpts...)

	ac := experiment.NewAutoCompleter(a.experiments, opts.enqueuer, expMetrics, logger.Logger)
	jobs := []schedule.Job{
		ac.Job(overrideSchedule(cfg, experiment.AutoCompleteJobID), true),
		schedule.CleanupJob(a.ledger, cfg.Scheduler.RetentionMaxAge(), overrideSchedule(cfg, schedule.CleanupJobID)),
	}
	for _, job := range jobs {
		if err := a.scheduler.Register(ctx, job); err != nil {
			return nil, errors.Wrapf(err, "failed to register job %s", job.ID)
		}
	}

	if err := applyEnabledOverrides(ctx, a.scheduler, cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func overrideSchedule(cfg *am.Config, jobID string) string {
	if o, ok := cfg.Scheduler.Override(jobID); ok {
		return o.Schedule
	}
	return ""
}

// applyEnabledOverrides pushes configured enabled flags into the scheduler.
// Config wins over persisted admin toggles; jobs without an override keep theirs.
func applyEnabledOverrides(ctx context.Context, s *schedule.Scheduler, cfg *am.Config) error {
	var errs error
	for _, o := range cfg.Scheduler.Jobs {
		if o.Enabled == nil {
			continue
		}
		if err := s.SetEnabled(ctx, o.ID, *o.Enabled); err != nil {
			if errors.IsNotFoundError(err) {
				logger.Warnw("Config override for unknown job", logger.FieldJobID, o.ID)
				continue
			}
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// newNotifier returns the log notifier, fanned out to Telegram when configured
func newNotifier(cfg *am.Config, log *zap.SugaredLogger) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.Notify.Telegram.Enabled() {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatIDs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create telegram notifier")
		}
		notifiers = append(notifiers, tg)
	}
	return notifiers, nil
}

// inlineEnqueuer delivers immediately. One-shot commands use it instead of a
// dispatcher because they exit before a background queue would drain.
type inlineEnqueuer struct {
	notifier notify.Notifier
}

func (e inlineEnqueuer) Enqueue(n notify.Notification) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.notifier.Notify(ctx, n); err != nil {
		logger.Errorw("Notification delivery failed",
			logger.FieldExperimentID, n.ExperimentID,
			logger.FieldError, err)
		return false
	}
	return true
}

// withApp loads config, opens the database and builds the app for a one-shot command
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	notifier, err := newNotifier(cfg, logger.Logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, database, appOptions{enqueuer: inlineEnqueuer{notifier: notifier}})
	if err != nil {
		return err
	}
	return fn(a)
}
