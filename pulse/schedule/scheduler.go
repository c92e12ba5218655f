package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/internal/util"
	"github.com/robertclapp/accessai-sub004/logger"
)

// Ledger is the execution record store the scheduler writes to.
// ExecutionStore is the production implementation.
type Ledger interface {
	Append(ctx context.Context, exec *Execution) error
	Finalize(ctx context.Context, exec *Execution) error
	Query(ctx context.Context, filter HistoryFilter) ([]*Execution, int, error)
	Stats(ctx context.Context, filter StatsFilter) (*Stats, error)
	TrimJob(ctx context.Context, jobID string, keep int) (int, error)
}

// StateStore persists admin toggles and run timing across restarts
type StateStore interface {
	GetJobState(ctx context.Context, id string) (*JobState, error)
	UpsertJobState(ctx context.Context, state *JobState) error
}

// Config contains scheduler-wide settings
type Config struct {
	JobTimeout      time.Duration // upper bound on one run; 0 disables the bound
	RetentionPerJob int           // finished records kept per job; 0 keeps everything
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		JobTimeout:      10 * time.Minute,
		RetentionPerJob: 500,
	}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now, for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics attaches prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Outcome is the result of one trigger.
// Err carries the job body's failure; it is already recorded in Execution.
type Outcome struct {
	Execution *Execution
	Skipped   bool
	Err       error
}

// Scheduler owns the job registry and enforces single-flight execution per job id.
type Scheduler struct {
	ledger  Ledger
	states  StateStore
	cfg     Config
	now     func() time.Time
	metrics *Metrics
	log     *zap.SugaredLogger

	mu   sync.RWMutex
	jobs map[string]*entry

	wg sync.WaitGroup
}

// New creates a scheduler. states may be nil, in which case nothing survives a restart.
func New(ledger Ledger, states StateStore, cfg Config, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.Logger
	}
	s := &Scheduler{
		ledger: ledger,
		states: states,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.AddSchedulerSymbol(log),
		jobs:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job to the registry. Persisted state for the same id (enabled flag,
// last and next run) is restored; a changed schedule recomputes the next run.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.NewInvalidRequestError("job id is required")
	}
	if job.Fn == nil {
		return errors.NewInvalidRequestError("job %s has no body", job.ID)
	}
	if job.Name == "" {
		job.Name = job.ID
	}
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return errors.Wrapf(err, "job %s", job.ID)
	}

	now := s.now()
	next := sched.Next(now)
	e := &entry{
		job:       job,
		sched:     sched,
		enabled:   job.Enabled,
		nextRunAt: &next,
	}

	if s.states != nil {
		state, err := s.states.GetJobState(ctx, job.ID)
		switch {
		case errors.IsNotFoundError(err):
		case err != nil:
			return errors.Wrapf(err, "failed to restore state for job %s", job.ID)
		default:
			e.enabled = state.Enabled
			e.lastRunAt = copyTime(state.LastRunAt)
			if state.Schedule == job.Schedule && state.NextRunAt != nil {
				e.nextRunAt = copyTime(state.NextRunAt)
			}
		}
	}

	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrDuplicateJob, "job %s already registered", job.ID)
	}
	s.jobs[job.ID] = e
	s.mu.Unlock()

	s.persistState(ctx, e)

	s.log.Debugw("Job registered",
		logger.FieldJobID, job.ID,
		"schedule", job.Schedule,
		"enabled", e.enabled,
		"next_run_at", e.nextRunAt)
	return nil
}

func (s *Scheduler) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	return e, nil
}

func (s *Scheduler) sortedEntries() []*entry {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].job.ID < entries[j].job.ID })
	return entries
}

// Tick starts every enabled job whose next run is at or before now and that is not
// already running. Runs proceed in the background; Tick returns the ids it started.
// A job that is still running is not queued again: it will be considered on a later tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var started []string

	for _, e := range s.sortedEntries() {
		if !e.due(now) {
			continue
		}
		if !e.running.CompareAndSwap(false, true) {
			s.metrics.triggerSkipped(e.job.ID)
			s.log.Debugw("Job still running, not starting another run", logger.FieldJobID, e.job.ID)
			continue
		}
		// A manual run may have finished between due() and the swap and moved nextRunAt
		if !e.due(now) {
			e.running.Store(false)
			continue
		}

		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.execute(ctx, e)
		}(e)
		started = append(started, e.job.ID)
	}

	return started
}

// Wait blocks until every run started by Tick or RunManually has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunManually runs a job now and waits for it. A job that is already running is not
// started again: a skipped record is written and the outcome is marked Skipped.
// Disabled jobs can still be run manually.
func (s *Scheduler) RunManually(ctx context.Context, id string) (*Outcome, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	if !e.running.CompareAndSwap(false, true) {
		s.metrics.triggerSkipped(id)
		return &Outcome{Execution: s.recordSkipped(ctx, e), Skipped: true}, nil
	}

	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(ctx, e), nil
}

func (s *Scheduler) recordSkipped(ctx context.Context, e *entry) *Execution {
	now := s.now()
	exec := &Execution{
		ID:            uuid.NewString(),
		JobID:         e.job.ID,
		JobName:       e.job.Name,
		Status:        ExecutionStatusSkipped,
		StartedAt:     now,
		CompletedAt:   &now,
		DurationMs:    util.Ptr(int64(0)),
		ResultSummary: util.Ptr("skipped: already running"),
	}
	if err := s.ledger.Append(ctx, exec); err != nil {
		s.log.Errorw("Failed to record skipped trigger",
			logger.FieldJobID, e.job.ID,
			logger.FieldError, err)
	}
	s.log.Infow("Manual trigger skipped, job already running", logger.FieldJobID, e.job.ID)
	return exec
}

// execute performs one run. The caller must hold the entry's running flag;
// execute always releases it.
func (s *Scheduler) execute(ctx context.Context, e *entry) (out *Outcome) {
	startedAt := s.now()
	exec := &Execution{
		ID:        uuid.NewString(),
		JobID:     e.job.ID,
		JobName:   e.job.Name,
		Status:    ExecutionStatusRunning,
		StartedAt: startedAt,
	}

	e.mu.Lock()
	e.lastRunAt = &startedAt
	e.mu.Unlock()

	s.metrics.runStarted(e.job.ID)
	s.log.Infow("Job started",
		logger.FieldJobID, e.job.ID,
		logger.FieldExecutionID, exec.ID)

	appended := true
	if err := s.ledger.Append(ctx, exec); err != nil {
		appended = false
		s.log.Errorw("Failed to open execution record",
			logger.FieldJobID, e.job.ID,
			logger.FieldExecutionID, exec.ID,
			logger.FieldError, err)
	}
	s.persistState(ctx, e)

	var result JobResult
	var runErr error
	var bodyDone <-chan struct{}

	defer func() {
		if r := recover(); r != nil {
			runErr = errors.Wrapf(errors.ErrJobExecution, "panic: %v", r)
		}
		s.finalize(context.WithoutCancel(ctx), e, exec, result, runErr, appended, bodyDone == nil)
		if bodyDone != nil {
			s.releaseWhenDone(e, exec, bodyDone)
		}
		out = &Outcome{Execution: exec, Err: runErr}
	}()

	result, bodyDone, runErr = s.invoke(ctx, e, exec)
	return nil
}

type runResult struct {
	result JobResult
	err    error
}

// invoke runs the job body under the run timeout. A body that outlives the timeout is
// abandoned: the run is recorded as failed, and the returned channel closes when the
// body finally returns. It is nil when the body has already returned.
func (s *Scheduler) invoke(ctx context.Context, e *entry, exec *Execution) (JobResult, <-chan struct{}, error) {
	timeout := e.job.Timeout
	if timeout == 0 {
		timeout = s.cfg.JobTimeout
	}

	runCtx := logger.WithExecutionID(logger.WithJobID(ctx, e.job.ID), exec.ID)
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()

	done := make(chan runResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: errors.Wrapf(errors.ErrJobExecution, "panic: %v", r)}
			}
		}()
		res, err := e.job.Fn(runCtx)
		done <- runResult{result: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.result, nil, errors.Mark(r.err, errors.ErrJobExecution)
		}
		return r.result, nil, nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			s.log.Warnw("Job abandoned, scheduler context cancelled",
				logger.FieldJobID, e.job.ID,
				logger.FieldExecutionID, exec.ID)
			return JobResult{}, finished, errors.Wrap(ctx.Err(), "run cancelled")
		}
		s.log.Warnw("Job exceeded its timeout, abandoning body",
			logger.FieldJobID, e.job.ID,
			logger.FieldExecutionID, exec.ID,
			"timeout", timeout)
		return JobResult{}, finished, errors.Wrapf(errors.ErrTimeout, "job %s timed out after %s", e.job.ID, timeout)
	}
}

// stuckWarnAfter is how long an abandoned body may keep its job blocked before
// it is logged as stuck
const stuckWarnAfter = 5 * time.Minute

// releaseWhenDone keeps the job's running flag held until an abandoned body returns,
// so no second body of the same job can start while the first is still executing.
func (s *Scheduler) releaseWhenDone(e *entry, exec *Execution, bodyDone <-chan struct{}) {
	go func() {
		stuck := time.NewTimer(stuckWarnAfter)
		defer stuck.Stop()

		select {
		case <-bodyDone:
		case <-stuck.C:
			s.log.Errorw("Abandoned job body still running, job stays blocked",
				logger.FieldJobID, e.job.ID,
				logger.FieldExecutionID, exec.ID,
				"blocked_for", stuckWarnAfter)
			<-bodyDone
		}

		e.running.Store(false)
		s.persistState(context.Background(), e)
		s.log.Infow("Abandoned job body returned, job released",
			logger.FieldJobID, e.job.ID,
			logger.FieldExecutionID, exec.ID)
	}()
}

// finalize closes the execution record, trims the ledger and reschedules the job.
// It runs on every exit path of execute. The running flag is released here unless
// the body was abandoned and still holds it.
func (s *Scheduler) finalize(ctx context.Context, e *entry, exec *Execution, result JobResult, runErr error, appended, release bool) {
	completedAt := s.now()
	duration := completedAt.Sub(exec.StartedAt)
	if duration < 0 {
		duration = 0
	}

	result = result.normalize()
	exec.CompletedAt = &completedAt
	exec.DurationMs = util.Ptr(duration.Milliseconds())
	exec.ItemsProcessed = result.ItemsProcessed
	exec.ItemsSuccessful = result.ItemsSuccessful
	exec.ItemsFailed = result.ItemsFailed
	if result.Summary != "" {
		exec.ResultSummary = util.Ptr(result.Summary)
	}
	if runErr != nil {
		exec.Status = ExecutionStatusFailure
		exec.ErrorMessage = util.Ptr(runErr.Error())
	} else {
		exec.Status = ExecutionStatusSuccess
	}

	if appended {
		if err := s.ledger.Finalize(ctx, exec); err != nil {
			s.log.Errorw("Failed to finalize execution record",
				logger.FieldJobID, e.job.ID,
				logger.FieldExecutionID, exec.ID,
				logger.FieldError, err)
		}
		if s.cfg.RetentionPerJob > 0 {
			if n, err := s.ledger.TrimJob(ctx, e.job.ID, s.cfg.RetentionPerJob); err != nil {
				s.log.Warnw("Failed to trim execution history",
					logger.FieldJobID, e.job.ID,
					logger.FieldError, err)
			} else if n > 0 {
				s.log.Debugw("Trimmed execution history", logger.FieldJobID, e.job.ID, "deleted", n)
			}
		}
	}

	next := e.sched.Next(completedAt)
	e.mu.Lock()
	e.nextRunAt = &next
	e.mu.Unlock()

	if release {
		e.running.Store(false)
	}
	s.metrics.runFinished(e.job.ID, exec.Status, duration)
	s.persistState(ctx, e)

	fields := []interface{}{
		logger.FieldJobID, e.job.ID,
		logger.FieldExecutionID, exec.ID,
		logger.FieldStatus, exec.Status,
		logger.FieldDurationMS, *exec.DurationMs,
		"items", fmt.Sprintf("%d/%d/%d", exec.ItemsProcessed, exec.ItemsSuccessful, exec.ItemsFailed),
		"next_run_at", next,
	}
	if runErr != nil {
		s.log.Errorw("Job failed", append(fields, logger.FieldError, runErr)...)
		return
	}
	s.log.Infow("Job finished", fields...)
}

func (s *Scheduler) persistState(ctx context.Context, e *entry) {
	if s.states == nil {
		return
	}
	if err := s.states.UpsertJobState(ctx, e.state(s.now())); err != nil {
		s.log.Warnw("Failed to persist job state",
			logger.FieldJobID, e.job.ID,
			logger.FieldError, err)
	}
}

// SetEnabled toggles scheduling for a job. It is idempotent, and disabling a running
// job does not interrupt the run in flight. Enabling recomputes the next run from now.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.enabled == enabled {
		e.mu.Unlock()
		return nil
	}
	e.enabled = enabled
	if enabled {
		next := e.sched.Next(s.now())
		e.nextRunAt = &next
	}
	e.mu.Unlock()

	s.log.Infow("Job toggled", logger.FieldJobID, id, "enabled", enabled)

	if s.states != nil {
		if err := s.states.UpsertJobState(ctx, e.state(s.now())); err != nil {
			return errors.Wrapf(err, "failed to persist enabled flag for job %s", id)
		}
	}
	return nil
}

// Status returns a snapshot of every registered job, ordered by id
func (s *Scheduler) Status() []JobStatus {
	entries := s.sortedEntries()
	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// StatusOf returns the snapshot of a single job
func (s *Scheduler) StatusOf(id string) (JobStatus, error) {
	e, err := s.lookup(id)
	if err != nil {
		return JobStatus{}, err
	}
	return e.snapshot(), nil
}

// NextDue returns the enabled job with the earliest next run, or nil when none is enabled
func (s *Scheduler) NextDue() *JobStatus {
	var next *JobStatus
	for _, st := range s.Status() {
		if !st.Enabled || st.NextRunAt == nil {
			continue
		}
		if next == nil || st.NextRunAt.Before(*next.NextRunAt) {
			next = &st
		}
	}
	return next
}

// History returns ledger records newest first, plus the total matching the filter
func (s *Scheduler) History(ctx context.Context, filter HistoryFilter) ([]*Execution, int, error) {
	return s.ledger.Query(ctx, filter)
}

// Stats aggregates the ledger
func (s *Scheduler) Stats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	return s.ledger.Stats(ctx, filter)
}
