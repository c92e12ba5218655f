// Package schedule provides the job scheduler: a static registry of named jobs with
// cron schedules, single-flight execution, and an auditable execution ledger.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/robertclapp/accessai-sub004/internal/util"
)

// JobFunc is the body of a scheduled job. It reports how many items it touched;
// a returned error marks the run as failed.
type JobFunc func(ctx context.Context) (JobResult, error)

// JobResult is what a job body reports back to the ledger.
type JobResult struct {
	ItemsProcessed  int
	ItemsSuccessful int
	ItemsFailed     int
	Summary         string
}

// normalize enforces ItemsSuccessful + ItemsFailed <= ItemsProcessed on whatever a body reported.
func (r JobResult) normalize() JobResult {
	r.ItemsProcessed = util.ClampNonNegative(r.ItemsProcessed)
	r.ItemsSuccessful = util.ClampNonNegative(r.ItemsSuccessful)
	r.ItemsFailed = util.ClampNonNegative(r.ItemsFailed)
	if sum := r.ItemsSuccessful + r.ItemsFailed; sum > r.ItemsProcessed {
		r.ItemsProcessed = sum
	}
	return r
}

// Job is a registry entry. Jobs are registered at process start and never removed.
type Job struct {
	ID       string // stable identifier, e.g. "experiments.autocomplete"
	Name     string // display name
	Schedule string // cron expression or descriptor (@hourly, @every 5m)
	Enabled  bool
	Fn       JobFunc

	// Timeout overrides the scheduler-wide run timeout when non-zero
	Timeout time.Duration
}

// JobStatus is a read-only snapshot of one registry entry
type JobStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Enabled   bool       `json:"enabled"`
	Running   bool       `json:"running"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// entry is the live registry record for a job.
// running is the single-flight flag: only a successful CompareAndSwap(false, true) may start a run.
type entry struct {
	job     Job
	sched   cron.Schedule
	running atomic.Bool

	mu        sync.Mutex
	enabled   bool
	lastRunAt *time.Time
	nextRunAt *time.Time
}

// due reports whether the entry is enabled and its next run is at or before now
func (e *entry) due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled && e.nextRunAt != nil && !e.nextRunAt.After(now)
}

func (e *entry) snapshot() JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return JobStatus{
		ID:        e.job.ID,
		Name:      e.job.Name,
		Schedule:  e.job.Schedule,
		Enabled:   e.enabled,
		Running:   e.running.Load(),
		LastRunAt: copyTime(e.lastRunAt),
		NextRunAt: copyTime(e.nextRunAt),
	}
}

func (e *entry) state(now time.Time) *JobState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &JobState{
		ID:        e.job.ID,
		Name:      e.job.Name,
		Schedule:  e.job.Schedule,
		Enabled:   e.enabled,
		Running:   e.running.Load(),
		LastRunAt: copyTime(e.lastRunAt),
		NextRunAt: copyTime(e.nextRunAt),
		UpdatedAt: now,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
