package schedule

import "time"

// ExecutionStatus is the lifecycle state of one job run
type ExecutionStatus string

// Execution status constants. A record starts as running and moves to exactly one
// terminal status; skipped records are written already terminal.
const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailure ExecutionStatus = "failure"
	ExecutionStatusSkipped ExecutionStatus = "skipped"
)

// IsTerminal reports whether the status can no longer change
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailure, ExecutionStatusSkipped:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known status
func (s ExecutionStatus) IsValid() bool {
	return s == ExecutionStatusRunning || s.IsTerminal()
}

// Execution represents a single run of a scheduled job.
//
// Each time a job runs, an Execution record is opened with status running and
// finalized with the outcome, timing, item counts, and an error message or
// result summary. Finalized records are immutable.
type Execution struct {
	// Identity
	ID      string `json:"id"`
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`

	Status ExecutionStatus `json:"status"`

	// Timing
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"` // nil while running
	DurationMs  *int64     `json:"duration_ms,omitempty"`  // nil while running

	// Item accounting reported by the job body
	ItemsProcessed  int `json:"items_processed"`
	ItemsSuccessful int `json:"items_successful"`
	ItemsFailed     int `json:"items_failed"`

	// Output
	ErrorMessage  *string `json:"error_message,omitempty"`
	ResultSummary *string `json:"result_summary,omitempty"`
}

// HistoryFilter narrows a ledger query. Zero values mean "no filter".
type HistoryFilter struct {
	JobID  string
	Status ExecutionStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// DefaultHistoryLimit caps history queries that do not set a limit
const DefaultHistoryLimit = 50

// StatsFilter narrows a stats query. Zero values mean "all jobs, all time".
type StatsFilter struct {
	JobID string
	Since *time.Time
}

// Stats aggregates the ledger.
// TotalRuns counts finished runs (success + failure); skipped triggers are counted separately.
type Stats struct {
	TotalRuns     int        `json:"total_runs"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	SkippedCount  int        `json:"skipped_count"`
	SuccessRate   float64    `json:"success_rate"`    // percent, 0 when there are no runs
	AvgDurationMs float64    `json:"avg_duration_ms"` // over finished runs, 0 when there are none
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
}
