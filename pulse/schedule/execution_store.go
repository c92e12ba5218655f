package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/robertclapp/accessai-sub004/db"
	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/internal/util"
)

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// ExecutionStore is the execution ledger: an append-mostly table of job runs.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `
	id, job_id, job_name, status,
	started_at, completed_at, duration_ms,
	items_processed, items_successful, items_failed,
	error_message, result_summary`

// Append inserts a new record. Only running records (a run that just started) and
// skipped records (a trigger that found the job busy) may be appended.
func (s *ExecutionStore) Append(ctx context.Context, exec *Execution) error {
	if exec.Status != ExecutionStatusRunning && exec.Status != ExecutionStatusSkipped {
		return errors.NewInvalidRequestError("cannot append execution %s with status %s", exec.ID, exec.Status)
	}

	query := `INSERT INTO job_executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var durationMs interface{}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.JobID,
		exec.JobName,
		string(exec.Status),
		db.FormatTime(exec.StartedAt),
		db.NullableTime(exec.CompletedAt),
		durationMs,
		exec.ItemsProcessed,
		exec.ItemsSuccessful,
		exec.ItemsFailed,
		nullableString(exec.ErrorMessage),
		nullableString(exec.ResultSummary),
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to append execution")
	}
	return nil
}

// Finalize moves a running record to its terminal status.
// The WHERE clause makes the running -> terminal transition happen at most once.
func (s *ExecutionStore) Finalize(ctx context.Context, exec *Execution) error {
	if !exec.Status.IsTerminal() {
		return errors.NewInvalidRequestError("cannot finalize execution %s with status %s", exec.ID, exec.Status)
	}

	query := `
		UPDATE job_executions
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    items_processed = ?,
		    items_successful = ?,
		    items_failed = ?,
		    error_message = ?,
		    result_summary = ?
		WHERE id = ? AND status = ?
	`

	var durationMs interface{}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}

	result, err := s.db.ExecContext(ctx, query,
		string(exec.Status),
		db.NullableTime(exec.CompletedAt),
		durationMs,
		exec.ItemsProcessed,
		exec.ItemsSuccessful,
		exec.ItemsFailed,
		nullableString(exec.ErrorMessage),
		nullableString(exec.ResultSummary),
		exec.ID,
		string(ExecutionStatusRunning),
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to finalize execution")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		if _, getErr := s.Get(ctx, exec.ID); getErr != nil {
			return getErr
		}
		return errors.NewInvalidStateError("execution %s already finalized", exec.ID)
	}

	return nil
}

// Get retrieves an execution by ID
func (s *ExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE id = ?`

	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("execution %s", id)
		}
		return nil, errors.WrapPersistence(err, "failed to get execution")
	}
	return exec, nil
}

// Query returns executions newest first, plus the total number matching the filter
func (s *ExecutionStore) Query(ctx context.Context, filter HistoryFilter) ([]*Execution, int, error) {
	where, args := historyWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_executions"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.WrapPersistence(err, "failed to count executions")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	offset := util.ClampNonNegative(filter.Offset)

	query := `SELECT ` + executionColumns + ` FROM job_executions` + where +
		` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.WrapPersistence(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, errors.WrapPersistence(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.WrapPersistence(err, "error iterating executions")
	}

	return executions, total, nil
}

// Stats aggregates finished runs. With no records every figure is zero and LastRunAt is nil.
func (s *ExecutionStore) Stats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	where, args := historyWhere(HistoryFilter{JobID: filter.JobID, Since: filter.Since})

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status IN ('success', 'failure') THEN duration_ms END),
			MAX(CASE WHEN status != 'skipped' THEN started_at END)
		FROM job_executions` + where

	var stats Stats
	var avgDuration sql.NullFloat64
	var lastRun sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.SuccessCount,
		&stats.FailureCount,
		&stats.SkippedCount,
		&avgDuration,
		&lastRun,
	)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to aggregate executions")
	}

	stats.TotalRuns = stats.SuccessCount + stats.FailureCount
	stats.SuccessRate = util.Percent(stats.SuccessCount, stats.TotalRuns)
	if avgDuration.Valid {
		stats.AvgDurationMs = avgDuration.Float64
	}
	if lastRun.Valid {
		t, err := db.ParseTime(lastRun.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last run time %q", lastRun.String)
		}
		stats.LastRunAt = &t
	}

	return &stats, nil
}

// CountRunning returns how many records for a job are still running
func (s *ExecutionStore) CountRunning(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM job_executions WHERE job_id = ? AND status = ?",
		jobID, string(ExecutionStatusRunning),
	).Scan(&n)
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to count running executions")
	}
	return n, nil
}

// TrimJob keeps the newest `keep` finished records for a job and deletes the rest.
// Running records are never trimmed. Returns the number of records deleted.
func (s *ExecutionStore) TrimJob(ctx context.Context, jobID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	query := `
		DELETE FROM job_executions
		WHERE job_id = ?
		  AND status != 'running'
		  AND id NOT IN (
			SELECT id FROM job_executions
			WHERE job_id = ?
			ORDER BY started_at DESC, rowid DESC
			LIMIT ?
		  )
	`
	result, err := s.db.ExecContext(ctx, query, jobID, jobID, keep)
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to trim executions")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to get rows affected")
	}
	return int(deleted), nil
}

// CleanupOlderThan deletes finished records that started before cutoff.
// Returns the number of executions deleted.
func (s *ExecutionStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM job_executions WHERE started_at < ? AND status != 'running'",
		db.FormatTime(cutoff),
	)
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to cleanup old executions")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to get rows affected")
	}
	return int(deleted), nil
}

// AbandonRunning finalizes records left running by a process that exited mid-run.
// Called once at startup, before the scheduler ticks. Each record's duration runs up to
// now. Returns the number of records closed.
func (s *ExecutionStore) AbandonRunning(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, started_at FROM job_executions WHERE status = 'running'`)
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to list running executions")
	}
	type stale struct {
		id         string
		durationMs int64
	}
	var found []stale
	for rows.Next() {
		var id, startedAt string
		if err := rows.Scan(&id, &startedAt); err != nil {
			rows.Close()
			return 0, errors.WrapPersistence(err, "failed to scan running execution")
		}
		var ms int64
		if started, err := db.ParseTime(startedAt); err == nil && now.After(started) {
			ms = now.Sub(started).Milliseconds()
		}
		found = append(found, stale{id: id, durationMs: ms})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to list running executions")
	}

	closed := 0
	for _, r := range found {
		result, err := tx.ExecContext(ctx, `
			UPDATE job_executions
			SET status = 'failure',
			    completed_at = ?,
			    duration_ms = ?,
			    error_message = 'abandoned: process exited before the run finished'
			WHERE id = ? AND status = 'running'`,
			db.FormatTime(now), r.durationMs, r.id,
		)
		if err != nil {
			return 0, errors.WrapPersistence(err, "failed to close abandoned execution")
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, errors.WrapPersistence(err, "failed to get rows affected")
		}
		closed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.WrapPersistence(err, "failed to commit abandoned executions")
	}
	return closed, nil
}

func historyWhere(filter HistoryFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.JobID != "" {
		clauses = append(clauses, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, db.FormatTime(*filter.Since))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var status, startedAt string
	var completedAt, errorMessage, resultSummary sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&exec.JobName,
		&status,
		&startedAt,
		&completedAt,
		&durationMs,
		&exec.ItemsProcessed,
		&exec.ItemsSuccessful,
		&exec.ItemsFailed,
		&errorMessage,
		&resultSummary,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = ExecutionStatus(status)
	if exec.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	if completedAt.Valid {
		t, err := db.ParseTime(completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed_at for execution %s", exec.ID)
		}
		exec.CompletedAt = &t
	}
	if durationMs.Valid {
		exec.DurationMs = &durationMs.Int64
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}
	if resultSummary.Valid {
		exec.ResultSummary = &resultSummary.String
	}

	return &exec, nil
}
