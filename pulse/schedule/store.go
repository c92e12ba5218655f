package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/robertclapp/accessai-sub004/db"
	"github.com/robertclapp/accessai-sub004/errors"
)

// JobState is the persisted runtime state of a registered job.
// The registry itself is code; only admin toggles and timing survive a restart.
type JobState struct {
	ID        string
	Name      string
	Schedule  string
	Enabled   bool
	Running   bool
	LastRunAt *time.Time
	NextRunAt *time.Time
	UpdatedAt time.Time
}

// Store handles persistence of job state
type Store struct {
	db *sql.DB
}

// NewStore creates a new job state store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetJobState retrieves the persisted state for a job id
func (s *Store) GetJobState(ctx context.Context, id string) (*JobState, error) {
	query := `
		SELECT id, name, schedule, enabled, running, last_run_at, next_run_at, updated_at
		FROM scheduled_jobs
		WHERE id = ?
	`
	state, err := scanJobState(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("job state %s", id)
		}
		return nil, errors.WrapPersistence(err, "failed to get job state")
	}
	return state, nil
}

// ListJobStates returns all persisted job states ordered by id
func (s *Store) ListJobStates(ctx context.Context) ([]*JobState, error) {
	query := `
		SELECT id, name, schedule, enabled, running, last_run_at, next_run_at, updated_at
		FROM scheduled_jobs
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to list job states")
	}
	defer rows.Close()

	var states []*JobState
	for rows.Next() {
		state, err := scanJobState(rows)
		if err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan job state")
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapPersistence(err, "error iterating job states")
	}
	return states, nil
}

// UpsertJobState inserts or replaces the state row for a job
func (s *Store) UpsertJobState(ctx context.Context, state *JobState) error {
	query := `
		INSERT INTO scheduled_jobs (id, name, schedule, enabled, running, last_run_at, next_run_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			enabled = excluded.enabled,
			running = excluded.running,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		state.ID,
		state.Name,
		state.Schedule,
		boolToInt(state.Enabled),
		boolToInt(state.Running),
		db.NullableTime(state.LastRunAt),
		db.NullableTime(state.NextRunAt),
		db.FormatTime(updatedAt),
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to upsert job state")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanJobState(row rowScanner) (*JobState, error) {
	var state JobState
	var enabled, running int
	var lastRunAt, nextRunAt sql.NullString
	var updatedAt string

	if err := row.Scan(
		&state.ID,
		&state.Name,
		&state.Schedule,
		&enabled,
		&running,
		&lastRunAt,
		&nextRunAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	state.Enabled = enabled != 0
	state.Running = running != 0

	var err error
	if state.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", state.ID)
	}
	if lastRunAt.Valid {
		t, err := db.ParseTime(lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_run_at for job %s", state.ID)
		}
		state.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := db.ParseTime(nextRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_run_at for job %s", state.ID)
		}
		state.NextRunAt = &t
	}

	return &state, nil
}
