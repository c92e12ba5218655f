package experiment

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/robertclapp/accessai-sub004/db"
	"github.com/robertclapp/accessai-sub004/errors"
)

// ErrStaleTransition is returned when a compare-and-set finds the experiment no
// longer in the expected status: another transition committed first.
var ErrStaleTransition = errors.Mark(errors.New("stale status transition"), errors.ErrConflict)

// Store persists experiments and variants. Every status change is a compare-and-set
// on the current status, so concurrent transitions cannot both apply.
type Store struct {
	db *sql.DB
}

// NewStore creates a new experiment store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new draft experiment
func (s *Store) Create(ctx context.Context, exp *Experiment) error {
	if exp.Status != StatusDraft {
		return errors.NewInvalidStateError("new experiments must be draft, got %s", exp.Status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiments (id, name, template_type, status, confidence_level, min_sample_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exp.ID,
		exp.Name,
		exp.TemplateType,
		string(exp.Status),
		exp.ConfidenceLevel,
		exp.MinSampleSize,
		db.FormatTime(exp.CreatedAt),
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to create experiment")
	}
	return nil
}

const experimentWithVariantsQuery = `
	SELECT e.id, e.name, e.template_type, e.status, e.confidence_level, e.min_sample_size,
	       e.winning_variant_id, e.created_at, e.started_at, e.completed_at,
	       v.id, v.position, v.label, v.subject, v.weight,
	       v.sent_count, v.opened_count, v.clicked_count, v.created_at
	FROM experiments e
	LEFT JOIN experiment_variants v ON v.experiment_id = e.id`

// Get returns an experiment with its variants ordered by position.
// Experiment and counters come from one query, so they are mutually consistent.
func (s *Store) Get(ctx context.Context, id string) (*Experiment, error) {
	exps, err := s.query(ctx, experimentWithVariantsQuery+` WHERE e.id = ? ORDER BY v.position`, id)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to get experiment")
	}
	if len(exps) == 0 {
		return nil, errors.NewNotFoundError("experiment %s", id)
	}
	return exps[0], nil
}

// List returns experiments oldest first, filtered by status when status is non-empty
func (s *Store) List(ctx context.Context, status Status) ([]*Experiment, error) {
	query := experimentWithVariantsQuery + ` WHERE (? = '' OR e.status = ?) ORDER BY e.created_at, e.id, v.position`
	exps, err := s.query(ctx, query, string(status), string(status))
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to list experiments")
	}
	return exps, nil
}

// ListRunning returns every running experiment with its variants
func (s *Store) ListRunning(ctx context.Context) ([]*Experiment, error) {
	return s.List(ctx, StatusRunning)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []*Experiment
	var current *Experiment
	for rows.Next() {
		exp, variant, err := scanExperimentRow(rows)
		if err != nil {
			return nil, err
		}
		if current == nil || current.ID != exp.ID {
			current = exp
			exps = append(exps, current)
		}
		if variant != nil {
			current.Variants = append(current.Variants, *variant)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return exps, nil
}

// AddVariant attaches a variant to a draft experiment. The insert is guarded by
// the experiment's status in the same statement, so it cannot race a start.
func (s *Store) AddVariant(ctx context.Context, v *Variant) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_variants (id, experiment_id, position, label, subject, weight, created_at)
		SELECT ?, e.id,
		       (SELECT COALESCE(MAX(position) + 1, 0) FROM experiment_variants WHERE experiment_id = e.id),
		       ?, ?, ?, ?
		FROM experiments e
		WHERE e.id = ? AND e.status = 'draft'`,
		v.ID,
		v.Label,
		v.Subject,
		v.Weight,
		db.FormatTime(v.CreatedAt),
		v.ExperimentID,
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to add variant")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to check rows affected")
	}
	if n == 0 {
		exp, err := s.Get(ctx, v.ExperimentID)
		if err != nil {
			return err
		}
		return errors.NewInvalidStateError("cannot add variant to %s experiment %s", exp.Status, exp.ID)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT position FROM experiment_variants WHERE id = ?", v.ID,
	).Scan(&v.Position); err != nil {
		return errors.WrapPersistence(err, "failed to read variant position")
	}
	return nil
}

// Start moves a draft experiment to running. It requires at least two variants,
// checked in the same statement as the status.
func (s *Store) Start(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE experiments
		SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'draft'
		  AND (SELECT COUNT(*) FROM experiment_variants WHERE experiment_id = experiments.id) >= 2`,
		db.FormatTime(at), id,
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to start experiment")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to check rows affected")
	}
	if n > 0 {
		return nil
	}

	exp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status != StatusDraft {
		return errors.NewInvalidStateError("cannot start %s experiment %s", exp.Status, id)
	}
	return errors.WithHint(
		errors.NewInvalidStateError("experiment %s needs at least 2 variants to start, has %d", id, len(exp.Variants)),
		"add variants with: accessai experiment add-variant",
	)
}

// Transition moves an experiment from expected to next if and only if it is still
// in expected. Completion goes through Complete, which also records the winner.
func (s *Store) Transition(ctx context.Context, id string, expected, next Status, at time.Time) error {
	if !expected.CanTransitionTo(next) {
		return errors.NewInvalidStateError("illegal transition %s -> %s", expected, next)
	}
	if next == StatusCompleted {
		return errors.NewInvalidRequestError("completion requires a winner, use Complete")
	}

	var query string
	switch next {
	case StatusRunning:
		query = `UPDATE experiments SET status = ?, started_at = ? WHERE id = ? AND status = ?`
	default:
		query = `UPDATE experiments SET status = ?, completed_at = ? WHERE id = ? AND status = ?`
	}

	result, err := s.db.ExecContext(ctx, query, string(next), db.FormatTime(at), id, string(expected))
	if err != nil {
		return errors.WrapPersistence(err, "failed to transition experiment")
	}
	return s.checkTransition(ctx, result, id, expected, next)
}

// Complete moves a running experiment to completed with the given winning variant
func (s *Store) Complete(ctx context.Context, id, winnerID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE experiments
		SET status = 'completed', winning_variant_id = ?, completed_at = ?
		WHERE id = ? AND status = 'running'
		  AND EXISTS (SELECT 1 FROM experiment_variants v WHERE v.id = ? AND v.experiment_id = experiments.id)`,
		winnerID, db.FormatTime(at), id, winnerID,
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to complete experiment")
	}
	return s.checkTransition(ctx, result, id, StatusRunning, StatusCompleted)
}

func (s *Store) checkTransition(ctx context.Context, result sql.Result, id string, expected, next Status) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to check rows affected")
	}
	if n > 0 {
		return nil
	}

	exp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status != expected {
		return errors.Wrapf(ErrStaleTransition, "experiment %s is %s, not %s", id, exp.Status, expected)
	}
	// Still in expected status: only Complete has a further guard
	return errors.NewInvalidRequestError("winning variant is not part of experiment %s", id)
}

// IncrementVariantCounters adds non-negative deltas to a variant's counters.
// Counters only move while the experiment is running, and opened <= sent,
// clicked <= opened must hold afterwards.
func (s *Store) IncrementVariantCounters(ctx context.Context, variantID string, sent, opened, clicked int) error {
	if sent < 0 || opened < 0 || clicked < 0 {
		return errors.NewInvalidRequestError("counter deltas must be non-negative")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE experiment_variants
		SET sent_count = sent_count + ?,
		    opened_count = opened_count + ?,
		    clicked_count = clicked_count + ?
		WHERE id = ?
		  AND EXISTS (SELECT 1 FROM experiments e WHERE e.id = experiment_variants.experiment_id AND e.status = 'running')`,
		sent, opened, clicked, variantID,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return errors.NewInvalidRequestError("counters for variant %s would break opened <= sent or clicked <= opened", variantID)
		}
		return errors.WrapPersistence(err, "failed to increment variant counters")
	}

	n, err := result.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to check rows affected")
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `
		SELECT e.status FROM experiment_variants v
		JOIN experiments e ON e.id = v.experiment_id
		WHERE v.id = ?`, variantID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError("variant %s", variantID)
	}
	if err != nil {
		return errors.WrapPersistence(err, "failed to look up variant")
	}
	return errors.NewInvalidStateError("counters only change while running, experiment is %s", status)
}

// GetVariant returns a single variant
func (s *Store) GetVariant(ctx context.Context, id string) (*Variant, error) {
	var v Variant
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, experiment_id, position, label, subject, weight,
		       sent_count, opened_count, clicked_count, created_at
		FROM experiment_variants WHERE id = ?`, id,
	).Scan(&v.ID, &v.ExperimentID, &v.Position, &v.Label, &v.Subject, &v.Weight,
		&v.SentCount, &v.OpenedCount, &v.ClickedCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("variant %s", id)
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to get variant")
	}
	if v.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for variant %s", id)
	}
	return &v, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperimentRow(row rowScanner) (*Experiment, *Variant, error) {
	var exp Experiment
	var status, createdAt string
	var winner, startedAt, completedAt sql.NullString

	var vID, vLabel, vSubject, vCreatedAt sql.NullString
	var vPosition, vSent, vOpened, vClicked sql.NullInt64
	var vWeight sql.NullFloat64

	if err := row.Scan(
		&exp.ID, &exp.Name, &exp.TemplateType, &status, &exp.ConfidenceLevel, &exp.MinSampleSize,
		&winner, &createdAt, &startedAt, &completedAt,
		&vID, &vPosition, &vLabel, &vSubject, &vWeight,
		&vSent, &vOpened, &vClicked, &vCreatedAt,
	); err != nil {
		return nil, nil, err
	}

	exp.Status = Status(status)
	var err error
	if exp.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse created_at for experiment %s", exp.ID)
	}
	if winner.Valid {
		exp.WinningVariantID = &winner.String
	}
	if exp.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse started_at for experiment %s", exp.ID)
	}
	if exp.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse completed_at for experiment %s", exp.ID)
	}

	if !vID.Valid {
		return &exp, nil, nil
	}
	v := &Variant{
		ID:           vID.String,
		ExperimentID: exp.ID,
		Position:     int(vPosition.Int64),
		Label:        vLabel.String,
		Subject:      vSubject.String,
		Weight:       vWeight.Float64,
		SentCount:    int(vSent.Int64),
		OpenedCount:  int(vOpened.Int64),
		ClickedCount: int(vClicked.Int64),
	}
	if v.CreatedAt, err = db.ParseTime(vCreatedAt.String); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse created_at for variant %s", v.ID)
	}
	return &exp, v, nil
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := db.ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
