package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "scheduled_jobs", "job_executions", "experiments", "experiment_variants"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist after migrations", table)
	}
}

func TestMigrate(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations multiple times should be safe")

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 4, count)
	})

	t.Run("fails on closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})

	t.Run("schema enforces counter invariants", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO experiments (id, name, template_type, status, confidence_level, min_sample_size, created_at)
			VALUES ('e1', 'subject test', 'newsletter', 'draft', 95, 100, '2026-01-01T00:00:00Z')`)
		require.NoError(t, err)

		_, err = db.Exec(`INSERT INTO experiment_variants (id, experiment_id, position, label, weight, sent_count, opened_count, created_at)
			VALUES ('v1', 'e1', 0, 'A', 1, 10, 11, '2026-01-01T00:00:00Z')`)
		assert.Error(t, err, "opened_count above sent_count must be rejected")

		_, err = db.Exec(`UPDATE experiments SET status = 'completed' WHERE id = 'e1'`)
		assert.Error(t, err, "completed without a winner must be rejected")
	})
}
