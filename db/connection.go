// Package db opens the SQLite database that backs the job registry state,
// the execution ledger and the experiment store, and applies schema migrations.
package db

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked database before failing.
const SQLiteBusyTimeoutMS = 5000

// dsn builds a go-sqlite3 connection string. Pragmas are passed as DSN parameters
// so every pooled connection gets them, not only the first one.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprintf("%d", SQLiteBusyTimeoutMS))
	return "file:" + path + "?" + q.Encode()
}

// Open opens a SQLite database at the specified path with WAL, foreign keys and a busy timeout.
// If log is provided, logs database operations; otherwise operates silently.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		log = logger.AddDBSymbol(log)
		log.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	if log != nil {
		log.Infow("Database opened successfully",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies all pending migrations.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}
