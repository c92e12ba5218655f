package commands

import (
	"database/sql"

	"github.com/robertclapp/accessai-sub004/am"
	"github.com/robertclapp/accessai-sub004/db"
	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
)

// databasePath resolves the database path from DB_PATH or am config
func databasePath() (string, error) {
	path, err := am.GetDatabasePath()
	if err != nil {
		return "", errors.Wrap(err, "failed to get database path")
	}
	return path, nil
}

// openDatabase opens and migrates the configured database
func openDatabase() (*sql.DB, error) {
	dbPath, err := databasePath()
	if err != nil {
		return nil, err
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
