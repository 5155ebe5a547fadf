package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.DatastoreSettings
	Debug    bool
}

// Open creates the database file if needed and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.SQLite.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("db_type", "sqlite").
			Build()
	}

	store.DB = db
	GetLogger().Info("sqlite datastore opened", logger.String("path", path))
	return performAutoMigration(db, store.Debug, "SQLite", path)
}

// Close closes the database connection.
func (store *SQLiteStore) Close() error {
	return store.closeDB()
}
