package datastore

import (
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

// SQLiteStore implements Interface on a local SQLite file.
type SQLiteStore struct {
	DataStore
	Path string
}

// Open opens the database file, creating it and its directory as needed.
func (store *SQLiteStore) Open() error {
	if store.Path == "" {
		return errors.Newf("sqlite path is not configured").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if store.log == nil {
		store.log = GetLogger()
	}
	if dir := filepath.Dir(store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	// WAL and a busy timeout let the API read while the pipeline writes.
	dsn := store.Path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), store.gormConfig())
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", "sqlite").
			Context("path", store.Path).
			Build()
	}

	store.DB = db
	store.retryable = isSQLiteBusy
	store.log.Debug("sqlite database opened", logger.String("path", store.Path))
	return store.migrate("sqlite")
}

// isSQLiteBusy reports lock contention, which is worth retrying.
func isSQLiteBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
