// Package datastore persists routing outcomes and session summaries with
// GORM on SQLite or MySQL.
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

const slowQueryThreshold = 200 * time.Millisecond

// Interface abstracts the underlying database.
type Interface interface {
	Open() error
	Close() error
	SaveObservation(ctx context.Context, o *Observation) error
	RecentObservations(ctx context.Context, limit int) ([]Observation, error)
	AcceptedByLabel(ctx context.Context, since time.Time) ([]LabelCount, error)
	SaveSession(ctx context.Context, r *SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
}

// Option configures a store.
type Option func(*DataStore)

// WithMetrics sets datastore metrics.
func WithMetrics(m *metrics.DatastoreMetrics) Option {
	return func(ds *DataStore) { ds.metrics = m }
}

// WithLogger sets the datastore logger.
func WithLogger(l logger.Logger) Option {
	return func(ds *DataStore) { ds.log = l }
}

// DataStore implements the queries shared by every backend.
type DataStore struct {
	DB      *gorm.DB
	log     logger.Logger
	metrics *metrics.DatastoreMetrics

	// retryable reports whether a failed write may be retried.
	retryable func(error) bool
}

// New returns the store selected in settings, or nil when persistence is
// disabled.
func New(settings *conf.Settings, opts ...Option) Interface {
	base := DataStore{log: GetLogger()}
	for _, opt := range opts {
		opt(&base)
	}
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: base, Path: settings.Output.SQLite.Path}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: base, Settings: settings.Output.MySQL}
	default:
		return nil
	}
}

func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.NewGormLoggerAdapter(ds.log.Module("sql"), slowQueryThreshold)}
}

// migrate creates or updates the schema.
func (ds *DataStore) migrate(dbType string) error {
	if err := ds.DB.AutoMigrate(&Observation{}, &SessionRecord{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	ds.log.Info("database ready", logger.String("db_type", dbType))
	return nil
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return ds.dbError(err, "get_sql_db")
	}
	if err := sqlDB.Close(); err != nil {
		return ds.dbError(err, "close")
	}
	return nil
}

// SaveObservation inserts o.
func (ds *DataStore) SaveObservation(ctx context.Context, o *Observation) error {
	return ds.write(ctx, metrics.OpDbInsert, "save_observation", func(db *gorm.DB) error {
		return db.Create(o).Error
	})
}

// RecentObservations returns up to limit observations, newest first.
func (ds *DataStore) RecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	var out []Observation
	err := ds.query(ctx, "recent_observations", func(db *gorm.DB) error {
		return db.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	})
	return out, err
}

// AcceptedByLabel counts accepted observations per label since the given time.
func (ds *DataStore) AcceptedByLabel(ctx context.Context, since time.Time) ([]LabelCount, error) {
	var out []LabelCount
	err := ds.query(ctx, "accepted_by_label", func(db *gorm.DB) error {
		return db.Model(&Observation{}).
			Select("label, COUNT(*) AS count").
			Where("outcome = ? AND created_at >= ?", "accepted", since).
			Group("label").
			Order("label").
			Scan(&out).Error
	})
	return out, err
}

// SaveSession inserts r.
func (ds *DataStore) SaveSession(ctx context.Context, r *SessionRecord) error {
	return ds.write(ctx, metrics.OpDbInsert, "save_session", func(db *gorm.DB) error {
		return db.Create(r).Error
	})
}

// RecentSessions returns up to limit session records, newest first.
func (ds *DataStore) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	var out []SessionRecord
	err := ds.query(ctx, "recent_sessions", func(db *gorm.DB) error {
		return db.Order("ended_at DESC, id DESC").Limit(limit).Find(&out).Error
	})
	return out, err
}

const maxWriteAttempts = 3

func (ds *DataStore) write(ctx context.Context, op, name string, fn func(*gorm.DB) error) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Context("operation", name).
			Build()
	}

	started := time.Now()
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = fn(ds.DB.WithContext(ctx))
		if err == nil || ds.retryable == nil || !ds.retryable(err) || ctx.Err() != nil {
			break
		}
		ds.log.Debug("database busy, retrying write",
			logger.String("operation", name),
			logger.Int("attempt", attempt))
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	ds.metrics.RecordOperation(op, time.Since(started), err)
	if err != nil {
		return ds.dbError(err, name)
	}
	return nil
}

func (ds *DataStore) query(ctx context.Context, name string, fn func(*gorm.DB) error) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Context("operation", name).
			Build()
	}
	started := time.Now()
	err := fn(ds.DB.WithContext(ctx))
	ds.metrics.RecordOperation(metrics.OpDbQuery, time.Since(started), err)
	if err != nil {
		return ds.dbError(err, name)
	}
	return nil
}

func (ds *DataStore) dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}
