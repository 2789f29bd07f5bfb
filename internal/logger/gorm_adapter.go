package logger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/gordon-go/internal/errors"
)

// GormLoggerAdapter lets GORM write through a module Logger. Statements
// are TRACE, so SQL shows up only when the datastore module is set to
// trace. Slow statements and failures are WARN.
type GormLoggerAdapter struct {
	log  Logger
	slow time.Duration
}

// NewGormLoggerAdapter returns an adapter; slow of zero never warns about
// statement duration.
func NewGormLoggerAdapter(log Logger, slow time.Duration) *GormLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LevelInfo, nil)
	}
	return &GormLoggerAdapter{log: log, slow: slow}
}

// LogMode is a no-op; module levels decide verbosity.
func (a *GormLoggerAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return a }

func (a *GormLoggerAdapter) Info(ctx context.Context, msg string, args ...any) {
	a.log.WithContext(ctx).Debug(fmt.Sprintf(msg, args...))
}

func (a *GormLoggerAdapter) Warn(ctx context.Context, msg string, args ...any) {
	a.log.WithContext(ctx).Warn(fmt.Sprintf(msg, args...))
}

func (a *GormLoggerAdapter) Error(ctx context.Context, msg string, args ...any) {
	a.log.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
}

// Trace logs one executed statement.
func (a *GormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	stmt, rows := fc()
	log := a.log.WithContext(ctx).With(
		String("sql", stmt),
		Int64("rows", rows),
		Duration("elapsed", elapsed))

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		log.Warn("query error", Error(err))
	case a.slow > 0 && elapsed > a.slow:
		log.Warn("slow query", Duration("threshold", a.slow))
	default:
		log.Trace("sql query")
	}
}
