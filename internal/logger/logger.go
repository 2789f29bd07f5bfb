// Package logger is the structured logging layer of gordon-go, built on
// log/slog.
//
// Every package asks the process-wide CentralLogger for a module logger and
// attaches typed fields:
//
//	log := logger.Global().Module("capture")
//	log.Info("frame handled", logger.String("name", name), logger.Int("bytes", n))
//
// Fields placed on a context with ContextWith follow the work across
// packages; a logger picks them up through WithContext. Console output is
// plain text, file output is JSON.
package logger

import (
	"context"
	"time"
	"unique"
)

// Level is a log severity name as used in configuration.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger is implemented by module loggers.
type Logger interface {
	// Module returns a child logger; names nest with dots.
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every record.
	With(fields ...Field) Logger
	// WithContext returns a logger that adds the fields stored on ctx.
	WithContext(ctx context.Context) Logger

	Flush() error
}

// Field is a key/value pair attached to a record.
type Field struct {
	Key   string
	Value any
}

// Keys repeat across millions of records, so they are interned.
func field(key string, value any) Field {
	return Field{Key: unique.Make(key).Value(), Value: value}
}

var (
	errorKey  = unique.Make("error").Value()
	moduleKey = unique.Make("module").Value()
)

func String(key, value string) Field                 { return field(key, value) }
func Int(key string, value int) Field                { return field(key, value) }
func Int64(key string, value int64) Field            { return field(key, value) }
func Bool(key string, value bool) Field              { return field(key, value) }
func Time(key string, value time.Time) Field         { return field(key, value) }
func Any(key string, value any) Field                { return field(key, value) }
func Duration(key string, value time.Duration) Field { return field(key, value) }

// Float64 values are rounded to three decimals on output.
func Float64(key string, value float64) Field { return field(key, value) }

// Error always uses the key "error".
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey}
	}
	return Field{Key: errorKey, Value: err.Error()}
}
