package logger

import (
	"context"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"
)

// NewSlogLogger returns a JSON logger on w, mostly for tests. A nil w
// discards output and a nil tz means UTC.
func NewSlogLogger(w io.Writer, level Level, tz *time.Location) Logger {
	if w == nil {
		w = io.Discard
	}
	if tz == nil {
		tz = time.UTC
	}
	l := levelOf(string(level))
	return &moduleLogger{handler: newJSONHandler(w, l, tz), level: l}
}

type moduleLogger struct {
	module  string
	handler slog.Handler
	level   slog.Level
	fields  []Field
}

func (m *moduleLogger) derive(module string, fields []Field) *moduleLogger {
	return &moduleLogger{module: module, handler: m.handler, level: m.level, fields: fields}
}

func (m *moduleLogger) Module(name string) Logger {
	if m.module != "" {
		name = m.module + "." + name
	}
	return m.derive(name, slices.Clone(m.fields))
}

func (m *moduleLogger) With(fields ...Field) Logger {
	return m.derive(m.module, slices.Concat(m.fields, fields))
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	fields := FieldsFrom(ctx)
	if len(fields) == 0 {
		return m
	}
	return m.With(fields...)
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.emit(slogTrace, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.emit(slog.LevelError, msg, fields) }

// Flush is a no-op; the CentralLogger owns the file.
func (m *moduleLogger) Flush() error { return nil }

func (m *moduleLogger) emit(level slog.Level, msg string, fields []Field) {
	if level < m.level || !m.handler.Enabled(context.Background(), level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	if m.module != "" {
		r.AddAttrs(slog.String(moduleKey, m.module))
	}
	for _, f := range m.fields {
		r.AddAttrs(attr(f))
	}
	for _, f := range fields {
		r.AddAttrs(attr(f))
	}
	_ = m.handler.Handle(context.Background(), r)
}

func attr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case time.Duration:
		// slog renders durations as nanoseconds in JSON.
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}
