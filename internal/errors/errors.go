// Package errors wraps errors with a component, a category and context
// values, and forwards them to the installed telemetry reporter.
//
//	return errors.New(err).
//		Component("capture").
//		Category(errors.CategoryCaptureSource).
//		Context("device", dev).
//		Build()
//
// The standard library helpers are re-exported so callers need a single
// import.
package errors

import (
	stderrors "errors"
	"maps"
	"sync/atomic"
	"time"
)

// EnhancedError is an error with gordon-go metadata. It is immutable once
// built, apart from the reported flag.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }
func (ee *EnhancedError) Unwrap() error { return ee.Err }

// ErrorCategory implements CategorizedError.
func (ee *EnhancedError) ErrorCategory() ErrorCategory { return ee.Category }

// Is reports a match for another EnhancedError of the same category, or for
// anything in the wrapped chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the context values.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen the error.
func (ee *EnhancedError) MarkReported() { ee.reported.Store(true) }

// IsReported reports whether telemetry has seen the error.
func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

func NewStd(text string) error      { return stderrors.New(text) }
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error        { return stderrors.Unwrap(err) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }
