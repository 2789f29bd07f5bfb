package errors

import (
	"fmt"
	"time"
)

// ComponentUnknown is used when Component was not called.
const ComponentUnknown = "unknown"

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an EnhancedError around err.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = NewStd("unknown error")
	}
	return &ErrorBuilder{err: err}
}

// Newf starts an EnhancedError with a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a value. Strings are scrubbed before they reach telemetry.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 2)
	}
	eb.context[key] = value
	return eb
}

// Build returns the error and reports it when telemetry is active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Component == "" {
		ee.Component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = inheritedCategory(eb.err)
	}
	if hasActiveReporting.Load() {
		reportToTelemetry(ee)
	}
	return ee
}

func inheritedCategory(err error) ErrorCategory {
	var ce CategorizedError
	if As(err, &ce) && ce.ErrorCategory() != "" {
		return ce.ErrorCategory()
	}
	return CategoryGeneric
}
