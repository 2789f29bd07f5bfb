package errors

// ErrorCategory groups errors for status mapping and telemetry.
type ErrorCategory string

// CategorizedError is implemented by errors that know their category.
// Build inherits it from a wrapped error when none is set.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryDatabase      ErrorCategory = "database"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"

	CategoryCaptureSource     ErrorCategory = "capture-source"     // video source open and read
	CategoryCommandExecution  ErrorCategory = "command-execution"  // ffmpeg process
	CategoryClassifier        ErrorCategory = "classifier"         // classification provider
	CategoryMalformedResponse ErrorCategory = "malformed-response" // provider reply did not parse
	CategoryStorage           ErrorCategory = "category-storage"   // frame blobs on disk
	CategoryNarration         ErrorCategory = "narration"          // synthesis and playback
	CategoryGeneration        ErrorCategory = "quote-generation"

	CategoryMQTTConnection ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish    ErrorCategory = "mqtt-publish"
	CategoryNotification   ErrorCategory = "notification"
)

// Transient reports whether errors of category c are expected to clear up
// on their own.
func (c ErrorCategory) Transient() bool {
	switch c {
	case CategoryNetwork, CategoryHTTP, CategoryTimeout, CategoryClassifier,
		CategoryNarration, CategoryMQTTConnection, CategoryMQTTPublish:
		return true
	}
	return false
}

// IsCategory reports whether err wraps an EnhancedError of category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}

// IsNotFound is IsCategory(err, CategoryNotFound).
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
