// Package classifier turns captured frames into label predictions through an
// external vision capability.
//
// The Gateway owns retries, backoff, rate limiting and strict normalization of
// the capability's free-form reply. It never touches the category store.
package classifier

import (
	"context"
	"time"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

// IrrelevantLabel is the label assigned to frames that show nothing of interest
// and to replies that could not be understood.
const IrrelevantLabel = "irrelevant"

// ErrPermanent marks capability failures that another attempt cannot fix,
// such as rejected credentials or an invalid request.
var ErrPermanent = errors.NewStd("permanent classifier failure")

// Classifier is the external classification capability. It returns the raw
// model reply, which may wrap the JSON payload in extra text.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeType string) ([]byte, error)
}

// Frame is a single captured image.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
	MIMEType   string
}

// Prediction is a normalized classification.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Irrelevant returns the prediction used for unusable replies.
func Irrelevant() Prediction {
	return Prediction{Label: IrrelevantLabel}
}

// ErrorKind tells why a classification produced no prediction.
type ErrorKind int

const (
	// ErrorNone means the result carries a prediction.
	ErrorNone ErrorKind = iota
	// ErrorTransient means every attempt failed with a retryable error.
	ErrorTransient
	// ErrorPermanent means the capability rejected the request.
	ErrorPermanent
	// ErrorCancelled means the caller's context ended first.
	ErrorCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is either a prediction (Kind == ErrorNone) or a failure.
type Result struct {
	Prediction Prediction
	Kind       ErrorKind
	Err        error
	Attempts   int
	// Malformed is set when the reply could not be normalized and the
	// prediction fell back to irrelevant.
	Malformed bool
}

// OK reports whether r carries a prediction.
func (r Result) OK() bool {
	return r.Kind == ErrorNone
}

// GetLogger returns the classifier module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("classifier")
}
