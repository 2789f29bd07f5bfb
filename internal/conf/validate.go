// validate.go: settings validation
package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/tphakala/gordon-go/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory implements errors.CategorizedError
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateCaptureSettings(&settings.Capture)...)
	ve.Errors = append(ve.Errors, validateClassifierSettings(&settings.Classifier)...)
	ve.Errors = append(ve.Errors, validateCategorySettings(&settings.Categories, settings.Classifier.Labels)...)
	ve.Errors = append(ve.Errors, validateNarrationSettings(&settings.Narration)...)
	ve.Errors = append(ve.Errors, validateOutputSettings(&settings.Output)...)

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		ve.Errors = append(ve.Errors, "mqtt.broker is required when mqtt is enabled")
	}
	if settings.Notify.Enabled && len(settings.Notify.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notify.urls is required when notifications are enabled")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateCaptureSettings(s *CaptureSettings) []string {
	var errs []string
	if s.Interval <= 0 {
		errs = append(errs, "capture.interval must be positive")
	}
	if s.MaxReacquireRetries < 0 {
		errs = append(errs, "capture.maxreacquireretries must not be negative")
	}
	if s.ReacquireDelay < 0 {
		errs = append(errs, "capture.reacquiredelay must not be negative")
	}
	switch s.Source {
	case "ffmpeg":
		if s.Device == "" {
			errs = append(errs, "capture.device is required for the ffmpeg source")
		}
		if s.FrameRate <= 0 {
			errs = append(errs, "capture.framerate must be positive")
		}
	case "snapshot":
		if u, err := url.Parse(s.SnapshotURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "capture.snapshoturl must be an absolute url for the snapshot source")
		}
	default:
		errs = append(errs, fmt.Sprintf("capture.source %q is not supported (ffmpeg, snapshot)", s.Source))
	}
	return errs
}

func validateClassifierSettings(s *ClassifierSettings) []string {
	var errs []string
	if s.AcceptThreshold < 0 || s.AcceptThreshold > 1 {
		errs = append(errs, "classifier.acceptthreshold must be between 0 and 1")
	}
	if s.MaxRetries < 1 {
		errs = append(errs, "classifier.maxretries must be at least 1")
	}
	if len(s.Labels) == 0 {
		errs = append(errs, "classifier.labels must not be empty")
	}
	for i, label := range s.Labels {
		s.Labels[i] = strings.ToLower(strings.TrimSpace(label))
		if s.Labels[i] == "" || s.Labels[i] == "irrelevant" || strings.ContainsAny(s.Labels[i], `/\.`) {
			errs = append(errs, fmt.Sprintf("classifier.labels contains invalid label %q", label))
		}
	}
	if s.RateLimit < 0 {
		errs = append(errs, "classifier.ratelimit must not be negative")
	}
	return errs
}

func validateCategorySettings(s *CategorySettings, labels []string) []string {
	var errs []string
	if s.Path == "" {
		errs = append(errs, "categories.path is required")
	}
	if s.MaxEntries < 1 {
		errs = append(errs, "categories.maxentries must be at least 1")
	}
	for label, n := range s.Overrides {
		if !slices.Contains(labels, label) {
			errs = append(errs, fmt.Sprintf("categories.overrides references unknown label %q", label))
		}
		if n < 1 {
			errs = append(errs, fmt.Sprintf("categories.overrides.%s must be at least 1", label))
		}
	}
	return errs
}

func validateNarrationSettings(s *NarrationSettings) []string {
	var errs []string
	if !s.Enabled {
		return nil
	}
	if s.VoiceID == "" {
		errs = append(errs, "narration.voiceid is required when narration is enabled")
	}
	if s.SampleRate <= 0 {
		errs = append(errs, "narration.samplerate must be positive")
	}
	return errs
}

func validateOutputSettings(s *OutputSettings) []string {
	var errs []string
	if s.SQLite.Enabled && s.MySQL.Enabled {
		errs = append(errs, "only one of output.sqlite and output.mysql can be enabled")
	}
	if s.SQLite.Enabled && s.SQLite.Path == "" {
		errs = append(errs, "output.sqlite.path is required")
	}
	if s.MySQL.Enabled && (s.MySQL.Host == "" || s.MySQL.Database == "") {
		errs = append(errs, "output.mysql.host and output.mysql.database are required")
	}
	return errs
}
