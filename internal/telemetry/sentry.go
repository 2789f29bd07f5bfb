// Package telemetry initializes opt-in error reporting to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

const flushTimeout = 2 * time.Second

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry initializes the Sentry SDK and installs the error reporter.
// It returns false without error when telemetry is disabled.
func InitSentry(settings *conf.Settings, release string) (bool, error) {
	if !settings.Sentry.Enabled {
		GetLogger().Debug("sentry telemetry is disabled")
		return false, nil
	}
	if settings.Sentry.DSN == "" {
		return false, errors.Newf("sentry is enabled but no dsn is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("gordon-go@%s", release),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return false, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	GetLogger().Info("sentry telemetry enabled", logger.String("release", release))
	return true, nil
}

// Flush waits briefly for buffered events to be delivered.
func Flush() {
	if r := errors.GetTelemetryReporter(); r == nil || !r.IsEnabled() {
		return
	}
	if !sentry.Flush(flushTimeout) {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", flushTimeout))
	}
}

// applyPrivacyFilters strips host identification and unlisted extras.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = errors.ScrubMessage(event.Message)

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
