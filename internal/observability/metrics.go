// Package observability provides the Prometheus registry and metrics handler
// shared by the gordon-go components.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Capture    *metrics.CaptureMetrics
	Classifier *metrics.ClassifierMetrics
	Category   *metrics.CategoryMetrics
	Session    *metrics.SessionMetrics
	MQTT       *metrics.MQTTMetrics
	Datastore  *metrics.DatastoreMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry,
// including the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	m := &Metrics{registry: registry}
	var err error

	if m.Capture, err = metrics.NewCaptureMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create capture metrics: %w", err)
	}
	if m.Classifier, err = metrics.NewClassifierMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create classifier metrics: %w", err)
	}
	if m.Category, err = metrics.NewCategoryMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create category metrics: %w", err)
	}
	if m.Session, err = metrics.NewSessionMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create session metrics: %w", err)
	}
	if m.MQTT, err = metrics.NewMQTTMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	if m.Datastore, err = metrics.NewDatastoreMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLog{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promErrorLog routes promhttp errors to the module logger.
type promErrorLog struct{}

func (promErrorLog) Println(v ...any) {
	GetLogger().Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}

// GetLogger returns the observability module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("observability")
}
