package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CategoryMetrics contains all Prometheus metrics related to the category store.
type CategoryMetrics struct {
	Entries       *prometheus.GaugeVec
	Routed        *prometheus.CounterVec
	Evictions     *prometheus.CounterVec
	StorageErrors *prometheus.CounterVec
}

// NewCategoryMetrics creates and registers category store metrics.
func NewCategoryMetrics(registry prometheus.Registerer) (*CategoryMetrics, error) {
	m := &CategoryMetrics{
		Entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gordon_category_entries",
			Help: "Current number of stored entries per label",
		}, []string{"label"}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gordon_category_routed_total",
			Help: "Routing decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gordon_category_evictions_total",
			Help: "Entries evicted to keep a label within its cap",
		}, []string{"label"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gordon_category_storage_errors_total",
			Help: "Blob storage failures by operation",
		}, []string{"operation"}),
	}

	if err := register(registry, m.Entries, m.Routed, m.Evictions, m.StorageErrors); err != nil {
		return nil, fmt.Errorf("failed to register category metrics: %w", err)
	}
	return m, nil
}

// SetEntries sets the entry count for label.
func (m *CategoryMetrics) SetEntries(label string, count int) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(label).Set(float64(count))
}

// RecordRouted counts a routing decision. reason is empty for accepted entries.
func (m *CategoryMetrics) RecordRouted(outcome, reason string) {
	if m == nil {
		return
	}
	m.Routed.WithLabelValues(outcome, reason).Inc()
}

// RecordEvictions counts n evictions for label.
func (m *CategoryMetrics) RecordEvictions(label string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Evictions.WithLabelValues(label).Add(float64(n))
}

// RecordStorageError counts a failed blob operation.
func (m *CategoryMetrics) RecordStorageError(operation string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(operation).Inc()
}
