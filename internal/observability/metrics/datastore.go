package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Datastore operations.
const (
	OpDbInsert = "db_insert"
	OpDbUpdate = "db_update"
	OpDbQuery  = "db_query"
)

// DatastoreMetrics contains metrics for database operations.
type DatastoreMetrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewDatastoreMetrics creates and registers datastore metrics.
func NewDatastoreMetrics(registry prometheus.Registerer) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gordon_datastore_operations_total",
			Help: "Database operations by type and status",
		}, []string{"operation", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gordon_datastore_operation_duration_seconds",
			Help:    "Database operation duration",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation"}),
	}

	if err := register(registry, m.Operations, m.Duration); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

// RecordOperation records one database operation.
func (m *DatastoreMetrics) RecordOperation(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	m.Duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
