package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Classification results recorded by the gateway.
const (
	ResultOK        = "ok"
	ResultTransient = "transient"
	ResultPermanent = "permanent"
	ResultCancelled = "cancelled"
)

// ClassifierMetrics contains all Prometheus metrics related to the
// classification gateway.
type ClassifierMetrics struct {
	Requests   *prometheus.CounterVec
	Attempts   prometheus.Counter
	Retries    prometheus.Counter
	Malformed  prometheus.Counter
	Latency    prometheus.Histogram
	Confidence *prometheus.HistogramVec
}

// NewClassifierMetrics creates and registers classifier metrics.
func NewClassifierMetrics(registry prometheus.Registerer) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gordon_classifier_requests_total",
			Help: "Classification requests by final result",
		}, []string{"result"}),
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_classifier_attempts_total",
			Help: "Total number of calls made to the classification capability",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_classifier_retries_total",
			Help: "Total number of retried calls",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_classifier_malformed_total",
			Help: "Responses that could not be normalized into a prediction",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gordon_classifier_latency_seconds",
			Help:    "End to end classification latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gordon_classifier_confidence",
			Help:    "Confidence of normalized predictions by label",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"label"}),
	}

	if err := register(registry, m.Requests, m.Attempts, m.Retries, m.Malformed, m.Latency, m.Confidence); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

// RecordAttempt counts a capability call; retry is true for every call after the first.
func (m *ClassifierMetrics) RecordAttempt(retry bool) {
	if m == nil {
		return
	}
	m.Attempts.Inc()
	if retry {
		m.Retries.Inc()
	}
}

// RecordResult counts a finished classification and its latency.
func (m *ClassifierMetrics) RecordResult(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(result).Inc()
	m.Latency.Observe(elapsed.Seconds())
}

// RecordPrediction observes the confidence of a normalized prediction.
func (m *ClassifierMetrics) RecordPrediction(label string, confidence float64) {
	if m == nil {
		return
	}
	m.Confidence.WithLabelValues(label).Observe(confidence)
}

// RecordMalformed counts a payload that failed normalization.
func (m *ClassifierMetrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.Malformed.Inc()
}
