package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics contains metrics for session playback and narration.
type SessionMetrics struct {
	Active            prometheus.Gauge
	Started           prometheus.Counter
	Stopped           prometheus.Counter
	NarrationsFired   prometheus.Counter
	NarrationFailures prometheus.Counter
	NarrationLatency  prometheus.Histogram
}

// NewSessionMetrics creates and registers session metrics.
func NewSessionMetrics(registry prometheus.Registerer) (*SessionMetrics, error) {
	m := &SessionMetrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gordon_sessions_active",
			Help: "Number of sessions currently playing",
		}),
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		Stopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_sessions_stopped_total",
			Help: "Total number of sessions stopped before their last event",
		}),
		NarrationsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_narrations_total",
			Help: "Total number of narration lines spoken",
		}),
		NarrationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_narration_failures_total",
			Help: "Total number of narration lines that failed",
		}),
		NarrationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gordon_narration_duration_seconds",
			Help:    "Time spent synthesizing and playing one line",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}

	if err := register(registry, m.Active, m.Started, m.Stopped,
		m.NarrationsFired, m.NarrationFailures, m.NarrationLatency); err != nil {
		return nil, fmt.Errorf("failed to register session metrics: %w", err)
	}
	return m, nil
}

// SessionStarted counts a started session.
func (m *SessionMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.Started.Inc()
	m.Active.Inc()
}

// SessionEnded records a session leaving the active set.
func (m *SessionMetrics) SessionEnded(stopped bool) {
	if m == nil {
		return
	}
	m.Active.Dec()
	if stopped {
		m.Stopped.Inc()
	}
}

// RecordNarration records a narration attempt.
func (m *SessionMetrics) RecordNarration(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.NarrationLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.NarrationFailures.Inc()
		return
	}
	m.NarrationsFired.Inc()
}
