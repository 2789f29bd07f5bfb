// Package metrics provides custom Prometheus metrics for the gordon-go components.
//
// Every metrics struct is safe to use through a nil pointer so components can
// run without a registry in tests and one-shot commands.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame outcomes recorded by the capture pipeline.
const (
	FrameAccepted  = "accepted"
	FrameDiscarded = "discarded"
	FrameDropped   = "dropped"
	FrameFailed    = "failed"
)

// CaptureMetrics contains all Prometheus metrics related to frame capture.
type CaptureMetrics struct {
	Running        prometheus.Gauge
	FramesCaptured prometheus.Counter
	FrameOutcomes  *prometheus.CounterVec
	ReadFailures   prometheus.Counter
	Reacquires     prometheus.Counter
	FatalStops     prometheus.Counter
	FrameSize      prometheus.Histogram
}

// NewCaptureMetrics creates and registers capture metrics.
func NewCaptureMetrics(registry prometheus.Registerer) (*CaptureMetrics, error) {
	m := &CaptureMetrics{
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gordon_capture_running",
			Help: "1 while the capture loop is running",
		}),
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_capture_frames_total",
			Help: "Total number of frames read from the source",
		}),
		FrameOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gordon_capture_frame_outcomes_total",
			Help: "Frames by pipeline outcome",
		}, []string{"outcome"}),
		ReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_capture_read_failures_total",
			Help: "Total number of failed frame reads",
		}),
		Reacquires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_capture_reacquires_total",
			Help: "Total number of source reacquire attempts",
		}),
		FatalStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gordon_capture_fatal_stops_total",
			Help: "Times the capture loop gave up on its source",
		}),
		FrameSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gordon_capture_frame_size_bytes",
			Help:    "Size of captured frames in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
		}),
	}

	if err := register(registry, m.Running, m.FramesCaptured, m.FrameOutcomes,
		m.ReadFailures, m.Reacquires, m.FatalStops, m.FrameSize); err != nil {
		return nil, fmt.Errorf("failed to register capture metrics: %w", err)
	}
	return m, nil
}

// SetRunning updates the running gauge.
func (m *CaptureMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// ObserveFrame records a successfully read frame.
func (m *CaptureMetrics) ObserveFrame(size int) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	m.FrameSize.Observe(float64(size))
}

// RecordOutcome counts a frame by its pipeline outcome.
func (m *CaptureMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.FrameOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReadFailure counts a failed read.
func (m *CaptureMetrics) RecordReadFailure() {
	if m == nil {
		return
	}
	m.ReadFailures.Inc()
}

// RecordReacquire counts a reacquire attempt.
func (m *CaptureMetrics) RecordReacquire() {
	if m == nil {
		return
	}
	m.Reacquires.Inc()
}

// RecordFatal counts a loop exit caused by an exhausted source.
func (m *CaptureMetrics) RecordFatal() {
	if m == nil {
		return
	}
	m.FatalStops.Inc()
}

// register registers collectors, stopping at the first failure.
func register(registry prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
