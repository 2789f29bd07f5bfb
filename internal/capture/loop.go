// Package capture reads frames from a video source at a fixed cadence and
// hands them to a FrameHandler.
//
// A failed read triggers an immediate reacquire of the source. The loop gives
// up with ErrSourceExhausted once the reacquire budget is spent without a
// successful read; cancellation is a clean stop.
package capture

import (
	"context"
	"time"

	"github.com/tphakala/gordon-go/internal/classifier"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// maxReacquireDelay caps the doubling reacquire delay.
const maxReacquireDelay = 30 * time.Second

// ErrSourceExhausted is returned by Run when the source could not be
// reacquired within the configured budget.
var ErrSourceExhausted = errors.NewStd("capture source exhausted")

// Frame is a captured image.
type Frame = classifier.Frame

// Source opens a frame stream.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields frames until it fails or is closed.
type Stream interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameHandler consumes captured frames. A returned error is logged and the
// frame is dropped; the loop keeps running.
type FrameHandler interface {
	HandleFrame(ctx context.Context, f Frame) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, f Frame) error

// HandleFrame calls fn.
func (fn FrameHandlerFunc) HandleFrame(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}

// Config controls the capture cadence and reacquire budget.
type Config struct {
	Interval            time.Duration // time between frames
	MaxReacquireRetries int           // reacquires allowed without a successful read
	ReacquireDelay      time.Duration // initial wait between reacquires, doubles per attempt
	ReadTimeout         time.Duration // per-read limit, 0 for none
	MIMEType            string        // MIME type of the frames, defaults to image/jpeg
}

// Validate checks c.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.Newf("capture interval must be positive, got %s", c.Interval).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	if c.MaxReacquireRetries < 0 {
		return errors.Newf("max reacquire retries must not be negative, got %d", c.MaxReacquireRetries).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Stats counts loop activity.
type Stats struct {
	Captured      int       `json:"captured"`
	HandlerErrors int       `json:"handler_errors"`
	ReadFailures  int       `json:"read_failures"`
	Reacquires    int       `json:"reacquires"`
	StartedAt     time.Time `json:"started_at"`
	LastFrameAt   time.Time `json:"last_frame_at,omitzero"`
}

// RunOption configures Run.
type RunOption func(*runner)

// WithLogger sets the loop logger.
func WithLogger(l logger.Logger) RunOption {
	return func(r *runner) { r.log = l }
}

// WithMetrics sets the loop metrics.
func WithMetrics(m *metrics.CaptureMetrics) RunOption {
	return func(r *runner) { r.metrics = m }
}

// WithProgress registers fn to receive a stats snapshot after every frame
// and every reacquire.
func WithProgress(fn func(Stats)) RunOption {
	return func(r *runner) { r.progress = fn }
}

type runner struct {
	src      Source
	cfg      Config
	handler  FrameHandler
	log      logger.Logger
	metrics  *metrics.CaptureMetrics
	progress func(Stats)
	sleep    func(ctx context.Context, d time.Duration) error

	stream      Stream
	consecutive int // reacquire attempts since the last successful read
	lastErr     error
	stats       Stats
}

// Run captures frames from src every cfg.Interval until ctx is cancelled
// (returns nil) or the source is exhausted (returns ErrSourceExhausted).
// The first frame is read immediately.
func Run(ctx context.Context, src Source, cfg Config, handler FrameHandler, opts ...RunOption) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	if cfg.MIMEType == "" {
		cfg.MIMEType = "image/jpeg"
	}

	r := &runner{
		src:     src,
		cfg:     cfg,
		handler: handler,
		log:     GetLogger(),
		sleep:   sleepContext,
		stats:   Stats{StartedAt: time.Now()},
	}
	for _, opt := range opts {
		opt(r)
	}
	defer r.closeStream()

	r.log.Info("capture loop started",
		logger.Duration("interval", cfg.Interval),
		logger.Int("max_reacquire_retries", cfg.MaxReacquireRetries))

	stream, err := src.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.stats, nil
		}
		// The failed initial open is charged to the reacquire budget.
		r.consecutive = 1
		r.lastErr = err
		r.log.Warn("failed to open capture source", logger.Error(err))
	} else {
		r.stream = stream
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return r.stopped()
		}

		data, err := r.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.stopped()
			}
			r.metrics.RecordFatal()
			r.log.Error("capture source exhausted",
				logger.Int("reacquires", r.stats.Reacquires),
				logger.Error(err))
			return r.stats, err
		}

		r.handle(ctx, data)

		select {
		case <-ctx.Done():
			return r.stopped()
		case <-ticker.C:
		}
	}
}

func (r *runner) stopped() (Stats, error) {
	r.log.Info("capture loop stopped",
		logger.Int("captured", r.stats.Captured),
		logger.Int("reacquires", r.stats.Reacquires))
	return r.stats, nil
}

// next reads one frame, reacquiring the source as needed.
func (r *runner) next(ctx context.Context) ([]byte, error) {
	if r.stream != nil {
		data, err := r.read(ctx)
		if err == nil {
			r.consecutive = 0
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.readFailed(err)
	}

	for r.consecutive < r.cfg.MaxReacquireRetries {
		r.consecutive++
		r.stats.Reacquires++
		r.metrics.RecordReacquire()
		r.report()

		if delay := r.reacquireDelay(); delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		r.closeStream()
		r.log.Info("reacquiring capture source",
			logger.Int("attempt", r.consecutive),
			logger.Int("max", r.cfg.MaxReacquireRetries))

		stream, err := r.src.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.lastErr = err
			r.log.Warn("reacquire failed", logger.Int("attempt", r.consecutive), logger.Error(err))
			continue
		}
		r.stream = stream

		data, err := r.read(ctx)
		if err == nil {
			r.log.Info("capture source reacquired", logger.Int("attempts", r.consecutive))
			r.consecutive = 0
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.readFailed(err)
	}

	return nil, errors.New(errors.Join(ErrSourceExhausted, r.lastErr)).
		Component("capture").
		Category(errors.CategoryCaptureSource).
		Context("reacquires", r.stats.Reacquires).
		Context("max_reacquire_retries", r.cfg.MaxReacquireRetries).
		Build()
}

func (r *runner) read(ctx context.Context) ([]byte, error) {
	readCtx := ctx
	if r.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, r.cfg.ReadTimeout)
		defer cancel()
	}
	data, err := r.stream.ReadFrame(readCtx)
	if err == nil && len(data) == 0 {
		err = errors.NewStd("empty frame")
	}
	return data, err
}

func (r *runner) readFailed(err error) {
	r.lastErr = err
	r.stats.ReadFailures++
	r.metrics.RecordReadFailure()
	r.log.Warn("frame read failed", logger.Error(err))
}

func (r *runner) reacquireDelay() time.Duration {
	if r.cfg.ReacquireDelay <= 0 {
		return 0
	}
	d := r.cfg.ReacquireDelay << max(r.consecutive-1, 0)
	if d <= 0 || d > maxReacquireDelay {
		return maxReacquireDelay
	}
	return d
}

func (r *runner) handle(ctx context.Context, data []byte) {
	now := time.Now()
	r.stats.Captured++
	r.stats.LastFrameAt = now
	r.metrics.ObserveFrame(len(data))

	frame := Frame{Data: data, CapturedAt: now, MIMEType: r.cfg.MIMEType}
	ctx = logger.ContextWith(ctx, logger.Int("frame", r.stats.Captured))
	if err := r.handler.HandleFrame(ctx, frame); err != nil {
		r.stats.HandlerErrors++
		r.log.WithContext(ctx).Warn("frame dropped", logger.Error(err))
	}
	r.report()
}

func (r *runner) report() {
	if r.progress != nil {
		r.progress(r.stats)
	}
}

func (r *runner) closeStream() {
	if r.stream == nil {
		return
	}
	if err := r.stream.Close(); err != nil {
		r.log.Debug("error closing capture stream", logger.Error(err))
	}
	r.stream = nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetLogger returns the capture module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("capture")
}
