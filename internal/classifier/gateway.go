package classifier

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

const defaultMultiplier = 2.0

// GatewayConfig controls the retry policy.
type GatewayConfig struct {
	MaxRetries   int           // total attempts per frame, at least 1
	InitialDelay time.Duration // delay before the second attempt
	Multiplier   float64       // backoff growth factor, defaults to 2
	MaxDelay     time.Duration // backoff cap, 0 for no cap
	RateLimit    float64       // calls per second, 0 for unlimited
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l logger.Logger) GatewayOption {
	return func(g *Gateway) { g.log = l }
}

// WithMetrics sets the gateway metrics.
func WithMetrics(m *metrics.ClassifierMetrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway calls a Classifier with bounded retries and normalizes its replies.
// It is safe for concurrent use.
type Gateway struct {
	classifier Classifier
	cfg        GatewayConfig
	limiter    *rate.Limiter
	log        logger.Logger
	metrics    *metrics.ClassifierMetrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a Gateway around c.
func NewGateway(c Classifier, cfg GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	if c == nil {
		return nil, errors.Newf("classifier is required").
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.MaxRetries < 1 {
		return nil, errors.Newf("max retries must be at least 1, got %d", cfg.MaxRetries).
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaultMultiplier
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	g := &Gateway{
		classifier: c,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		log:        GetLogger(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Classify runs the capability on frame. A successful call always yields a
// prediction; unusable replies become the irrelevant prediction.
func (g *Gateway) Classify(ctx context.Context, frame Frame) Result {
	start := time.Now()
	log := g.log.WithContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := g.backoff(attempt - 1)
			log.Debug("retrying classification",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(lastErr))
			if err := g.sleep(ctx, delay); err != nil {
				return g.finish(start, g.cancelled(err, attempt-1))
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return g.finish(start, g.cancelled(err, attempt-1))
		}

		g.metrics.RecordAttempt(attempt > 1)
		payload, err := g.classifier.Classify(ctx, frame.Data, frame.MIMEType)
		if err == nil {
			pred, ok := Normalize(payload)
			if !ok {
				g.metrics.RecordMalformed()
				log.Debug("malformed classifier reply",
					logger.String("reply", truncate(string(payload), 200)))
			} else {
				g.metrics.RecordPrediction(pred.Label, pred.Confidence)
			}
			return g.finish(start, Result{Prediction: pred, Attempts: attempt, Malformed: !ok})
		}

		lastErr = err
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return g.finish(start, g.cancelled(err, attempt))
		}
		if errors.Is(err, ErrPermanent) {
			return g.finish(start, Result{
				Prediction: Irrelevant(),
				Kind:       ErrorPermanent,
				Attempts:   attempt,
				Err: errors.New(err).
					Component("classifier").
					Category(errors.CategoryClassifier).
					Context("attempts", attempt).
					Build(),
			})
		}
	}

	return g.finish(start, Result{
		Prediction: Irrelevant(),
		Kind:       ErrorTransient,
		Attempts:   g.cfg.MaxRetries,
		Err: errors.New(lastErr).
			Component("classifier").
			Category(errors.CategoryNetwork).
			Context("attempts", g.cfg.MaxRetries).
			Build(),
	})
}

func (g *Gateway) cancelled(err error, attempts int) Result {
	return Result{
		Prediction: Irrelevant(),
		Kind:       ErrorCancelled,
		Attempts:   attempts,
		Err: errors.New(err).
			Component("classifier").
			Category(errors.CategoryCancellation).
			Build(),
	}
}

func (g *Gateway) finish(start time.Time, r Result) Result {
	elapsed := time.Since(start)
	switch r.Kind {
	case ErrorNone:
		g.metrics.RecordResult(metrics.ResultOK, elapsed)
	case ErrorTransient:
		g.metrics.RecordResult(metrics.ResultTransient, elapsed)
		g.log.Warn("classification failed after retries",
			logger.Int("attempts", r.Attempts),
			logger.Error(r.Err))
	case ErrorPermanent:
		g.metrics.RecordResult(metrics.ResultPermanent, elapsed)
		g.log.Error("classification rejected",
			logger.Error(r.Err))
	case ErrorCancelled:
		g.metrics.RecordResult(metrics.ResultCancelled, elapsed)
	}
	return r
}

// backoff returns the delay after the n-th failed attempt.
func (g *Gateway) backoff(n int) time.Duration {
	d := float64(g.cfg.InitialDelay) * math.Pow(g.cfg.Multiplier, float64(n-1))
	if g.cfg.MaxDelay > 0 && d > float64(g.cfg.MaxDelay) {
		return g.cfg.MaxDelay
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
