package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/classifier"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// Gateway classifies frames.
type Gateway interface {
	Classify(ctx context.Context, frame classifier.Frame) classifier.Result
}

// Router stages and routes frames into label stores.
type Router interface {
	Stage(data []byte, capturedAt time.Time, ext string) (category.Entry, error)
	Route(ctx context.Context, e category.Entry, p classifier.Prediction) (category.RouteResult, error)
	Discard(e category.Entry)
}

// Publisher receives routing results. Failures are logged only.
type Publisher interface {
	Publish(ctx context.Context, res category.RouteResult) error
}

// PipelineStats counts frame outcomes.
type PipelineStats struct {
	Classified int64 `json:"classified"`
	Accepted   int64 `json:"accepted"`
	Discarded  int64 `json:"discarded"`
	Dropped    int64 `json:"dropped"`
	Failed     int64 `json:"failed"`
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPublishers adds publishers.
func WithPublishers(pubs ...Publisher) PipelineOption {
	return func(p *Pipeline) { p.publishers = append(p.publishers, pubs...) }
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// WithPipelineMetrics sets the pipeline metrics.
func WithPipelineMetrics(m *metrics.CaptureMetrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline joins classification, routing and publication. It implements
// FrameHandler.
type Pipeline struct {
	gateway    Gateway
	router     Router
	publishers []Publisher
	log        logger.Logger
	metrics    *metrics.CaptureMetrics

	classified atomic.Int64
	accepted   atomic.Int64
	discarded  atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// NewPipeline creates a Pipeline.
func NewPipeline(g Gateway, r Router, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gateway: g,
		router:  r,
		log:     GetLogger().Module("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleFrame stages, classifies and routes one frame. Classification is not
// interrupted by cancellation, but a frame whose classification finishes
// after cancellation is dropped instead of routed.
func (p *Pipeline) HandleFrame(ctx context.Context, f Frame) error {
	entry, err := p.router.Stage(f.Data, f.CapturedAt, extensionFor(f.MIMEType))
	if err != nil {
		p.outcome(metrics.FrameFailed, &p.failed)
		return err
	}

	res := p.gateway.Classify(context.WithoutCancel(ctx), f)

	if ctx.Err() != nil {
		p.router.Discard(entry)
		p.outcome(metrics.FrameDropped, &p.dropped)
		p.log.Debug("frame dropped after stop", logger.String("name", entry.Name))
		return nil
	}

	if !res.OK() {
		p.router.Discard(entry)
		p.outcome(metrics.FrameFailed, &p.failed)
		return res.Err
	}
	p.classified.Add(1)

	routed, err := p.router.Route(ctx, entry, res.Prediction)
	if err != nil {
		p.outcome(metrics.FrameFailed, &p.failed)
		return err
	}

	if routed.Outcome == category.Accepted {
		p.outcome(metrics.FrameAccepted, &p.accepted)
	} else {
		p.outcome(metrics.FrameDiscarded, &p.discarded)
	}

	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, routed); err != nil {
			p.log.Warn("publish failed", logger.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) outcome(name string, counter *atomic.Int64) {
	counter.Add(1)
	p.metrics.RecordOutcome(name)
}

// Stats returns the outcome counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Classified: p.classified.Load(),
		Accepted:   p.accepted.Load(),
		Discarded:  p.discarded.Load(),
		Dropped:    p.dropped.Load(),
		Failed:     p.failed.Load(),
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
