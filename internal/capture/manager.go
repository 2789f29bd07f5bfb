package capture

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// StartResult tells whether Start launched a new loop.
type StartResult string

const (
	Started        StartResult = "started"
	AlreadyRunning StartResult = "already_running"
)

// State of the managed loop.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFatal   State = "fatal"
)

// Snapshot is a point-in-time view of the manager.
type Snapshot struct {
	Running   bool      `json:"running"`
	State     State     `json:"state"`
	Stats     Stats     `json:"stats"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager and loop logger.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithManagerMetrics sets the loop metrics.
func WithManagerMetrics(cm *metrics.CaptureMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = cm }
}

// WithOnFatal registers fn to run, outside any lock, when the loop exits
// because its source was exhausted.
func WithOnFatal(fn func(error)) ManagerOption {
	return func(m *Manager) { m.onFatal = fn }
}

// Manager owns the process-wide capture loop. At most one loop runs at a time.
type Manager struct {
	src     Source
	cfg     Config
	handler FrameHandler
	log     logger.Logger
	metrics *metrics.CaptureMetrics
	onFatal func(error)

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	stats     Stats
	lastErr   error
	startedAt time.Time
}

// NewManager creates an idle Manager.
func NewManager(src Source, cfg Config, handler FrameHandler, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		src:     src,
		cfg:     cfg,
		handler: handler,
		log:     GetLogger(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches the loop unless it is already running. The loop keeps the
// values of ctx but not its cancellation; use Stop to end it.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning {
		return AlreadyRunning, nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.state = StateRunning
	m.cancel = cancel
	m.done = done
	m.stats = Stats{}
	m.lastErr = nil
	m.startedAt = time.Now()
	m.metrics.SetRunning(true)

	go m.run(loopCtx, done)

	m.log.Info("capture started")
	return Started, nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	stats, err := Run(ctx, m.src, m.cfg, m.handler,
		WithLogger(m.log),
		WithMetrics(m.metrics),
		WithProgress(m.updateStats))

	m.mu.Lock()
	m.stats = stats
	m.cancel = nil
	if err != nil {
		m.state = StateFatal
		m.lastErr = err
	} else {
		m.state = StateStopped
	}
	onFatal := m.onFatal
	m.metrics.SetRunning(false)
	close(done)
	m.mu.Unlock()

	if err != nil && onFatal != nil {
		onFatal(err)
	}
}

func (m *Manager) updateStats(s Stats) {
	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

// Stop cancels the loop and waits for it to exit or for ctx to end.
// Stopping an idle manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		m.log.Info("capture stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the current loop exits. It is already
// closed when no loop has been started.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Running:   m.state == StateRunning,
		State:     m.state,
		Stats:     m.stats,
		StartedAt: m.startedAt,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
