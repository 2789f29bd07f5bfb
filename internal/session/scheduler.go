// Package session plays timed narration for cooking sessions.
//
// Each session owns one watcher goroutine that walks the session's events in
// offset order, waiting for each event's target time and then speaking it.
// Stopping a session prevents any narration that has not started yet; a line
// that is already being spoken is allowed to finish.
package session

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QuoteEvent is one timed narration line.
type QuoteEvent struct {
	StepID string  `json:"stepId" yaml:"stepId"`
	Offset float64 `json:"timestamp" yaml:"timestamp"` // seconds after session start
	Text   string  `json:"quote" yaml:"quote"`
}

// Delay returns the event offset as a duration.
func (e QuoteEvent) Delay() time.Duration {
	return time.Duration(e.Offset * float64(time.Second))
}

// Narrator speaks narration lines.
type Narrator interface {
	Speak(ctx context.Context, text string) error
	Close() error
}

// StartResult tells whether StartSession launched a watcher.
type StartResult string

const (
	Started        StartResult = "started"
	AlreadyRunning StartResult = "already_running"
)

// StopResult is returned by StopSession. Status is always "stopped".
type StopResult struct {
	Status  string `json:"status"`
	Existed bool   `json:"-"`
}

// Status describes one session.
type Status struct {
	Active bool  `json:"active"`
	State  State `json:"state"`
	Fired  int   `json:"fired"`
	Total  int   `json:"total"`
}

// Summary describes a finished session.
type Summary struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Total     int
	Fired     int
	Failed    int
	Stopped   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics sets the session metrics.
func WithMetrics(m *metrics.SessionMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithOnTerminated registers fn to receive a summary when a session ends.
// It runs on the watcher goroutine with no lock held.
func WithOnTerminated(fn func(Summary)) Option {
	return func(s *Scheduler) { s.onTerminated = fn }
}

// WithSpeakTimeout bounds each narration call. Zero means no bound.
func WithSpeakTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.speakTimeout = d }
}

// Scheduler runs narration sessions.
type Scheduler struct {
	narrator     Narrator
	log          logger.Logger
	metrics      *metrics.SessionMetrics
	onTerminated func(Summary)
	speakTimeout time.Duration

	mu             sync.Mutex
	sessions       map[string]*session
	closed         bool // no further starts
	narratorClosed bool
	wg             sync.WaitGroup
}

type session struct {
	id     string
	start  time.Time
	events []QuoteEvent

	state    atomic.Int32
	fired    atomic.Int32
	failed   atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *session) load() State { return State(s.state.Load()) }

func (s *session) requestStop() bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateStopping)) {
		return false
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return true
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// NewScheduler creates a Scheduler that speaks through narrator.
func NewScheduler(narrator Narrator, opts ...Option) *Scheduler {
	s := &Scheduler{
		narrator: narrator,
		log:      GetLogger(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession starts playing events relative to start. Starting an id that
// is already active returns AlreadyRunning without a second watcher.
func (s *Scheduler) StartSession(id string, events []QuoteEvent, start time.Time) (StartResult, error) {
	if id == "" {
		return "", errors.Newf("session id is required").
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}
	for i, ev := range events {
		if ev.Offset < 0 || math.IsNaN(ev.Offset) || math.IsInf(ev.Offset, 0) {
			return "", errors.Newf("invalid offset %v for event %d", ev.Offset, i).
				Component("session").
				Category(errors.CategoryValidation).
				Context("session_id", id).
				Context("step_id", ev.StepID).
				Build()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.Newf("scheduler is shut down").
			Component("session").
			Category(errors.CategoryState).
			Context("session_id", id).
			Build()
	}
	if existing, ok := s.sessions[id]; ok && existing.load() == StateActive {
		return AlreadyRunning, nil
	}

	sorted := slices.Clone(events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	sess := &session{
		id:     id,
		start:  start,
		events: sorted,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	sess.state.Store(int32(StateActive))
	s.sessions[id] = sess
	s.metrics.SessionStarted()

	s.wg.Go(func() { s.watch(sess) })

	s.log.Info("session started",
		logger.String("session_id", id),
		logger.Int("events", len(sorted)),
		logger.Time("start", start))
	return Started, nil
}

func (s *Scheduler) watch(sess *session) {
	defer s.finish(sess)

	for _, ev := range sess.events {
		if wait := time.Until(sess.start.Add(ev.Delay())); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-sess.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		// A stop observed here wins over a due event.
		if sess.stopped() {
			return
		}
		s.speak(sess, ev)
	}
}

func (s *Scheduler) speak(sess *session, ev QuoteEvent) {
	ctx := logger.ContextWith(context.Background(),
		logger.String("session_id", sess.id),
		logger.String("step_id", ev.StepID))
	if s.speakTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.speakTimeout)
		defer cancel()
	}

	started := time.Now()
	err := s.narrator.Speak(ctx, ev.Text)
	s.metrics.RecordNarration(time.Since(started), err)

	if err != nil {
		sess.failed.Add(1)
		s.log.Warn("narration failed",
			logger.String("session_id", sess.id),
			logger.String("step_id", ev.StepID),
			logger.Error(err))
		return
	}
	sess.fired.Add(1)
	s.log.Debug("narration fired",
		logger.String("session_id", sess.id),
		logger.String("step_id", ev.StepID),
		logger.Float64("offset", ev.Offset))
}

func (s *Scheduler) finish(sess *session) {
	stopped := sess.load() == StateStopping
	sess.state.Store(int32(StateTerminated))

	s.mu.Lock()
	if s.sessions[sess.id] == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
	close(sess.done)

	s.metrics.SessionEnded(stopped)

	summary := Summary{
		ID:        sess.id,
		StartedAt: sess.start,
		EndedAt:   time.Now(),
		Total:     len(sess.events),
		Fired:     int(sess.fired.Load()),
		Failed:    int(sess.failed.Load()),
		Stopped:   stopped,
	}
	s.log.Info("session terminated",
		logger.String("session_id", sess.id),
		logger.Int("fired", summary.Fired),
		logger.Int("total", summary.Total),
		logger.Bool("stopped", stopped))

	if s.onTerminated != nil {
		s.onTerminated(summary)
	}
}

// StopSession requests a stop for id. The watcher exits before speaking any
// further line.
func (s *Scheduler) StopSession(id string) StopResult {
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()

	res := StopResult{Status: "stopped"}
	if sess != nil && sess.requestStop() {
		res.Existed = true
		s.log.Info("session stop requested", logger.String("session_id", id))
	}
	return res
}

// Status reports on id. Unknown and finished sessions report idle.
func (s *Scheduler) Status(id string) Status {
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()

	if sess == nil {
		return Status{State: StateIdle}
	}
	state := sess.load()
	return Status{
		Active: state == StateActive,
		State:  state,
		Fired:  int(sess.fired.Load()),
		Total:  len(sess.events),
	}
}

// Sessions returns the ids of live sessions, sorted.
func (s *Scheduler) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Done returns a channel closed when the session id terminates. For an
// unknown id the channel is already closed.
func (s *Scheduler) Done(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// CleanupAll stops every session, waits for the watchers and closes the
// narrator. Later starts fail. If ctx ends first the narrator is left open
// and the next call that sees every watcher finish closes it.
func (s *Scheduler) CleanupAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.requestStop()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("session").
			Category(errors.CategoryTimeout).
			Context("sessions", len(live)).
			Build()
	}

	s.mu.Lock()
	alreadyReleased := s.narratorClosed
	s.narratorClosed = true
	s.mu.Unlock()
	if alreadyReleased {
		return nil
	}
	s.log.Info("all sessions stopped", logger.Int("sessions", len(live)))
	if err := s.narrator.Close(); err != nil {
		return errors.New(err).
			Component("session").
			Category(errors.CategoryNarration).
			Build()
	}
	return nil
}

// GetLogger returns the session module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("session")
}
