package session

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/gordon-go/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type spoken struct {
	text string
	at   time.Time
}

// fakeNarrator records every line. When block is set, Speak waits for a
// value on it before returning.
type fakeNarrator struct {
	mu      sync.Mutex
	lines   []spoken
	ctxErrs []error
	err     error
	block   chan struct{}
	entered chan struct{}
	closed  bool
	closes  int
}

func (n *fakeNarrator) Speak(ctx context.Context, text string) error {
	if n.entered != nil {
		n.entered <- struct{}{}
	}
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lines = append(n.lines, spoken{text: text, at: time.Now()})
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return n.err
}

func (n *fakeNarrator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.closes++
	return nil
}

func (n *fakeNarrator) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.lines))
	for i, l := range n.lines {
		out[i] = l.text
	}
	return out
}

func newTestScheduler(t *testing.T, n Narrator, opts ...Option) *Scheduler {
	t.Helper()
	s := NewScheduler(n, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.CleanupAll(ctx)
	})
	return s
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestStartSession_PlaysInOffsetOrder(t *testing.T) {
	n := &fakeNarrator{}
	s := newTestScheduler(t, n)

	start := time.Now()
	events := []QuoteEvent{
		{StepID: "c", Offset: 0.30, Text: "third"},
		{StepID: "a", Offset: 0.10, Text: "first"},
		{StepID: "b", Offset: 0.20, Text: "second"},
	}
	res, err := s.StartSession("s1", events, start)
	require.NoError(t, err)
	require.Equal(t, Started, res)

	waitDone(t, s.Done("s1"))

	assert.Equal(t, []string{"first", "second", "third"}, n.texts())

	const tolerance = 80 * time.Millisecond
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, l := range n.lines {
		want := start.Add(time.Duration(float64(i+1) * 0.1 * float64(time.Second)))
		assert.WithinDuration(t, want, l.at, tolerance, "line %d", i)
		if i > 0 {
			gap := l.at.Sub(n.lines[i-1].at)
			assert.InDelta(t, float64(100*time.Millisecond), float64(gap), float64(tolerance))
		}
	}
	// The caller's slice is left as given.
	assert.Equal(t, "third", events[0].Text)
}

func TestStartSession_AlreadyRunning(t *testing.T) {
	n := &fakeNarrator{}
	s := newTestScheduler(t, n)

	events := []QuoteEvent{{StepID: "x", Offset: 0.2, Text: "only once"}}
	res, err := s.StartSession("dup", events, time.Now())
	require.NoError(t, err)
	require.Equal(t, Started, res)

	res, err = s.StartSession("dup", events, time.Now())
	require.NoError(t, err)
	assert.Equal(t, AlreadyRunning, res)
	assert.Equal(t, []string{"dup"}, s.Sessions())

	waitDone(t, s.Done("dup"))
	assert.Equal(t, []string{"only once"}, n.texts(), "exactly one watcher fired")
}

func TestStopSession_BeforeFirstEvent(t *testing.T) {
	n := &fakeNarrator{}
	s := newTestScheduler(t, n)

	_, err := s.StartSession("early", []QuoteEvent{{Offset: 1, Text: "never"}}, time.Now())
	require.NoError(t, err)
	done := s.Done("early")

	res := s.StopSession("early")
	assert.Equal(t, "stopped", res.Status)
	assert.True(t, res.Existed)

	waitDone(t, done)
	assert.Empty(t, n.texts())
	assert.False(t, s.Status("early").Active)
}

func TestStopSession_MidTimeline(t *testing.T) {
	n := &fakeNarrator{}
	s := newTestScheduler(t, n)

	start := time.Now()
	_, err := s.StartSession("s1", []QuoteEvent{
		{Offset: 0, Text: "x"},
		{Offset: 0.5, Text: "y"},
	}, start)
	require.NoError(t, err)
	done := s.Done("s1")

	time.Sleep(time.Until(start.Add(200 * time.Millisecond)))
	s.StopSession("s1")
	waitDone(t, done)

	assert.Equal(t, []string{"x"}, n.texts())
}

func TestStopSession_InFlightNarrationCompletes(t *testing.T) {
	n := &fakeNarrator{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	s := newTestScheduler(t, n)

	_, err := s.StartSession("busy", []QuoteEvent{
		{Offset: 0, Text: "speaking"},
		{Offset: 0, Text: "queued"},
	}, time.Now())
	require.NoError(t, err)
	done := s.Done("busy")

	<-n.entered
	s.StopSession("busy")
	assert.Equal(t, StateStopping, s.Status("busy").State)
	close(n.block)
	waitDone(t, done)

	assert.Equal(t, []string{"speaking"}, n.texts())
	n.mu.Lock()
	assert.NoError(t, n.ctxErrs[0], "stop must not cancel the narration call")
	n.mu.Unlock()
}

func TestStopSession_Unknown(t *testing.T) {
	s := newTestScheduler(t, &fakeNarrator{})

	res := s.StopSession("missing")
	assert.Equal(t, "stopped", res.Status)
	assert.False(t, res.Existed)
}

func TestStartSession_Validation(t *testing.T) {
	s := newTestScheduler(t, &fakeNarrator{})

	tests := []struct {
		name   string
		id     string
		events []QuoteEvent
	}{
		{"empty id", "", nil},
		{"negative offset", "s", []QuoteEvent{{Offset: -1}}},
		{"nan offset", "s", []QuoteEvent{{Offset: math.NaN()}}},
		{"infinite offset", "s", []QuoteEvent{{Offset: math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.StartSession(tt.id, tt.events, time.Now())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
	assert.Empty(t, s.Sessions())
}

func TestStartSession_RestartAfterTermination(t *testing.T) {
	n := &fakeNarrator{}
	s := newTestScheduler(t, n)

	_, err := s.StartSession("again", []QuoteEvent{{Text: "one"}}, time.Now())
	require.NoError(t, err)
	waitDone(t, s.Done("again"))

	res, err := s.StartSession("again", []QuoteEvent{{Text: "two"}}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Started, res)
	waitDone(t, s.Done("again"))

	assert.Equal(t, []string{"one", "two"}, n.texts())
}

func TestSessions_RunIndependently(t *testing.T) {
	blocking := &fakeNarrator{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newTestScheduler(t, blocking)

	_, err := s.StartSession("a", []QuoteEvent{{Text: "slow"}}, time.Now())
	require.NoError(t, err)
	<-blocking.entered

	// A second session starts and stops while the first is mid-narration.
	_, err = s.StartSession("b", []QuoteEvent{{Offset: 10, Text: "later"}}, time.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, s.Sessions())
	doneB := s.Done("b")
	s.StopSession("b")
	waitDone(t, doneB)

	close(blocking.block)
	waitDone(t, s.Done("a"))
	assert.Equal(t, []string{"slow"}, blocking.texts())
}

func TestNarrationFailureIsNotRetried(t *testing.T) {
	n := &fakeNarrator{err: errors.NewStd("synthesis failed")}
	summaries := make(chan Summary, 1)
	s := newTestScheduler(t, n, WithOnTerminated(func(sum Summary) { summaries <- sum }))

	_, err := s.StartSession("fail", []QuoteEvent{{Text: "a"}, {Text: "b"}}, time.Now())
	require.NoError(t, err)

	select {
	case sum := <-summaries:
		assert.Equal(t, "fail", sum.ID)
		assert.Equal(t, 2, sum.Total)
		assert.Equal(t, 0, sum.Fired)
		assert.Equal(t, 2, sum.Failed)
		assert.False(t, sum.Stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("no summary")
	}
	assert.Equal(t, []string{"a", "b"}, n.texts())
}

func TestCleanupAll(t *testing.T) {
	n := &fakeNarrator{}
	s := NewScheduler(n)

	for _, id := range []string{"a", "b"} {
		_, err := s.StartSession(id, []QuoteEvent{{Offset: 10, Text: "never"}}, time.Now())
		require.NoError(t, err)
	}

	require.NoError(t, s.CleanupAll(t.Context()))
	assert.Empty(t, s.Sessions())
	assert.Empty(t, n.texts())
	assert.True(t, n.closed)

	_, err := s.StartSession("c", nil, time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	// A second cleanup is harmless.
	require.NoError(t, s.CleanupAll(t.Context()))
}

func TestCleanupAll_TimeoutThenRetry(t *testing.T) {
	n := &fakeNarrator{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := NewScheduler(n)

	_, err := s.StartSession("slow", []QuoteEvent{{Offset: 0, Text: "long line"}}, time.Now())
	require.NoError(t, err)
	<-n.entered

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err = s.CleanupAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	n.mu.Lock()
	assert.False(t, n.closed, "narrator stays open while a line is playing")
	n.mu.Unlock()

	close(n.block)
	require.NoError(t, s.CleanupAll(t.Context()))
	require.NoError(t, s.CleanupAll(t.Context()))

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.True(t, n.closed)
	assert.Equal(t, 1, n.closes)
}

func TestStatus(t *testing.T) {
	n := &fakeNarrator{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newTestScheduler(t, n)

	assert.Equal(t, Status{State: StateIdle}, s.Status("none"))

	_, err := s.StartSession("st", []QuoteEvent{{Text: "a"}, {Offset: 10, Text: "b"}}, time.Now())
	require.NoError(t, err)
	<-n.entered

	st := s.Status("st")
	assert.True(t, st.Active)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 2, st.Total)

	close(n.block)
	require.Eventually(t, func() bool { return s.Status("st").Fired == 1 }, time.Second, 5*time.Millisecond)
	s.StopSession("st")
}

func TestQuoteEvent_Delay(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, QuoteEvent{Offset: 1.5}.Delay())
	assert.Equal(t, time.Duration(0), QuoteEvent{}.Delay())
}
