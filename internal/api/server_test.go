package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/gordon-go/internal/capture"
	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/classifier"
	"github.com/tphakala/gordon-go/internal/datastore"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/quotes"
	"github.com/tphakala/gordon-go/internal/session"
)

type fakeCapture struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (f *fakeCapture) Start(context.Context) (capture.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.running {
		return capture.AlreadyRunning, nil
	}
	f.running = true
	return capture.Started, nil
}

func (f *fakeCapture) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeCapture) Status() capture.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return capture.Snapshot{Running: f.running}
}

type startCall struct {
	id     string
	events []session.QuoteEvent
}

type fakeSessions struct {
	mu      sync.Mutex
	started []startCall
	stopped []string
	active  map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{active: map[string]bool{}}
}

func (f *fakeSessions) StartSession(id string, events []session.QuoteEvent, _ time.Time) (session.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active[id] {
		return session.AlreadyRunning, nil
	}
	f.active[id] = true
	f.started = append(f.started, startCall{id: id, events: events})
	return session.Started, nil
}

func (f *fakeSessions) StopSession(id string) session.StopResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	existed := f.active[id]
	delete(f.active, id)
	return session.StopResult{Status: "stopped", Existed: existed}
}

func (f *fakeSessions) Status(id string) session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active[id] {
		return session.Status{Active: true, State: session.StateActive}
	}
	return session.Status{State: session.StateIdle}
}

func (f *fakeSessions) Sessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.active {
		ids = append(ids, id)
	}
	return ids
}

type generatorFunc func(ctx context.Context, steps []quotes.Step) ([]session.QuoteEvent, error)

func (fn generatorFunc) Generate(ctx context.Context, steps []quotes.Step) ([]session.QuoteEvent, error) {
	return fn(ctx, steps)
}

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) RecentObservations(_ context.Context, limit int) ([]datastore.Observation, error) {
	f.limit = limit
	return []datastore.Observation{{ID: 1, Label: "stove", Outcome: "accepted"}}, nil
}

func (f *fakeHistory) AcceptedByLabel(context.Context, time.Time) ([]datastore.LabelCount, error) {
	return []datastore.LabelCount{{Label: "stove", Count: 3}}, nil
}

func (f *fakeHistory) RecentSessions(_ context.Context, limit int) ([]datastore.SessionRecord, error) {
	f.limit = limit
	return nil, errors.Newf("database is locked").Category(errors.CategoryDatabase).Build()
}

type testEnv struct {
	server   *Server
	capture  *fakeCapture
	sessions *fakeSessions
	store    *category.Store
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	store, err := category.New(afero.NewMemMapFs(), category.Config{
		Root:            "/data",
		Labels:          []string{"stove", "cutting_board"},
		AcceptThreshold: 0.5,
		MaxEntries:      5,
	})
	require.NoError(t, err)

	env := &testEnv{capture: &fakeCapture{}, sessions: newFakeSessions(), store: store}
	base := []ServerOption{
		WithCapture(env.capture),
		WithSessions(env.sessions),
		WithCategories(store),
		WithTTSEnabled(true),
	}
	cfg := DefaultConfig()
	cfg.StatsCacheTTL = 0
	env.server, err = New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (e *testEnv) storeFrame(t *testing.T, label string, at time.Time) category.Entry {
	t.Helper()
	entry, err := e.store.Stage([]byte("jpeg-"+label), at, ".jpg")
	require.NoError(t, err)
	res, err := e.store.Route(t.Context(), entry, classifier.Prediction{Label: label, Confidence: 0.9})
	require.NoError(t, err)
	require.Equal(t, category.Accepted, res.Outcome)
	return res.Entry
}

func TestNew_RequiresComponents(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.RateLimit = -1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Listen = ""
	require.Error(t, cfg.Validate())
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.SessionActive)
	assert.False(t, resp.Capture.Running)
}

func TestStartSession_WithQuotes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body := `{"session_id":"s1","quotes":[{"stepId":"1","timestamp":5,"quote":"Season it!"}]}`
	rec := env.do(t, http.MethodPost, "/api/session/start", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[StartResponse](t, rec)
	assert.Equal(t, "started", resp.Status)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, capture.Started, resp.Capture)
	assert.Equal(t, 0, resp.QuotesGenerated)
	assert.True(t, resp.TTSEnabled)
	require.Len(t, env.sessions.started, 1)
	assert.Equal(t, "Season it!", env.sessions.started[0].events[0].Text)

	// A second start for the same id reports already_running.
	rec = env.do(t, http.MethodPost, "/api/session/start", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[StartResponse](t, rec)
	assert.Equal(t, "already_running", resp.Status)
	assert.Equal(t, capture.AlreadyRunning, resp.Capture)
	assert.Len(t, env.sessions.started, 1)
}

func TestStartSession_GeneratesFromTimeline(t *testing.T) {
	t.Parallel()
	var gotSteps []quotes.Step
	env := newTestEnv(t, WithGenerator(generatorFunc(func(_ context.Context, steps []quotes.Step) ([]session.QuoteEvent, error) {
		gotSteps = steps
		return []session.QuoteEvent{{StepID: "1", Offset: 30, Text: "Taste it!"}}, nil
	})))

	rec := env.do(t, http.MethodPost, "/api/session/start",
		`{"timeline":[{"id":"1","tStart":0,"tEnd":60,"type":"prep","text":"Chop onions"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[StartResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.SessionID, "session_"))
	assert.Equal(t, 1, resp.QuotesGenerated)
	require.Len(t, gotSteps, 1)
	assert.Equal(t, "Chop onions", gotSteps[0].Text)
	require.Len(t, env.sessions.started, 1)
	assert.Equal(t, resp.SessionID, env.sessions.started[0].id)
}

func TestStartSession_GenerationFailureStillStartsCapture(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithGenerator(generatorFunc(func(context.Context, []quotes.Step) ([]session.QuoteEvent, error) {
		return nil, errors.NewStd("upstream down")
	})))

	rec := env.do(t, http.MethodPost, "/api/session/start", `{"timeline":[{"id":"1","text":"Boil"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[StartResponse](t, rec)
	assert.Equal(t, "started", resp.Status)
	assert.Equal(t, 0, resp.QuotesGenerated)
	assert.Empty(t, resp.Quotes)
	assert.Empty(t, env.sessions.started)
	assert.True(t, env.capture.Status().Running)
}

func TestStartSession_BadBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session/start", `{"quotes":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), resp.CorrelationID)
}

type quietNarrator struct{}

func (quietNarrator) Speak(context.Context, string) error { return nil }
func (quietNarrator) Close() error                        { return nil }

func newSchedulerEnv(t *testing.T) (*testEnv, *session.Scheduler) {
	t.Helper()
	sched := session.NewScheduler(quietNarrator{})
	t.Cleanup(func() { _ = sched.CleanupAll(context.Background()) })
	return newTestEnv(t, WithSessions(sched)), sched
}

func TestStartSession_RejectedQuotesStopCapture(t *testing.T) {
	t.Parallel()
	env, _ := newSchedulerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session/start",
		`{"session_id":"s1","quotes":[{"stepId":"1","timestamp":-1,"quote":"Too early"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.capture.starts)
	assert.Equal(t, 1, env.capture.stops)
	assert.False(t, env.capture.Status().Running)

	status := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/session/status", ""))
	assert.Empty(t, status.SessionID)
	assert.False(t, status.Active)
}

func TestStartSession_ShutDownSchedulerStopsCapture(t *testing.T) {
	t.Parallel()
	env, sched := newSchedulerEnv(t)
	require.NoError(t, sched.CleanupAll(t.Context()))

	rec := env.do(t, http.MethodPost, "/api/session/start",
		`{"session_id":"s1","quotes":[{"stepId":"1","timestamp":5,"quote":"Plate up"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.False(t, env.capture.Status().Running)
}

func TestStartSession_RejectedQuotesKeepRunningCapture(t *testing.T) {
	t.Parallel()
	env, _ := newSchedulerEnv(t)
	_, err := env.capture.Start(t.Context())
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/session/start",
		`{"session_id":"s1","quotes":[{"stepId":"1","timestamp":-1,"quote":"Too early"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.capture.stops, "capture started elsewhere is left alone")
	assert.True(t, env.capture.Status().Running)
}

func TestRequestID_Propagated(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/categories/nope/images/x.jpg", http.NoBody)
	req.Header.Set("X-Request-Id", "req-abc")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "req-abc", decode[ErrorResponse](t, rec).CorrelationID)
}

func TestRequestLogger_ErrorStatus(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	env := newTestEnv(t, WithLogger(logger.NewSlogLogger(&buf, logger.LevelDebug, time.UTC)))

	rec := env.do(t, http.MethodGet, "/api/categories/nope/images", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var status float64
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "request" {
			status, _ = entry["status"].(float64)
		}
	}
	assert.InDelta(t, http.StatusNotFound, status, 0, "request log carries the error status")
}

func TestStopSession_DefaultsToCurrent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session/start",
		`{"session_id":"s2","quotes":[{"stepId":"1","timestamp":1,"quote":"Go"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/session/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.True(t, status.Active)
	assert.Equal(t, "s2", status.SessionID)
	assert.True(t, status.Capture.Running)

	rec = env.do(t, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[map[string]string](t, rec)["status"])
	assert.Equal(t, []string{"s2"}, env.sessions.stopped)
	assert.False(t, env.capture.Status().Running)

	// Stopping again is still "stopped".
	rec = env.do(t, http.MethodPost, "/api/session/stop", `{"session_id":"unknown"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[map[string]string](t, rec)["status"])
}

func TestSessionStatus_Unknown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/session/status?session_id=missing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.False(t, status.Active)
	assert.Equal(t, session.StateIdle, status.Session.State)
}

func TestCategories(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.storeFrame(t, "stove", base)
	latest := env.storeFrame(t, "stove", base.Add(time.Minute))

	rec := env.do(t, http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode[map[string]map[string]category.Stats](t, rec)["categories"]
	assert.Equal(t, 2, cats["stove"].Count)
	assert.Equal(t, latest.Name, cats["stove"].Latest)
	assert.Equal(t, 0, cats["cutting_board"].Count)

	rec = env.do(t, http.MethodGet, "/api/categories/stove/images", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Images []ImageInfo `json:"images"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Images, 2)
	assert.Equal(t, latest.Name, listing.Images[0].Name)
	assert.Equal(t, "/api/categories/stove/images/"+latest.Name, listing.Images[0].URL)

	rec = env.do(t, http.MethodGet, listing.Images[0].URL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-stove", rec.Body.String())
}

func TestCategories_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/categories/pizza/images", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/categories/stove/images/missing.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCategories_StatsCached(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	cfg := DefaultConfig()
	cfg.StatsCacheTTL = time.Hour
	srv, err := New(cfg, WithCapture(env.capture), WithSessions(env.sessions), WithCategories(env.store))
	require.NoError(t, err)
	env.server = srv

	rec := env.do(t, http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env.storeFrame(t, "stove", time.Now())
	rec = env.do(t, http.MethodGet, "/api/categories", "")
	cats := decode[map[string]map[string]category.Stats](t, rec)["categories"]
	assert.Equal(t, 0, cats["stove"].Count, "stats served from cache")
}

func TestHistory(t *testing.T) {
	t.Parallel()
	h := &fakeHistory{}
	env := newTestEnv(t, WithHistory(h))

	rec := env.do(t, http.MethodGet, "/api/history/observations?limit=10000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, h.limit)

	rec = env.do(t, http.MethodGet, "/api/history/observations?limit=-2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/history/labels?since=2026-03-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":3`)

	rec = env.do(t, http.MethodGet, "/api/history/labels?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/history/sessions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, defaultHistoryLimit, h.limit)
}

func TestHistory_DisabledWithoutStore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/history/observations", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithMetricsHandler(promhttp.Handler()))
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	store, err := category.New(afero.NewMemMapFs(), category.Config{
		Root: "/data", Labels: []string{"stove"}, AcceptThreshold: 0.5, MaxEntries: 1,
	})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	srv, err := New(cfg, WithCapture(&fakeCapture{}), WithSessions(newFakeSessions()), WithCategories(store))
	require.NoError(t, err)
	env := &testEnv{server: srv}

	var limited bool
	for range rateLimitBurst + 5 {
		if env.do(t, http.MethodGet, "/api/categories", "").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected the limiter to reject once the burst is spent")

	// Health is never limited.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", "").Code)
}

func TestContentType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "image/png", contentType("a.PNG"))
	assert.Equal(t, "image/webp", contentType("a.webp"))
	assert.Equal(t, "image/jpeg", contentType("a.jpg"))
}

func TestRunAndShutdown(t *testing.T) {
	t.Parallel()
	store, err := category.New(afero.NewMemMapFs(), category.Config{
		Root: "/data", Labels: []string{"stove"}, AcceptThreshold: 0.5, MaxEntries: 1,
	})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	srv, err := New(cfg, WithCapture(&fakeCapture{}), WithSessions(newFakeSessions()), WithCategories(store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
