package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// fakeToken completes immediately unless pending is set.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, pending bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if !pending {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakePaho records publishes instead of talking to a broker.
type fakePaho struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishErr  error
	stall       bool
	messages    []published
	disconnects int
	opts        *paho.ClientOptions
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return newToken(f.connectErr, false)
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}
func (f *fakePaho) Publish(topic string, _ byte, retained bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stall {
		return newToken(nil, true)
	}
	if f.publishErr == nil {
		f.messages = append(f.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	}
	return newToken(f.publishErr, false)
}
func (f *fakePaho) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return newToken(nil, false)
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return newToken(nil, false)
}
func (f *fakePaho) Unsubscribe(...string) paho.Token {
	return newToken(nil, false)
}
func (f *fakePaho) AddRoute(string, paho.MessageHandler) {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader {
	return paho.NewOptionsReader(f.opts)
}

func newTestClient(t *testing.T, fake *fakePaho, cfg Config) (*client, *metrics.MQTTMetrics) {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	c, err := NewClient(cfg, WithMetrics(m), withFactory(func(o *paho.ClientOptions) paho.Client {
		fake.opts = o
		return fake
	}))
	require.NoError(t, err)
	return c.(*client), m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.ClientID = "gordon-test"
	cfg.ReconnectCooldown = 0
	return cfg
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewClient_RequiresBroker(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestClient_ConnectPublishDisconnect(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	cfg := testConfig()
	cfg.Retain = true
	c, m := newTestClient(t, fake, cfg)

	require.NoError(t, c.Connect(t.Context()))
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1.0, gaugeValue(t, m.ConnectionStatus), 0)

	reader := paho.NewOptionsReader(fake.opts)
	assert.Equal(t, "gordon-test", reader.ClientID())
	assert.True(t, reader.AutoReconnect())

	require.NoError(t, c.Publish(t.Context(), "gordon/stove", []byte(`{"a":1}`)))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "gordon/stove", fake.messages[0].topic)
	assert.True(t, fake.messages[0].retained)
	assert.InDelta(t, 1.0, counterValue(t, m.MessagesDelivered), 0)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.Equal(t, 1, fake.disconnects)
	assert.InDelta(t, 0.0, gaugeValue(t, m.ConnectionStatus), 0)
}

func TestClient_ConnectFailure(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{connectErr: errors.NewStd("not authorized")}
	c, m := newTestClient(t, fake, testConfig())

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	assert.InDelta(t, 1.0, counterValue(t, m.Errors), 0)
}

func TestClient_ConnectCooldown(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ReconnectCooldown = time.Hour
	c, _ := newTestClient(t, &fakePaho{}, cfg)

	require.NoError(t, c.Connect(t.Context()))
	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, &fakePaho{}, testConfig())

	err := c.Publish(t.Context(), "gordon/x", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestClient_PublishTimeout(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	cfg := testConfig()
	cfg.PublishTimeout = 20 * time.Millisecond
	c, m := newTestClient(t, fake, cfg)
	require.NoError(t, c.Connect(t.Context()))

	fake.mu.Lock()
	fake.stall = true
	fake.mu.Unlock()

	err := c.Publish(t.Context(), "gordon/x", []byte("{}"))
	require.Error(t, err)
	assert.InDelta(t, 1.0, counterValue(t, m.Errors), 0)
}

func TestClient_PublishCancelled(t *testing.T) {
	t.Parallel()
	fake := &fakePaho{}
	c, _ := newTestClient(t, fake, testConfig())
	require.NoError(t, c.Connect(t.Context()))

	fake.mu.Lock()
	fake.stall = true
	fake.mu.Unlock()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := c.Publish(ctx, "gordon/x", []byte("{}"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_ConnectionHandlers(t *testing.T) {
	t.Parallel()
	c, m := newTestClient(t, &fakePaho{}, testConfig())

	c.onConnect(nil)
	assert.InDelta(t, 1.0, gaugeValue(t, m.ConnectionStatus), 0)

	c.onConnectionLost(nil, errors.NewStd("EOF"))
	assert.InDelta(t, 0.0, gaugeValue(t, m.ConnectionStatus), 0)
	assert.InDelta(t, 1.0, counterValue(t, m.Errors), 0)

	c.onReconnecting(nil, nil)
	assert.InDelta(t, 1.0, counterValue(t, m.ReconnectAttempts), 0)
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.Main.Name = "gordon"
	settings.MQTT.Broker = "tcp://broker:1883"

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "gordon", cfg.ClientID)
	assert.Equal(t, "gordon", cfg.Topic)

	settings.MQTT.ClientID = "kitchen-1"
	settings.MQTT.Topic = "home/kitchen"
	cfg = ConfigFromSettings(settings)
	assert.Equal(t, "kitchen-1", cfg.ClientID)
	assert.Equal(t, "home/kitchen", cfg.Topic)
}

// recordingClient captures publisher output.
type recordingClient struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (r *recordingClient) Connect(context.Context) error { return nil }
func (r *recordingClient) IsConnected() bool             { return true }
func (r *recordingClient) Disconnect()                   {}
func (r *recordingClient) Publish(_ context.Context, topic string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestPublisher_Accepted(t *testing.T) {
	t.Parallel()
	rc := &recordingClient{}
	p := NewPublisher(rc, "home/kitchen/")

	captured := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := p.Publish(t.Context(), category.RouteResult{
		Outcome:    category.Accepted,
		Label:      "stove",
		Confidence: 0.91,
		Entry:      category.Entry{Name: "stove_1.jpg", Label: "stove", CreatedAt: captured},
		Evicted:    []category.Entry{{Name: "stove_0.jpg"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"home/kitchen/stove"}, rc.topics)

	var ev Event
	require.NoError(t, json.Unmarshal(rc.payloads[0], &ev))
	assert.Equal(t, "stove", ev.Label)
	assert.Equal(t, "stove_1.jpg", ev.Image)
	assert.Equal(t, []string{"stove_0.jpg"}, ev.Evicted)
	assert.True(t, ev.CapturedAt.Equal(captured))
}

func TestPublisher_SkipsDiscarded(t *testing.T) {
	t.Parallel()
	rc := &recordingClient{}
	p := NewPublisher(rc, "gordon")

	require.NoError(t, p.Publish(t.Context(), category.RouteResult{
		Outcome: category.Discarded,
		Label:   "irrelevant",
		Reason:  category.ReasonIrrelevant,
	}))
	assert.Empty(t, rc.topics)
}

func TestPublisher_PropagatesClientError(t *testing.T) {
	t.Parallel()
	rc := &recordingClient{err: errors.NewStd("broker gone")}
	p := NewPublisher(rc, "gordon")

	err := p.Publish(t.Context(), category.RouteResult{Outcome: category.Accepted, Label: "stove"})
	require.Error(t, err)
}
