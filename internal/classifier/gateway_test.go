package classifier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/gordon-go/internal/errors"
)

// scriptedClassifier replays a fixed sequence of replies.
type scriptedClassifier struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

type reply struct {
	payload string
	err     error
}

func (s *scriptedClassifier) Classify(ctx context.Context, _ []byte, _ string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[min(s.calls, len(s.replies)-1)]
	s.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.payload), nil
}

func (s *scriptedClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// newTestGateway returns a gateway that records backoff delays instead of sleeping.
func newTestGateway(t *testing.T, c Classifier, cfg GatewayConfig) (*Gateway, *[]time.Duration) {
	t.Helper()
	g, err := NewGateway(c, cfg)
	require.NoError(t, err)
	var delays []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return g, &delays
}

var testFrame = Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, CapturedAt: time.Now(), MIMEType: "image/jpeg"}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(nil, GatewayConfig{MaxRetries: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = NewGateway(&scriptedClassifier{}, GatewayConfig{MaxRetries: 0})
	require.Error(t, err)
}

func TestClassify_SuccessFirstAttempt(t *testing.T) {
	c := &scriptedClassifier{replies: []reply{{payload: `{"class": "Cheese ", "confidence": 0.91}`}}}
	g, delays := newTestGateway(t, c, GatewayConfig{MaxRetries: 3, InitialDelay: time.Second})

	r := g.Classify(t.Context(), testFrame)

	require.True(t, r.OK())
	assert.Equal(t, Prediction{Label: "cheese", Confidence: 0.91}, r.Prediction)
	assert.Equal(t, 1, r.Attempts)
	assert.False(t, r.Malformed)
	assert.Empty(t, *delays)
}

func TestClassify_RetriesThenSucceeds(t *testing.T) {
	c := &scriptedClassifier{replies: []reply{
		{err: fmt.Errorf("connection reset")},
		{err: fmt.Errorf("timeout")},
		{payload: `{"class":"bread","confidence":0.8}`},
	}}
	g, delays := newTestGateway(t, c, GatewayConfig{MaxRetries: 3, InitialDelay: 100 * time.Millisecond})

	r := g.Classify(t.Context(), testFrame)

	require.True(t, r.OK())
	assert.Equal(t, "bread", r.Prediction.Label)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestClassify_TransientExhausted(t *testing.T) {
	c := &scriptedClassifier{replies: []reply{{err: fmt.Errorf("503 from upstream")}}}
	g, _ := newTestGateway(t, c, GatewayConfig{MaxRetries: 3})

	r := g.Classify(t.Context(), testFrame)

	assert.False(t, r.OK())
	assert.Equal(t, ErrorTransient, r.Kind)
	assert.Equal(t, 3, c.Calls(), "MaxRetries counts total attempts")
	assert.True(t, errors.IsCategory(r.Err, errors.CategoryNetwork))
}

func TestClassify_PermanentNotRetried(t *testing.T) {
	c := &scriptedClassifier{replies: []reply{{err: fmt.Errorf("%w: unauthorized", ErrPermanent)}}}
	g, _ := newTestGateway(t, c, GatewayConfig{MaxRetries: 5})

	r := g.Classify(t.Context(), testFrame)

	assert.Equal(t, ErrorPermanent, r.Kind)
	assert.Equal(t, 1, c.Calls())
	assert.ErrorIs(t, r.Err, ErrPermanent)
}

func TestClassify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	c := &scriptedClassifier{replies: []reply{{payload: `{"class":"meat","confidence":1}`}}}
	g, _ := newTestGateway(t, c, GatewayConfig{MaxRetries: 3})

	r := g.Classify(ctx, testFrame)

	assert.Equal(t, ErrorCancelled, r.Kind)
	assert.Zero(t, c.Calls(), "a cancelled context must not reach the capability")
}

func TestClassify_MalformedIsIrrelevantNotError(t *testing.T) {
	c := &scriptedClassifier{replies: []reply{{payload: "I think this is a sandwich"}}}
	g, _ := newTestGateway(t, c, GatewayConfig{MaxRetries: 3})

	r := g.Classify(t.Context(), testFrame)

	require.True(t, r.OK())
	assert.True(t, r.Malformed)
	assert.Equal(t, Irrelevant(), r.Prediction)
	assert.Equal(t, 1, c.Calls(), "malformed replies are not retried")
}

func TestBackoff_Capped(t *testing.T) {
	g, err := NewGateway(&scriptedClassifier{}, GatewayConfig{
		MaxRetries:   10,
		InitialDelay: time.Second,
		Multiplier:   3,
		MaxDelay:     5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, time.Second, g.backoff(1))
	assert.Equal(t, 3*time.Second, g.backoff(2))
	assert.Equal(t, 5*time.Second, g.backoff(3))
	assert.Equal(t, 5*time.Second, g.backoff(8))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Prediction
		ok      bool
	}{
		{"plain json", `{"class":"pickles","confidence":0.75}`, Prediction{"pickles", 0.75}, true},
		{"wrapped in prose", "Sure! ```json\n{\"class\": \"Tomatoes\", \"confidence\": 0.6}\n```", Prediction{"tomatoes", 0.6}, true},
		{"label key", `{"label":"lettuce","confidence":1}`, Prediction{"lettuce", 1}, true},
		{"predicted_class key", `{"predicted_class":"meat","confidence":0.5,"reasoning":"red"}`, Prediction{"meat", 0.5}, true},
		{"irrelevant is valid", `{"class":"irrelevant","confidence":0.9}`, Prediction{"irrelevant", 0.9}, true},
		{"no braces", "cheese", Irrelevant(), false},
		{"reversed braces", "} {", Irrelevant(), false},
		{"invalid json", `{"class": cheese}`, Irrelevant(), false},
		{"missing class", `{"confidence":0.9}`, Irrelevant(), false},
		{"empty class", `{"class":"  ","confidence":0.9}`, Irrelevant(), false},
		{"non-string class", `{"class":7,"confidence":0.9}`, Irrelevant(), false},
		{"missing confidence", `{"class":"bread"}`, Irrelevant(), false},
		{"string confidence", `{"class":"bread","confidence":"high"}`, Irrelevant(), false},
		{"confidence above one", `{"class":"bread","confidence":1.5}`, Irrelevant(), false},
		{"negative confidence", `{"class":"bread","confidence":-0.1}`, Irrelevant(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize([]byte(tt.payload))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want.Label, got.Label)
			assert.InDelta(t, tt.want.Confidence, got.Confidence, 1e-9)
		})
	}
}
