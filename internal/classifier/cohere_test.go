package classifier

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
)

const testEndpoint = "https://cohere.test"

func newMockedCohere(t *testing.T) *CohereClient {
	t.Helper()
	hc := httpclient.New(nil)
	httpmock.ActivateNonDefault(hc.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	c, err := NewCohereClient(hc, CohereConfig{
		APIKey:   "test-key",
		Endpoint: testEndpoint + "/",
		Labels:   []string{"cheese", "bread"},
	})
	require.NoError(t, err)
	return c
}

func chatReply(text string) string {
	return `{"id":"1","finish_reason":"COMPLETE","message":{"role":"assistant","content":[{"type":"text","text":` +
		jsonQuote(text) + `}]}}`
}

func jsonQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s) + `"`
}

func TestCohereClient_Request(t *testing.T) {
	c := newMockedCohere(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint+"/v2/chat",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))

			body, err := jason.NewObjectFromReader(req.Body)
			require.NoError(t, err)

			model, _ := body.GetString("model")
			assert.Equal(t, DefaultVisionModel, model)
			maxTokens, _ := body.GetInt64("max_tokens")
			assert.Equal(t, int64(visionMaxTokens), maxTokens)

			messages, err := body.GetObjectArray("messages")
			require.NoError(t, err)
			require.Len(t, messages, 2)
			system, _ := messages[0].GetString("content")
			assert.Contains(t, system, "cheese, bread")

			parts, err := messages[1].GetObjectArray("content")
			require.NoError(t, err)
			url, _ := parts[0].GetString("image_url", "url")
			assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))

			return httpmock.NewStringResponse(http.StatusOK, chatReply(`{"class":"cheese","confidence":0.93}`)), nil
		})

	payload, err := c.Classify(t.Context(), []byte{1, 2, 3}, "")
	require.NoError(t, err)

	pred, ok := Normalize(payload)
	require.True(t, ok)
	assert.Equal(t, "cheese", pred.Label)
}

func TestCohereClient_ErrorClassification(t *testing.T) {
	c := newMockedCohere(t)

	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusBadRequest, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			httpmock.RegisterResponder(http.MethodPost, testEndpoint+"/v2/chat",
				httpmock.NewStringResponder(tt.status, `{"message":"nope"}`))

			_, err := c.Classify(t.Context(), []byte{1}, "image/png")
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, ErrPermanent))
		})
	}
}

func TestCohereClient_MalformedEnvelope(t *testing.T) {
	c := newMockedCohere(t)
	httpmock.RegisterResponder(http.MethodPost, testEndpoint+"/v2/chat",
		httpmock.NewStringResponder(http.StatusOK, `{"message":{"content":[]}}`))

	payload, err := c.Classify(t.Context(), []byte{1}, "image/jpeg")
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, ok := Normalize(payload)
	assert.False(t, ok)
}

// Gateway and binding together: a 503 followed by a valid reply.
func TestGateway_WithCohereRetry(t *testing.T) {
	c := newMockedCohere(t)
	httpmock.RegisterResponder(http.MethodPost, testEndpoint+"/v2/chat",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy").
			Then(httpmock.NewStringResponder(http.StatusOK, chatReply(`{"class":"bread","confidence":0.7}`))))

	g, err := NewGateway(c, GatewayConfig{MaxRetries: 3, InitialDelay: time.Millisecond})
	require.NoError(t, err)

	r := g.Classify(t.Context(), testFrame)
	require.True(t, r.OK(), "result: %+v", r)
	assert.Equal(t, "bread", r.Prediction.Label)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}
