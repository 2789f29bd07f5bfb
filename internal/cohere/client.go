// Package cohere is a minimal client for the Cohere v2 chat API, shared by
// the vision classifier and the quote generator.
package cohere

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
	"github.com/tphakala/gordon-go/internal/logger"
)

// DefaultEndpoint is the public Cohere API base url.
const DefaultEndpoint = "https://api.cohere.com"

// maxResponseBody bounds chat replies; answers are short JSON documents.
const maxResponseBody = 1 << 20

// Message is one chat turn. Content is either a string or a []Part.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Part is one element of multi-part message content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, typically as a data url.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatRequest is the body of POST /v2/chat.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks the model for a JSON object reply.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Client talks to the chat endpoint.
type Client struct {
	http     *httpclient.Client
	endpoint string
	apiKey   string
}

// NewClient creates a chat client. An empty endpoint uses DefaultEndpoint.
func NewClient(http *httpclient.Client, endpoint, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.Newf("cohere api key is not configured").
			Component("cohere").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if http == nil {
		http = httpclient.New(nil)
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		http:     http,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
	}, nil
}

// Chat sends req and returns the text of the first content element of the
// reply. A reply without that element returns an empty string and no error.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	resp, err := c.http.PostWithHeaders(ctx, c.endpoint+"/v2/chat", "application/json", req, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Accept":        "application/json",
	})
	if err != nil {
		return "", errors.New(err).
			Component("cohere").
			Category(errors.CategoryNetwork).
			Context("model", req.Model).
			Build()
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return "", errors.New(err).
			Component("cohere").
			Category(errors.CategoryHTTP).
			Context("model", req.Model).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", errors.New(err).
			Component("cohere").
			Category(errors.CategoryNetwork).
			Context("operation", "read_response").
			Build()
	}

	return ReplyText(body), nil
}

// ReplyText extracts message.content[0].text from a chat response body.
func ReplyText(body []byte) string {
	obj, err := jason.NewObjectFromReader(bytes.NewReader(body))
	if err != nil {
		GetLogger().Debug("unparseable chat envelope", logger.Int("bytes", len(body)))
		return ""
	}
	content, err := obj.GetObjectArray("message", "content")
	if err != nil || len(content) == 0 {
		return ""
	}
	text, err := content[0].GetString("text")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// GetLogger returns the cohere module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("cohere")
}
