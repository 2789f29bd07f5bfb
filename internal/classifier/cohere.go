package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tphakala/gordon-go/internal/cohere"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
)

// DefaultVisionModel is the Cohere vision model used when none is configured.
const DefaultVisionModel = "c4ai-aya-vision-8b"

const (
	visionMaxTokens   = 50
	visionTemperature = 0.1
)

// CohereConfig configures the Cohere vision binding.
type CohereConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	Labels   []string
}

// CohereClient classifies images with a Cohere vision model.
type CohereClient struct {
	chat   *cohere.Client
	model  string
	prompt string
}

// NewCohereClient creates the Cohere binding of the Classifier capability.
func NewCohereClient(http *httpclient.Client, cfg CohereConfig) (*CohereClient, error) {
	if len(cfg.Labels) == 0 {
		return nil, errors.Newf("at least one label is required").
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	chat, err := cohere.NewClient(http, cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultVisionModel
	}
	return &CohereClient{
		chat:   chat,
		model:  model,
		prompt: systemPrompt(cfg.Labels),
	}, nil
}

// Classify sends image to the model and returns its reply text. Rejected
// requests are wrapped with ErrPermanent.
func (c *CohereClient) Classify(ctx context.Context, image []byte, mimeType string) ([]byte, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	text, err := c.chat.Chat(ctx, &cohere.ChatRequest{
		Model: c.model,
		Messages: []cohere.Message{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: []cohere.Part{
				{Type: "image_url", ImageURL: &cohere.ImageURL{URL: dataURL}},
			}},
		},
		MaxTokens:   visionMaxTokens,
		Temperature: visionTemperature,
	})
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return nil, err
	}
	return []byte(text), nil
}

func systemPrompt(labels []string) string {
	return fmt.Sprintf(`You are a strict image classifier. Look at each image and classify it as EXACTLY one of these categories: %s

CRITICAL RULES:
1. Only classify if the image CLEARLY shows one of these objects
2. Be VERY strict - if unsure, classify as "%s"
3. Return ONLY JSON in this exact format:
{"class": "category_name_or_%s", "confidence": 0.95}

NO explanations, NO reasoning, NO extra text - just the JSON.`,
		strings.Join(labels, ", "), IrrelevantLabel, IrrelevantLabel)
}
