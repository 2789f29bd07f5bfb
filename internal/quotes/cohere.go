package quotes

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/gordon-go/internal/cohere"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/session"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "command-a-03-2025"

const (
	generationMaxTokens   = 800
	generationTemperature = 0.6
	defaultStepLength     = 300
)

const personaPrompt = `You are Gordon Ramsay writing coaching lines for a cook working through the steps below. Every line must be about the exact action in its step.

STYLE:
- Signature phrases: "Right!", "Come on!", "Beautiful!", "Perfect!", "Bloody hell!"
- Direct and encouraging: "Let's go!", "That's it!", "Keep going!"
- Real kitchen vocabulary: sear, sauté, mise en place, seasoning
- One or two sentences, punchy
- Match the energy to the step: prep is focused, cooking is energetic, the end is celebratory

REQUIREMENTS:
1. Mention the ingredients, techniques, times or temperatures named in the step
2. No generic lines; no two lines share a structure
3. The first line is at timestamp %d, every other line at its step's tStart
4. Include a line for the final step

Reply with JSON only, exactly in this shape:
{
  "quotes": [
    {"stepId": "step-1", "timestamp": %d, "quote": "..."},
    {"stepId": "step-2", "timestamp": 300, "quote": "..."}
  ]
}`

// CohereConfig configures the Cohere quote generator.
type CohereConfig struct {
	APIKey           string
	Endpoint         string
	Model            string
	FirstQuoteOffset time.Duration
}

// CohereGenerator writes narration lines with a Cohere chat model.
type CohereGenerator struct {
	chat  *cohere.Client
	model string
	first int
	log   logger.Logger
}

// NewCohereGenerator creates a Cohere backed Generator.
func NewCohereGenerator(http *httpclient.Client, cfg CohereConfig) (*CohereGenerator, error) {
	chat, err := cohere.NewClient(http, cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	first := cfg.FirstQuoteOffset
	if first <= 0 {
		first = DefaultFirstQuoteOffset
	}
	return &CohereGenerator{chat: chat, model: model, first: int(first.Seconds()), log: GetLogger()}, nil
}

// Generate implements Generator. Lines that fail validation are dropped.
func (g *CohereGenerator) Generate(ctx context.Context, steps []Step) ([]session.QuoteEvent, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	text, err := g.chat.Chat(ctx, &cohere.ChatRequest{
		Model: g.model,
		Messages: []cohere.Message{
			{Role: "user", Content: g.prompt(steps)},
		},
		MaxTokens:   generationMaxTokens,
		Temperature: generationTemperature,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("quotes").
			Category(errors.CategoryGeneration).
			Context("model", g.model).
			Context("steps", len(steps)).
			Build()
	}

	events, err := ParseQuotes(text)
	if err != nil {
		return nil, err
	}
	g.log.Info("quotes generated",
		logger.Int("steps", len(steps)),
		logger.Int("quotes", len(events)))
	return events, nil
}

func (g *CohereGenerator) prompt(steps []Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, personaPrompt, g.first, g.first)
	b.WriteString("\n\nTIMELINE:\n")
	for i, s := range steps {
		end := s.TEnd
		if end <= s.TStart {
			end = s.TStart + defaultStepLength
		}
		duration := int(end - s.TStart)
		typ := s.Type
		if typ == "" {
			typ = "instruction"
		}
		category := s.Category
		if category == "" {
			category = "general"
		}
		fmt.Fprintf(&b, "Step %d (%s): %q | Type: %s | Category: %s | Time: %gs-%gs (%dmin %ds)\n",
			i+1, s.ID, s.Text, typ, category, s.TStart, end, duration/60, duration%60)
	}
	b.WriteString("\nWrite one distinct line per step.")
	return b.String()
}

// ParseQuotes extracts the quotes array from a model reply. The JSON object
// may be surrounded by other text. Entries without text or with an invalid
// timestamp are dropped.
func ParseQuotes(text string) ([]session.QuoteEvent, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, malformed("no json object in reply")
	}

	obj, err := jason.NewObjectFromBytes([]byte(text[start : end+1]))
	if err != nil {
		return nil, malformed(err.Error())
	}
	items, err := obj.GetObjectArray("quotes")
	if err != nil {
		return nil, malformed("missing quotes array")
	}

	events := make([]session.QuoteEvent, 0, len(items))
	for _, item := range items {
		quote, err := item.GetString("quote")
		if err != nil || strings.TrimSpace(quote) == "" {
			continue
		}
		offset, err := item.GetFloat64("timestamp")
		if err != nil || offset < 0 || math.IsNaN(offset) || math.IsInf(offset, 0) {
			continue
		}
		stepID, _ := item.GetString("stepId")
		events = append(events, session.QuoteEvent{
			StepID: stepID,
			Offset: offset,
			Text:   strings.TrimSpace(quote),
		})
	}
	return events, nil
}

func malformed(reason string) error {
	return errors.Newf("malformed quote reply: %s", reason).
		Component("quotes").
		Category(errors.CategoryMalformedResponse).
		Build()
}
