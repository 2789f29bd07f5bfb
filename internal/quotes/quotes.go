// Package quotes turns a cooking timeline into timed narration lines.
package quotes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/session"
)

// Step is one entry of a cooking timeline. Times are seconds from the start
// of the session.
type Step struct {
	ID       string  `json:"id" yaml:"id"`
	TStart   float64 `json:"tStart" yaml:"tStart"`
	TEnd     float64 `json:"tEnd" yaml:"tEnd"`
	Type     string  `json:"type" yaml:"type"`
	Text     string  `json:"text" yaml:"text"`
	Category string  `json:"category" yaml:"category"`
}

// Generator produces narration events for a timeline.
type Generator interface {
	Generate(ctx context.Context, steps []Step) ([]session.QuoteEvent, error)
}

// DefaultFirstQuoteOffset is where the opening line lands when the first
// step starts at zero.
const DefaultFirstQuoteOffset = 30 * time.Second

// TemplateGenerator produces one canned line per step. It needs no network
// and always succeeds.
type TemplateGenerator struct {
	FirstQuoteOffset time.Duration
}

var templates = map[string][]string{
	"prep": {
		"Right! Focus now. %s. Precision, that's what I want!",
		"Come on, mise en place! %s, nice and tidy.",
	},
	"cook": {
		"Listen to that pan! %s. Keep the heat where it belongs!",
		"Come on, move! %s, and don't you dare walk away from it.",
	},
	"finish": {
		"Beautiful! %s. Now that's a plate I'd serve!",
		"Perfect! %s. Look at that, you've nailed it!",
	},
	"": {
		"Let's go! %s. You've got this!",
		"That's it! %s. Keep going!",
	},
}

// Generate implements Generator.
func (g TemplateGenerator) Generate(_ context.Context, steps []Step) ([]session.QuoteEvent, error) {
	first := g.FirstQuoteOffset
	if first <= 0 {
		first = DefaultFirstQuoteOffset
	}

	events := make([]session.QuoteEvent, 0, len(steps))
	for i, step := range steps {
		offset := max(step.TStart, 0)
		if i == 0 && offset == 0 {
			offset = first.Seconds()
		}
		events = append(events, session.QuoteEvent{
			StepID: step.ID,
			Offset: offset,
			Text:   templateLine(i, step),
		})
	}
	return events, nil
}

func templateLine(i int, step Step) string {
	key := strings.ToLower(step.Category)
	if step.Type == "end" {
		key = "finish"
	}
	lines, ok := templates[key]
	if !ok {
		lines = templates[""]
	}
	text := strings.TrimRight(strings.TrimSpace(step.Text), ".!")
	if text == "" {
		text = "Next step"
	}
	return fmt.Sprintf(lines[i%len(lines)], text)
}

// Fallback returns a Generator that uses secondary when primary fails or
// produces nothing.
func Fallback(primary, secondary Generator) Generator {
	return &fallback{primary: primary, secondary: secondary, log: GetLogger()}
}

type fallback struct {
	primary   Generator
	secondary Generator
	log       logger.Logger
}

func (f *fallback) Generate(ctx context.Context, steps []Step) ([]session.QuoteEvent, error) {
	events, err := f.primary.Generate(ctx, steps)
	if err == nil && len(events) > 0 {
		return events, nil
	}
	if err != nil {
		f.log.Warn("quote generation failed, using fallback", logger.Error(err))
	} else if len(steps) > 0 {
		f.log.Warn("quote generation returned nothing, using fallback", logger.Int("steps", len(steps)))
	}
	return f.secondary.Generate(ctx, steps)
}

// GetLogger returns the quotes module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("quotes")
}
