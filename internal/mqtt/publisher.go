package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/errors"
)

// Event is the JSON payload published for each accepted frame.
type Event struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Image      string    `json:"image"`
	CapturedAt time.Time `json:"captured_at"`
	Evicted    []string  `json:"evicted,omitempty"`
}

// Publisher sends accepted routing results to <topic>/<label>.
type Publisher struct {
	client Client
	topic  string
}

// NewPublisher creates a Publisher on client with the given base topic.
func NewPublisher(client Client, topic string) *Publisher {
	return &Publisher{client: client, topic: strings.TrimSuffix(topic, "/")}
}

// Topic returns the topic used for label.
func (p *Publisher) Topic(label string) string {
	return p.topic + "/" + label
}

// Publish implements the capture pipeline's publisher contract. Discarded
// results are not published.
func (p *Publisher) Publish(ctx context.Context, res category.RouteResult) error {
	if res.Outcome != category.Accepted {
		return nil
	}

	ev := Event{
		Label:      res.Label,
		Confidence: res.Confidence,
		Image:      res.Entry.Name,
		CapturedAt: res.Entry.CreatedAt,
	}
	for _, e := range res.Evicted {
		ev.Evicted = append(ev.Evicted, e.Name)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal_event").
			Build()
	}
	return p.client.Publish(ctx, p.Topic(res.Label), payload)
}
