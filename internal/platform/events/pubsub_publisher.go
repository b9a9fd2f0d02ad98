package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/tradewinds/api/internal/services"
)

// PubSubPublisher fans domain events out to a Pub/Sub topic. Consumers pick
// orders, payments and stock movements apart by the eventType attribute.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type eventEnvelope struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// PublishEvent enqueues the event on the configured topic and waits for the
// server acknowledgement so callers can log delivery failures.
func (p *PubSubPublisher) PublishEvent(ctx context.Context, event services.Event) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if event.Type == "" {
		return errors.New("pubsub event publisher: event type is required")
	}

	data, err := p.marshal(eventEnvelope{
		Type:       event.Type,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"eventType":  event.Type,
			"occurredAt": event.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

var _ services.EventPublisher = (*PubSubPublisher)(nil)
