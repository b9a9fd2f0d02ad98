package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tradewinds/api/internal/services"
)

func TestPubSubPublisherPublishesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "commerce-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}

	occurredAt := time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)
	err = publisher.PublishEvent(ctx, services.Event{
		Type:       "order.created",
		OccurredAt: occurredAt,
		Payload: map[string]any{
			"orderId": "ord_1",
			"total":   int64(66597),
		},
	})
	if err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(messages[0].Data, &envelope); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if envelope.Type != "order.created" {
		t.Fatalf("unexpected type %q", envelope.Type)
	}
	if !envelope.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurredAt %v", envelope.OccurredAt)
	}
	if envelope.Payload["orderId"] != "ord_1" {
		t.Fatalf("unexpected payload %#v", envelope.Payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.created" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
}

func TestPubSubPublisherRejectsEmptyType(t *testing.T) {
	publisher := &PubSubPublisher{topic: &pubsub.Topic{}, marshal: json.Marshal}
	if err := publisher.PublishEvent(context.Background(), services.Event{}); err == nil {
		t.Fatal("expected an error for an empty event type")
	}
}
