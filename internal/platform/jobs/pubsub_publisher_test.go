package jobs

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

	"github.com/photoid-field/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "order-lifecycle")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)
	msg := services.OrderEventMessage{
		OrderID:        "ord_01HTEST",
		Status:         "refund_succeeded",
		PreviousStatus: "rejected",
		Actor:          "admin",
		Terminal:       true,
		OccurredAt:     occurredAt,
	}

	if _, err := publisher.PublishOrderEvent(ctx, msg); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.Status != msg.Status {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["previousStatus"]; attr != "rejected" {
		t.Fatalf("expected previousStatus attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["actor"]; attr != "admin" {
		t.Fatalf("expected actor attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["terminal"]; attr != "true" {
		t.Fatalf("expected terminal attribute, got %q", attr)
	}
}
