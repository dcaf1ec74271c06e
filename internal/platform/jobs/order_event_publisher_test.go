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

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           services.OrderEventStatusChanged,
		OrderID:        "ord_01HTEST",
		CheckoutRef:    "chk_01HTEST",
		PreviousStatus: domain.OrderStatusPending,
		CurrentStatus:  domain.OrderStatusShipped,
		ActorID:        "admin-1",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"trackingId": "TRK123"},
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload OrderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.CurrentStatus != "shipped" || payload.PreviousStatus != "pending" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) || payload.Metadata["trackingId"] != "TRK123" {
		t.Fatalf("unexpected payload metadata %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != services.OrderEventStatusChanged || attrs["orderId"] != "ord_01HTEST" || attrs["status"] != "shipped" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestPubSubOrderEventPublisherOmitsEmptyAttributes(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:    services.OrderEventDeleted,
		OrderID: "ord_gone",
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	attrs := srv.Messages()[0].Attributes
	if _, ok := attrs["checkoutRef"]; ok {
		t.Fatalf("checkoutRef attribute should not be present: %v", attrs)
	}
	if _, ok := attrs["status"]; ok {
		t.Fatalf("status attribute should not be present: %v", attrs)
	}
}

func TestPubSubOrderEventPublisherValidates(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error without topic")
	}
	_, topic := newTestTopic(t)
	publisher, _ := NewPubSubOrderEventPublisher(topic)
	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: services.OrderEventCreated}); err == nil {
		t.Fatal("expected error without order id")
	}
}
