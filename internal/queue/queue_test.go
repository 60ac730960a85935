package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func validEvent() DeliveryEvent {
	ack := 1
	return DeliveryEvent{
		MessageID:  "m-1",
		Robot:      1,
		To:         "6281234567890",
		Method:     domain.MethodQueued,
		Status:     domain.StatusSuccess,
		AckCode:    &ack,
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestDeliveryEventValidate(t *testing.T) {
	t.Parallel()

	if err := validEvent().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*DeliveryEvent)
	}{
		{name: "missing to", mutate: func(e *DeliveryEvent) { e.To = " " }},
		{name: "invalid robot", mutate: func(e *DeliveryEvent) { e.Robot = 0 }},
		{name: "non terminal status", mutate: func(e *DeliveryEvent) { e.Status = domain.StatusPending }},
		{name: "missing timestamp", mutate: func(e *DeliveryEvent) { e.OccurredAt = time.Time{} }},
	}

	for _, tc := range testCases {
		event := validEvent()
		tc.mutate(&event)
		if err := event.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestPublishingPayload(t *testing.T) {
	t.Parallel()

	event := validEvent()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	p := publishing(event, payload)
	if p.DeliveryMode != amqp.Persistent {
		t.Fatalf("DeliveryMode = %d, want persistent", p.DeliveryMode)
	}
	if p.CorrelationId != "m-1" || p.Type != deliveryEventType || p.MessageId == "" {
		t.Fatalf("publishing headers = %+v", p)
	}

	var decoded map[string]any
	if err := json.Unmarshal(p.Body, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded["messageId"] != "m-1" || decoded["status"] != "success" || decoded["ackCode"] != float64(1) {
		t.Fatalf("payload = %v", decoded)
	}

	direct := validEvent()
	direct.MessageID = ""
	if got := publishing(direct, payload).CorrelationId; got != direct.To {
		t.Fatalf("CorrelationId without message id = %q, want recipient", got)
	}
}

func TestDeliveryQueueArgs(t *testing.T) {
	t.Parallel()

	args := deliveryQueueArgs()
	if args["x-dead-letter-exchange"] != "whatsapp.dlx" {
		t.Fatalf("dead-letter exchange = %v", args["x-dead-letter-exchange"])
	}
	if args["x-dead-letter-routing-key"] != deliveryRoutingKey {
		t.Fatalf("dead-letter routing key = %v", args["x-dead-letter-routing-key"])
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), validEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestRabbitMQPublisherRequiresClient(t *testing.T) {
	t.Parallel()

	if err := NewRabbitMQPublisher(nil).Publish(context.Background(), validEvent()); err == nil {
		t.Fatal("Publish() expected error without client")
	}
	if _, err := NewRabbitMQ(" ", nil); err == nil {
		t.Fatal("NewRabbitMQ() expected error for blank url")
	}
}
