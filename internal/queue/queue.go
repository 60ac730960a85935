package queue

import (
	"context"
)

// Publisher publishes delivery outcome events for downstream consumers such
// as reporting or ticket timelines.
type Publisher interface {
	Publish(ctx context.Context, event DeliveryEvent) error
	Close() error
}

const (
	// DeliveryQueueName receives one event per finished delivery attempt.
	DeliveryQueueName = "whatsapp.delivery"
	// DeliveryDLQName collects events rejected by consumers.
	DeliveryDLQName = "whatsapp.delivery.dlq"

	dlxExchangeName    = "whatsapp.dlx"
	deliveryRoutingKey = "delivery"
	deliveryEventType  = "whatsapp.delivery.v1"
)

var _ Publisher = NopPublisher{}

// NopPublisher drops events. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DeliveryEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
