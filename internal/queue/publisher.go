package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Publisher = (*RabbitMQPublisher)(nil)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event DeliveryEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid delivery event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, "", DeliveryQueueName, false, false, publishing(event, payload)); err != nil {
		return fmt.Errorf("failed to publish delivery event to %q: %w", DeliveryQueueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func publishing(event DeliveryEvent, payload []byte) amqp.Publishing {
	correlationID := event.MessageID
	if correlationID == "" {
		correlationID = event.To
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     event.OccurredAt.UTC(),
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Type:          deliveryEventType,
		Body:          payload,
	}
}
