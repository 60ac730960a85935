package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 15 * time.Second
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// RabbitMQ owns one broker connection and a single publishing channel. The
// channel is opened lazily and reopened, with the topology redeclared, after
// the broker drops it.
type RabbitMQ struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.channel(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// Healthy reports whether the broker connection is currently open.
func (r *RabbitMQ) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	ch, conn := r.ch, r.conn
	r.ch, r.conn = nil, nil
	r.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		_ = ch.Close()
	}
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel returns the shared publishing channel, redialing with capped
// exponential backoff until ctx ends.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		ch, err := r.open()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("rabbitmq connection restored", zap.Int("attempts", attempt))
			}
			r.ch = ch
			return ch, nil
		}

		r.logger.Warn("rabbitmq connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("rabbitmq unavailable: %w", ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// open dials when needed and declares the topology on a fresh channel.
// Callers hold r.mu.
func (r *RabbitMQ) open() (*amqp.Channel, error) {
	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.DialConfig(r.url, amqp.Config{
			Dial:       amqp.DefaultDial(dialTimeout),
			Properties: amqp.Table{"connection_name": "whatsapp-dispatch"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		r.conn = conn
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// declareTopology declares the delivery event queue and its dead-letter pair.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(DeliveryDLQName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", DeliveryDLQName, err)
	}
	if err := ch.QueueBind(DeliveryDLQName, deliveryRoutingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", DeliveryDLQName, err)
	}

	if _, err := ch.QueueDeclare(DeliveryQueueName, true, false, false, false, deliveryQueueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", DeliveryQueueName, err)
	}

	return nil
}

func deliveryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": deliveryRoutingKey,
		"x-queue-type":              "classic",
	}
}
