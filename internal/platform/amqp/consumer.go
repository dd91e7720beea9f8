package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
)

// Consumer adapts a RabbitMQ queue to messagepipeline.MessageConsumer.
// Deliveries are acknowledged manually once the pipeline settles them;
// a nack requeues the delivery.
type Consumer struct {
	channel   amqpChannel
	queueName string
	prefetch  int
	tag       string
	msgs      chan messagepipeline.Message
	done      chan struct{}
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewConsumer creates a consumer for queueName.
func NewConsumer(channel amqpChannel, queueName string, prefetch int, logger *slog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		channel:   channel,
		queueName: queueName,
		prefetch:  prefetch,
		tag:       "realtime-" + uuid.NewString(),
		msgs:      make(chan messagepipeline.Message),
		done:      make(chan struct{}),
		logger:    logger.With("component", "amqp_consumer", "queue", queueName),
	}
}

func (c *Consumer) Messages() <-chan messagepipeline.Message { return c.msgs }
func (c *Consumer) Done() <-chan struct{}                    { return c.done }

// Start registers the consumer with the broker.
func (c *Consumer) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("consumer already started")
	}
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := c.channel.Consume(c.queueName, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.started = true

	go func() {
		defer close(c.done)
		defer close(c.msgs)
		for d := range deliveries {
			c.msgs <- toMessage(d)
		}
		c.logger.Info("AMQP delivery channel closed")
	}()
	c.logger.Info("AMQP consumer started", "tag", c.tag)
	return nil
}

// Stop cancels the broker subscription. The broker closes the delivery
// channel once in-flight deliveries are handed over.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}
	if err := c.channel.Cancel(c.tag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer: %w", err)
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toMessage(d amqp.Delivery) messagepipeline.Message {
	attrs := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	if d.Type != "" {
		attrs["event_type"] = d.Type
	}
	id := d.MessageId
	if id == "" {
		id = fmt.Sprintf("delivery-%d", d.DeliveryTag)
	}
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          id,
			Payload:     d.Body,
			PublishTime: d.Timestamp,
		},
		Attributes: attrs,
		Ack:        func() { _ = d.Ack(false) },
		Nack:       func() { _ = d.Nack(false, true) },
	}
}
