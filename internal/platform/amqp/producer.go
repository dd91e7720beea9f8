package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// Producer publishes domain events as persistent JSON messages to a queue
// through the default exchange.
type Producer struct {
	channel   amqpChannel
	queueName string
}

// NewProducer creates a producer for queueName.
func NewProducer(channel amqpChannel, queueName string) *Producer {
	return &Producer{channel: channel, queueName: queueName}
}

// Publish implements realtime.EventProducer.
func (p *Producer) Publish(ctx context.Context, event *realtime.DomainEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for publishing: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}
