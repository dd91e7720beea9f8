// Package pubsub contains concrete adapters for interacting with Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// Message attribute keys set by the producer.
const (
	AttrEventID   = "event_id"
	AttrEventType = "event_type"
)

// pubsubTopicClient defines the interface for the underlying pubsub.Publisher.
// This allows us to use a mock for testing.
type pubsubTopicClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Producer implements the realtime.EventProducer interface by publishing
// domain events as JSON to a Pub/Sub topic.
type Producer struct {
	topic pubsubTopicClient
}

// NewProducer is the constructor for the Pub/Sub producer.
func NewProducer(topic pubsubTopicClient) *Producer {
	return &Producer{topic: topic}
}

// Publish serializes the event and waits for the server to accept it. An
// event without an ID is assigned one so consumers can deduplicate.
func (p *Producer) Publish(ctx context.Context, event *realtime.DomainEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for publishing: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			AttrEventID:   event.ID,
			AttrEventType: string(event.Type),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
