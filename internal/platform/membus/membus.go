// Package membus is an in-process event bus. Events published to it run
// through the same ingestion pipeline as a real broker, which is useful for
// local development and single-instance deployments.
package membus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const (
	// DefaultMaxAttempts bounds redelivery of nacked messages.
	DefaultMaxAttempts = 5

	attrAttempt = "attempt"
)

// Bus pairs a producer with the consumer it feeds.
type Bus struct {
	consumer    *messagepipeline.InMemoryConsumer
	maxAttempts int
	logger      *slog.Logger
}

// New creates a bus with the given buffer size.
func New(buffer, maxAttempts int, logger *slog.Logger) *Bus {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Bus{
		consumer:    messagepipeline.NewInMemoryConsumer(buffer),
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "MemoryBus"),
	}
}

// Consumer returns the consuming side of the bus.
func (b *Bus) Consumer() messagepipeline.MessageConsumer { return b.consumer }

// Publish implements realtime.EventProducer.
func (b *Bus) Publish(ctx context.Context, event *realtime.DomainEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for publishing: %w", err)
	}
	data := messagepipeline.MessageData{
		ID:          event.ID,
		Payload:     payload,
		PublishTime: time.Now().UTC(),
	}
	return b.push(ctx, data, 1)
}

func (b *Bus) push(ctx context.Context, data messagepipeline.MessageData, attempt int) error {
	msg := messagepipeline.Message{
		MessageData: data,
		Attributes:  map[string]string{attrAttempt: strconv.Itoa(attempt)},
		Ack:         func() {},
	}
	msg.Nack = func() { b.redeliver(data, attempt) }

	if err := b.consumer.Push(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// redeliver runs off the worker goroutine so a full buffer cannot block the
// worker that nacked.
func (b *Bus) redeliver(data messagepipeline.MessageData, attempt int) {
	log := b.logger.With("msg_id", data.ID, "attempt", attempt)
	if attempt >= b.maxAttempts {
		log.Error("Dropping message after repeated failures")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.push(ctx, data, attempt+1); err != nil {
			log.Warn("Failed to redeliver message", "err", err)
		}
	}()
}
