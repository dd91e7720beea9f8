// Package pipeline holds the stages that turn bus messages into stored and
// delivered notifications.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// EventTransformer is a messagepipeline transformer stage that unmarshals a
// raw bus payload into a realtime.DomainEvent.
//
// An event without an ID takes the bus message ID so redeliveries map to the
// same notification record. A payload that is not a JSON event is reported
// as an error and skipped.
func EventTransformer(_ context.Context, msg *messagepipeline.Message) (*realtime.DomainEvent, bool, error) {
	var event realtime.DomainEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("Failed to unmarshal domain event", "err", err, "msg_id", msg.ID)
		return nil, true, fmt.Errorf("failed to unmarshal domain event from message %s: %w", msg.ID, err)
	}
	if event.ID == "" {
		event.ID = msg.ID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = msg.PublishTime
	}
	return &event, false, nil
}
