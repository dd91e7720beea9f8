package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
	"github.com/tinywideclouds/go-realtime-service/internal/notify"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// EventNotifier is implemented by *notify.Notifier.
type EventNotifier interface {
	Notify(ctx context.Context, event *realtime.DomainEvent) (*realtime.Notification, bool, error)
}

// NewNotificationProcessor returns the processing stage: each event is
// stored and pushed to the recipient if they are connected here. Invalid
// events are dropped; storage failures are returned so the message is
// redelivered.
func NewNotificationProcessor(notifier EventNotifier, logger *slog.Logger) messagepipeline.StreamProcessor[realtime.DomainEvent] {
	return func(ctx context.Context, msg messagepipeline.Message, event *realtime.DomainEvent) error {
		procLogger := logger.With(
			"recipient_id", event.RecipientID,
			"msg_id", msg.ID,
			"type", event.Type,
		)

		record, delivered, err := notifier.Notify(ctx, event)
		if errors.Is(err, notify.ErrInvalidEvent) {
			procLogger.Warn("Dropping invalid domain event", "err", err)
			return nil
		}
		if err != nil {
			procLogger.Error("Failed to process domain event", "err", err)
			return fmt.Errorf("failed to process domain event: %w", err)
		}

		procLogger.Info("Processed domain event", "notification_id", record.ID, "delivered", delivered)
		return nil
	}
}
