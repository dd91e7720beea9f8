// Package notify turns domain events into durable notification records and
// pushes them to recipients that are currently connected.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// ErrInvalidEvent is returned for events that cannot become a notification.
var ErrInvalidEvent = errors.New("invalid domain event")

const (
	unknownSender     = "Unknown"
	payloadTimeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Payload is the real-time representation of a stored notification, sent as
// the data of a notification frame.
type Payload struct {
	ID              string                    `json:"id"`
	Type            realtime.NotificationType `json:"type"`
	Title           string                    `json:"title"`
	Message         string                    `json:"message"`
	CreatedAt       string                    `json:"created_at"`
	RelatedItemID   string                    `json:"related_item_id,omitempty"`
	RelatedItemType string                    `json:"related_item_type,omitempty"`
	SenderName      string                    `json:"sender_name"`
}

// Notifier persists a notification for each event and attempts live delivery.
type Notifier struct {
	store     realtime.NotificationStore
	deliverer realtime.Deliverer
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Notifier.
func New(store realtime.NotificationStore, deliverer realtime.Deliverer, logger *slog.Logger) (*Notifier, error) {
	if store == nil {
		return nil, errors.New("notification store cannot be nil")
	}
	if deliverer == nil {
		return nil, errors.New("deliverer cannot be nil")
	}
	return &Notifier{
		store:     store,
		deliverer: deliverer,
		now:       time.Now,
		logger:    logger.With("component", "Notifier"),
	}, nil
}

// Notify stores a notification built from event and pushes it to the
// recipient if they are connected. The record is stored whether or not the
// push succeeds; delivered reports whether it reached a live connection.
func (n *Notifier) Notify(ctx context.Context, event *realtime.DomainEvent) (record *realtime.Notification, delivered bool, err error) {
	if err := Validate(event); err != nil {
		return nil, false, err
	}

	record = &realtime.Notification{
		ID:              event.ID,
		RecipientID:     event.RecipientID,
		SenderID:        event.SenderID,
		SenderName:      event.SenderName,
		Type:            event.Type,
		Title:           event.Title,
		Message:         event.Message,
		CourseID:        event.CourseID,
		CourseTitle:     event.CourseTitle,
		RelatedItemID:   event.RelatedItemID,
		RelatedItemType: event.RelatedItemType,
		CreatedAt:       n.now().UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	log := n.logger.With("notification_id", record.ID, "recipient_id", record.RecipientID, "type", record.Type)

	err = n.store.Save(ctx, record)
	if errors.Is(err, realtime.ErrNotificationExists) {
		log.Info("Notification already stored; skipping redelivered event")
		return record, false, nil
	}
	if err != nil {
		log.Error("Failed to store notification", "err", err)
		return nil, false, fmt.Errorf("failed to store notification %s: %w", record.ID, err)
	}

	delivered = n.deliverer.Deliver(ctx, record.RecipientID, PayloadFor(record))
	if delivered {
		log.Info("Notification delivered to live connection")
	} else {
		log.Info("Recipient not connected; notification stored only")
	}
	return record, delivered, nil
}

// PayloadFor renders the real-time payload for a stored record.
func PayloadFor(n *realtime.Notification) Payload {
	sender := n.SenderName
	if sender == "" {
		sender = unknownSender
	}
	return Payload{
		ID:              n.ID,
		Type:            n.Type,
		Title:           n.Title,
		Message:         n.Message,
		CreatedAt:       n.CreatedAt.UTC().Format(payloadTimeLayout),
		RelatedItemID:   n.RelatedItemID,
		RelatedItemType: n.RelatedItemType,
		SenderName:      sender,
	}
}

// Validate reports whether e can become a notification.
func Validate(e *realtime.DomainEvent) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case e.RecipientID == "":
		return fmt.Errorf("%w: missing recipient_id", ErrInvalidEvent)
	case !e.Type.IsValid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	case e.Title == "" && e.Message == "":
		return fmt.Errorf("%w: title or message required", ErrInvalidEvent)
	}
	return nil
}
