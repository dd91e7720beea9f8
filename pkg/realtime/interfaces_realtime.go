package realtime

import (
	"context"
	"errors"
)

// ErrNotPresent is returned by a PresenceCache when no entry exists.
var ErrNotPresent = errors.New("identity not present")

// ErrNotificationExists is returned by NotificationStore.Save when a record
// with the same ID is already stored, e.g. after a bus redelivery.
var ErrNotificationExists = errors.New("notification already exists")

// Deliverer pushes a payload to the live connection of an identity.
// It reports false when the identity has no registered connection; callers
// own any durable fallback.
type Deliverer interface {
	Deliver(ctx context.Context, identity string, payload any) bool
}

// EventProducer publishes domain events onto the ingestion bus.
type EventProducer interface {
	Publish(ctx context.Context, event *DomainEvent) error
}

// NotificationStore persists notification records.
type NotificationStore interface {
	// Save stores a new notification record.
	Save(ctx context.Context, n *Notification) error

	// ListForRecipient returns up to limit notifications for the recipient,
	// newest first.
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*Notification, error)

	// MarkRead flags the given notifications as read. Only unread records
	// owned by recipientID are touched; the count of updated records is returned.
	MarkRead(ctx context.Context, recipientID string, ids []string) (int, error)
}

// PresenceCache records which identities are connected, and where.
type PresenceCache interface {
	Set(ctx context.Context, identity string, info ConnectionInfo) error
	Fetch(ctx context.Context, identity string) (ConnectionInfo, error)
	Delete(ctx context.Context, identity string) error
}
