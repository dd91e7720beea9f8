// Package persistence provides NotificationStore implementations.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const notificationsCollection = "notifications"

// FirestoreStore keeps notifications in a per-recipient subcollection:
// {collection}/{recipientID}/notifications/{notificationID}.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         *slog.Logger
}

// NewFirestoreStore is the constructor for the FirestoreStore.
func NewFirestoreStore(client *firestore.Client, collectionName string, logger *slog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collectionName cannot be empty")
	}
	return &FirestoreStore{
		client:         client,
		collectionName: collectionName,
		logger:         logger.With("component", "firestore_notification_store", "collection", collectionName),
	}, nil
}

func (s *FirestoreStore) notifications(recipientID string) *firestore.CollectionRef {
	return s.client.Collection(s.collectionName).Doc(recipientID).Collection(notificationsCollection)
}

// Save creates the notification document. Saving an ID twice fails.
func (s *FirestoreStore) Save(ctx context.Context, n *realtime.Notification) error {
	log := s.logger.With("recipient_id", n.RecipientID, "notification_id", n.ID)
	_, err := s.notifications(n.RecipientID).Doc(n.ID).Create(ctx, n)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s", realtime.ErrNotificationExists, n.ID)
	}
	if err != nil {
		log.Error("Failed to save notification", "err", err)
		return fmt.Errorf("failed to save notification: %w", err)
	}
	log.Debug("Saved notification")
	return nil
}

// ListForRecipient returns the newest notifications first.
func (s *FirestoreStore) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*realtime.Notification, error) {
	log := s.logger.With("recipient_id", recipientID)
	query := s.notifications(recipientID).OrderBy("created_at", firestore.Desc).Limit(limit)

	docSnaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		log.Error("Failed to list notifications", "err", err)
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	out := make([]*realtime.Notification, 0, len(docSnaps))
	for _, doc := range docSnaps {
		var n realtime.Notification
		if err := doc.DataTo(&n); err != nil {
			log.Error("Failed to decode stored notification, skipping", "err", err, "doc_id", doc.Ref.ID)
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}

// MarkRead sets is_read on the unread notifications among ids in a single
// transaction. Unknown IDs are ignored.
func (s *FirestoreStore) MarkRead(ctx context.Context, recipientID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	col := s.notifications(recipientID)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, col.Doc(id))
	}

	var updated int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		updated = 0
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			read, err := snap.DataAt("is_read")
			if err != nil {
				return err
			}
			if isRead, _ := read.(bool); isRead {
				continue
			}
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: "is_read", Value: true}}); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to mark notifications read", "recipient_id", recipientID, "err", err)
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	s.logger.Debug("Marked notifications read", "recipient_id", recipientID, "updated", updated)
	return updated, nil
}
