package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

const createNotificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
	id                TEXT PRIMARY KEY,
	recipient_id      TEXT NOT NULL,
	sender_id         TEXT NOT NULL DEFAULT '',
	sender_name       TEXT NOT NULL DEFAULT '',
	type              TEXT NOT NULL,
	title             TEXT NOT NULL,
	message           TEXT NOT NULL,
	course_id         TEXT NOT NULL DEFAULT '',
	course_title      TEXT NOT NULL DEFAULT '',
	related_item_id   TEXT NOT NULL DEFAULT '',
	related_item_type TEXT NOT NULL DEFAULT '',
	is_read           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_recipient_created_idx
	ON notifications (recipient_id, created_at DESC);`

const uniqueViolation = "23505"

const insertNotification = `
INSERT INTO notifications (
	id, recipient_id, sender_id, sender_name, type, title, message,
	course_id, course_title, related_item_id, related_item_type, is_read, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const selectForRecipient = `
SELECT id, recipient_id, sender_id, sender_name, type, title, message,
	course_id, course_title, related_item_id, related_item_type, is_read, created_at
FROM notifications
WHERE recipient_id = $1
ORDER BY created_at DESC
LIMIT $2`

const markRead = `
UPDATE notifications SET is_read = TRUE
WHERE recipient_id = $1 AND id = ANY($2) AND is_read = FALSE`

// pgxConn is the subset of *pgxpool.Pool the store uses.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps notifications in a single notifications table.
type PostgresStore struct {
	db     pgxConn
	logger *slog.Logger
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pgx pool cannot be nil")
	}
	return &PostgresStore{db: pool, logger: logger.With("component", "postgres_notification_store")}, nil
}

// EnsureSchema creates the notifications table and index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createNotificationsTable); err != nil {
		return fmt.Errorf("failed to create notifications schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, n *realtime.Notification) error {
	_, err := s.db.Exec(ctx, insertNotification,
		n.ID, n.RecipientID, n.SenderID, n.SenderName, string(n.Type), n.Title, n.Message,
		n.CourseID, n.CourseTitle, n.RelatedItemID, n.RelatedItemType, n.IsRead, n.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", realtime.ErrNotificationExists, n.ID)
	}
	if err != nil {
		s.logger.Error("Failed to save notification", "notification_id", n.ID, "err", err)
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*realtime.Notification, error) {
	rows, err := s.db.Query(ctx, selectForRecipient, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*realtime.Notification, 0)
	for rows.Next() {
		var n realtime.Notification
		var typ string
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.SenderID, &n.SenderName, &typ, &n.Title, &n.Message,
			&n.CourseID, &n.CourseTitle, &n.RelatedItemID, &n.RelatedItemType, &n.IsRead, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = realtime.NotificationType(typ)
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, recipientID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, markRead, recipientID, ids)
	if err != nil {
		s.logger.Error("Failed to mark notifications read", "recipient_id", recipientID, "err", err)
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
