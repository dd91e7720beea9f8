package persistence_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newNotification(recipient string, createdAt time.Time, title string) *realtime.Notification {
	return &realtime.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipient,
		SenderName:  "Sam",
		Type:        realtime.TypeComment,
		Title:       title,
		Message:     "message for " + title,
		CreatedAt:   createdAt.UTC().Truncate(time.Microsecond),
	}
}

// runStoreContract exercises the NotificationStore behaviour every backend
// must share.
func runStoreContract(t *testing.T, store realtime.NotificationStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	recipient := "recipient-" + uuid.NewString()
	other := "other-" + uuid.NewString()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var saved []*realtime.Notification
	for i := 0; i < 3; i++ {
		n := newNotification(recipient, base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("n%d", i))
		require.NoError(t, store.Save(ctx, n))
		saved = append(saved, n)
	}
	foreign := newNotification(other, base, "foreign")
	require.NoError(t, store.Save(ctx, foreign))

	t.Run("duplicate save is rejected", func(t *testing.T) {
		err := store.Save(ctx, saved[0])
		assert.ErrorIs(t, err, realtime.ErrNotificationExists)
	})

	t.Run("list newest first", func(t *testing.T) {
		got, err := store.ListForRecipient(ctx, recipient, 50)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "n2", got[0].Title)
		assert.Equal(t, "n1", got[1].Title)
		assert.Equal(t, "n0", got[2].Title)
		assert.True(t, got[0].CreatedAt.Equal(saved[2].CreatedAt))
		assert.Equal(t, realtime.TypeComment, got[0].Type)
	})

	t.Run("list respects limit", func(t *testing.T) {
		got, err := store.ListForRecipient(ctx, recipient, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "n2", got[0].Title)
	})

	t.Run("list unknown recipient", func(t *testing.T) {
		got, err := store.ListForRecipient(ctx, "nobody-"+uuid.NewString(), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("mark read", func(t *testing.T) {
		ids := []string{saved[0].ID, saved[1].ID, foreign.ID, "does-not-exist"}
		updated, err := store.MarkRead(ctx, recipient, ids)
		require.NoError(t, err)
		assert.Equal(t, 2, updated, "only unread records owned by the recipient count")

		again, err := store.MarkRead(ctx, recipient, ids)
		require.NoError(t, err)
		assert.Zero(t, again, "already-read records are not updated again")

		got, err := store.ListForRecipient(ctx, recipient, 50)
		require.NoError(t, err)
		read := map[string]bool{}
		for _, n := range got {
			read[n.ID] = n.IsRead
		}
		assert.True(t, read[saved[0].ID])
		assert.True(t, read[saved[1].ID])
		assert.False(t, read[saved[2].ID])

		foreignList, err := store.ListForRecipient(ctx, other, 10)
		require.NoError(t, err)
		require.Len(t, foreignList, 1)
		assert.False(t, foreignList[0].IsRead)
	})

	t.Run("mark read with no ids", func(t *testing.T) {
		updated, err := store.MarkRead(ctx, recipient, nil)
		require.NoError(t, err)
		assert.Zero(t, updated)
	})
}
