package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// MemoryStore is a process-local NotificationStore for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	byRecipient map[string]map[string]*realtime.Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRecipient: make(map[string]map[string]*realtime.Notification)}
}

func (s *MemoryStore) Save(_ context.Context, n *realtime.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.byRecipient[n.RecipientID]
	if !ok {
		box = make(map[string]*realtime.Notification)
		s.byRecipient[n.RecipientID] = box
	}
	if _, exists := box[n.ID]; exists {
		return fmt.Errorf("%w: %s", realtime.ErrNotificationExists, n.ID)
	}
	cp := *n
	box[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListForRecipient(_ context.Context, recipientID string, limit int) ([]*realtime.Notification, error) {
	s.mu.RLock()
	out := make([]*realtime.Notification, 0, len(s.byRecipient[recipientID]))
	for _, n := range s.byRecipient[recipientID] {
		cp := *n
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, recipientID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	box := s.byRecipient[recipientID]
	updated := 0
	for _, id := range ids {
		if n, ok := box[id]; ok && !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}
