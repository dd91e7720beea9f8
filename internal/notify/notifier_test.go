package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// --- Mocks ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, n *realtime.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
func (m *mockStore) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*realtime.Notification, error) {
	args := m.Called(ctx, recipientID, limit)
	var result []*realtime.Notification
	if val, ok := args.Get(0).([]*realtime.Notification); ok {
		result = val
	}
	return result, args.Error(1)
}
func (m *mockStore) MarkRead(ctx context.Context, recipientID string, ids []string) (int, error) {
	args := m.Called(ctx, recipientID, ids)
	return args.Int(0), args.Error(1)
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, identity string, payload any) bool {
	args := m.Called(ctx, identity, payload)
	return args.Bool(0)
}

func newNotifier(t *testing.T) (*Notifier, *mockStore, *mockDeliverer) {
	t.Helper()
	store := new(mockStore)
	deliverer := new(mockDeliverer)
	n, err := New(store, deliverer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.UTC) }
	return n, store, deliverer
}

func TestNotify_StoresAndDelivers(t *testing.T) {
	testCases := []struct {
		name      string
		delivered bool
	}{
		{name: "recipient connected", delivered: true},
		{name: "recipient offline", delivered: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, store, deliverer := newNotifier(t)
			event := CourseViewed{CourseID: "c1", CourseTitle: "Go 101", InstructorID: "7", StudentID: "s1", StudentName: "Sam"}.Event()

			store.On("Save", mock.Anything, mock.AnythingOfType("*realtime.Notification")).Return(nil).Once()
			deliverer.On("Deliver", mock.Anything, "7", mock.MatchedBy(func(p Payload) bool {
				return p.Type == realtime.TypeCourseViewed &&
					p.Message == "Sam has viewed your course: Go 101" &&
					p.CreatedAt == "2024-01-02T03:04:05.600000Z" &&
					p.SenderName == "Sam" &&
					p.RelatedItemType == "course"
			})).Return(tc.delivered).Once()

			record, delivered, err := n.Notify(context.Background(), event)
			require.NoError(t, err)
			assert.Equal(t, tc.delivered, delivered)
			assert.NotEmpty(t, record.ID)
			assert.False(t, record.IsRead)
			store.AssertExpectations(t)
			deliverer.AssertExpectations(t)
		})
	}
}

func TestNotify_StoreFailureSkipsDelivery(t *testing.T) {
	n, store, deliverer := newNotifier(t)
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	_, _, err := n.Notify(context.Background(), CourseViewed{InstructorID: "7", StudentName: "Sam", CourseTitle: "Go"}.Event())
	require.Error(t, err)
	deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_RedeliveredEventIsNotPushedAgain(t *testing.T) {
	n, store, deliverer := newNotifier(t)
	store.On("Save", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: e1", realtime.ErrNotificationExists)).Once()

	event := CourseViewed{InstructorID: "7", StudentName: "Sam", CourseTitle: "Go"}.Event()
	event.ID = "e1"
	record, delivered, err := n.Notify(context.Background(), event)

	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, "e1", record.ID)
	deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_InvalidEvents(t *testing.T) {
	n, store, _ := newNotifier(t)
	cases := map[string]*realtime.DomainEvent{
		"nil":          nil,
		"no recipient": {Type: realtime.TypeOther, Title: "x"},
		"bad type":     {Type: "party", RecipientID: "1", Title: "x"},
		"no text":      {Type: realtime.TypeOther, RecipientID: "1"},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := n.Notify(context.Background(), ev)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestCommentPosted_Event(t *testing.T) {
	long := strings.Repeat("é", 60)
	ev := CommentPosted{CommentID: "cm1", Content: long, CourseTitle: "Algebra", InstructorID: "9", SenderName: "Ann"}.Event()
	assert.Equal(t, realtime.TypeComment, ev.Type)
	assert.Equal(t, "New Comment", ev.Title)
	assert.Equal(t, "New comment on Algebra: "+strings.Repeat("é", 50)+"...", ev.Message)
	assert.Equal(t, "comment", ev.RelatedItemType)
	assert.Equal(t, "cm1", ev.RelatedItemID)

	short := CommentPosted{Content: "nice", InstructorID: "9"}.Event()
	assert.Equal(t, "New comment on content: nice", short.Message)
}

func TestPayloadFor_UnknownSender(t *testing.T) {
	p := PayloadFor(&realtime.Notification{ID: "n1", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "Unknown", p.SenderName)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", p.CreatedAt)
}
