package membus_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
	"github.com/tinywideclouds/go-realtime-service/internal/platform/membus"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan messagepipeline.Message) messagepipeline.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return messagepipeline.Message{}
	}
}

func TestBus_PublishAssignsID(t *testing.T) {
	ctx := context.Background()
	bus := membus.New(4, 3, newTestLogger())
	event := &realtime.DomainEvent{Type: realtime.TypeComment, RecipientID: "7", Title: "New Comment"}

	require.NoError(t, bus.Publish(ctx, event))
	require.NotEmpty(t, event.ID)

	msg := receive(t, bus.Consumer().Messages())
	assert.Equal(t, event.ID, msg.ID)
	assert.Equal(t, "1", msg.Attributes["attempt"])

	var decoded realtime.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, "7", decoded.RecipientID)
}

func TestBus_NackRedeliversUntilLimit(t *testing.T) {
	ctx := context.Background()
	bus := membus.New(4, 2, newTestLogger())
	require.NoError(t, bus.Publish(ctx, &realtime.DomainEvent{ID: "e1", Type: realtime.TypeOther, RecipientID: "7", Title: "x"}))

	first := receive(t, bus.Consumer().Messages())
	first.Nack()

	second := receive(t, bus.Consumer().Messages())
	assert.Equal(t, "e1", second.ID)
	assert.Equal(t, "2", second.Attributes["attempt"])
	second.Nack()

	select {
	case msg := <-bus.Consumer().Messages():
		t.Fatalf("unexpected redelivery of %s", msg.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PublishAfterStop(t *testing.T) {
	ctx := context.Background()
	bus := membus.New(1, 0, newTestLogger())
	require.NoError(t, bus.Consumer().Stop(ctx))

	err := bus.Publish(ctx, &realtime.DomainEvent{Type: realtime.TypeOther, RecipientID: "7", Title: "x"})
	assert.ErrorIs(t, err, messagepipeline.ErrConsumerStopped)
}
