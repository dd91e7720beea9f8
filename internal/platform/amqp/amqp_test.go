package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// fakeChannel loops published messages back to its consumer.
type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	deliveries chan amqp.Delivery
	acker      *fakeAcknowledger
	publishErr error
	nextTag    uint64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8), acker: &fakeAcknowledger{}}
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.nextTag++
	f.deliveries <- amqp.Delivery{
		Acknowledger: f.acker,
		DeliveryTag:  f.nextTag,
		MessageId:    msg.MessageId,
		Type:         msg.Type,
		Timestamp:    msg.Timestamp,
		Body:         msg.Body,
	}
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(string, bool) error {
	close(f.deliveries)
	return nil
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}
func (a *fakeAcknowledger) Nack(tag uint64, _, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	return nil
}
func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error { return a.Nack(tag, false, false) }

func TestProducerConsumer_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := newFakeChannel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, declare(ch, "events"))
	assert.Equal(t, []string{"events"}, ch.declared)

	consumer := NewConsumer(ch, "events", 4, logger)
	require.NoError(t, consumer.Start(ctx))
	assert.Error(t, consumer.Start(ctx), "second start must fail")

	producer := NewProducer(ch, "events")
	first := &realtime.DomainEvent{Type: realtime.TypeQuestion, RecipientID: "7", Title: "Question", Message: "Why?"}
	second := &realtime.DomainEvent{ID: "fixed-id", Type: realtime.TypeReply, RecipientID: "8", Title: "Reply", Message: "Because"}
	require.NoError(t, producer.Publish(ctx, first))
	require.NoError(t, producer.Publish(ctx, second))
	assert.NotEmpty(t, first.ID)

	ch.mu.Lock()
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	ch.mu.Unlock()

	m1 := <-consumer.Messages()
	assert.Equal(t, first.ID, m1.ID)
	assert.Equal(t, "question", m1.Attributes["event_type"])
	var decoded realtime.DomainEvent
	require.NoError(t, json.Unmarshal(m1.Payload, &decoded))
	assert.Equal(t, "Why?", decoded.Message)
	m1.Ack()

	m2 := <-consumer.Messages()
	assert.Equal(t, "fixed-id", m2.ID)
	m2.Nack()

	assert.Equal(t, []uint64{1}, ch.acker.acks)
	assert.Equal(t, []uint64{2}, ch.acker.nacks)

	require.NoError(t, consumer.Stop(ctx))
	_, open := <-consumer.Messages()
	assert.False(t, open)
}

func TestProducer_PublishError(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	err := NewProducer(ch, "events").Publish(context.Background(), &realtime.DomainEvent{Type: realtime.TypeOther})
	assert.ErrorIs(t, err, ch.publishErr)
}

func TestToMessage_FallbackID(t *testing.T) {
	m := toMessage(amqp.Delivery{DeliveryTag: 42, Headers: amqp.Table{"source": "lms", "n": int32(1)}})
	assert.Equal(t, "delivery-42", m.ID)
	assert.Equal(t, map[string]string{"source": "lms"}, m.Attributes)
}
