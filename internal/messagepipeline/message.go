// Package messagepipeline runs messages from a bus consumer through a
// transform stage and a pool of processing workers.
package messagepipeline

import (
	"context"
	"time"
)

// MessageData is the transport-independent content of a bus message.
type MessageData struct {
	ID          string
	Payload     []byte
	PublishTime time.Time
}

// Message is a single message received from a bus, plus the callbacks that
// settle it with the broker.
type Message struct {
	MessageData
	Attributes map[string]string

	Ack  func()
	Nack func()
}

// MessageConsumer delivers messages from a bus subscription.
type MessageConsumer interface {
	// Messages is closed once the consumer has stopped.
	Messages() <-chan Message
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Done is closed when the consumer has fully shut down.
	Done() <-chan struct{}
}

// MessageTransformer decodes a raw message into a typed payload. Returning
// skip=true drops the message without processing it.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// StreamProcessor handles one decoded payload.
type StreamProcessor[T any] func(ctx context.Context, msg Message, payload *T) error

func ack(m Message) {
	if m.Ack != nil {
		m.Ack()
	}
}

func nack(m Message) {
	if m.Nack != nil {
		m.Nack()
	}
}
