package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
)

// pubsubSubscriber defines the interface for the underlying pubsub.Subscriber.
type pubsubSubscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer adapts a Pub/Sub subscription to messagepipeline.MessageConsumer.
type Consumer struct {
	sub    pubsubSubscriber
	msgs   chan messagepipeline.Message
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConsumer creates a consumer over sub. buffer bounds how many received
// messages may wait for a worker.
func NewConsumer(sub pubsubSubscriber, buffer int, logger *slog.Logger) *Consumer {
	return &Consumer{
		sub:    sub,
		msgs:   make(chan messagepipeline.Message, buffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "pubsub_consumer"),
	}
}

func (c *Consumer) Messages() <-chan messagepipeline.Message { return c.msgs }
func (c *Consumer) Done() <-chan struct{}                    { return c.done }

// Start begins receiving in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("consumer already started")
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	go func() {
		defer close(c.done)
		defer close(c.msgs)
		err := c.sub.Receive(rctx, func(ctx context.Context, m *pubsub.Message) {
			msg := messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID:          m.ID,
					Payload:     m.Data,
					PublishTime: m.PublishTime,
				},
				Attributes: m.Attributes,
				Ack:        m.Ack,
				Nack:       m.Nack,
			}
			select {
			case c.msgs <- msg:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Pub/Sub receive stopped with error", "err", err)
		}
	}()
	c.logger.Info("Pub/Sub consumer started")
	return nil
}

// Stop cancels the receive loop and waits for it to exit.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
