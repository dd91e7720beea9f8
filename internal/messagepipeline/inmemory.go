package messagepipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrConsumerStopped is returned by Push after Stop.
var ErrConsumerStopped = errors.New("consumer stopped")

// InMemoryConsumer is a MessageConsumer fed directly by Push. It backs the
// in-process ingress and pipeline tests.
type InMemoryConsumer struct {
	msgs     chan Message
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewInMemoryConsumer creates a consumer with the given buffer size.
func NewInMemoryConsumer(buffer int) *InMemoryConsumer {
	return &InMemoryConsumer{
		msgs: make(chan Message, buffer),
		done: make(chan struct{}),
	}
}

// Push enqueues msg, blocking while the buffer is full or until ctx ends.
func (c *InMemoryConsumer) Push(ctx context.Context, msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return ErrConsumerStopped
	}
	select {
	case c.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *InMemoryConsumer) Messages() <-chan Message    { return c.msgs }
func (c *InMemoryConsumer) Start(context.Context) error { return nil }
func (c *InMemoryConsumer) Done() <-chan struct{}       { return c.done }

// Stop closes the message channel. Messages already buffered are still
// delivered to readers.
func (c *InMemoryConsumer) Stop(context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		close(c.msgs)
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
