package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when the outbound queue has no free slot.
	ErrSendQueueFull = errors.New("send queue full")
)

const (
	writeWait              = 10 * time.Second
	defaultSendQueueSize   = 64
	closeGracePeriod       = time.Second
	maxInboundMessageBytes = 64 * 1024
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// frameWriter is the subset of *websocket.Conn a Connection writes through.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one live transport session. Its outbound queue may be fed
// from any goroutine; a single writer goroutine drains it so writes to the
// underlying transport never interleave.
type Connection struct {
	id        string
	createdAt time.Time
	transport frameWriter
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	mu       sync.RWMutex
	identity string
}

// NewConnection wraps a transport and starts its writer goroutine.
func NewConnection(transport frameWriter, queueSize int, clock Clock, logger *slog.Logger) *Connection {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	id := uuid.NewString()
	c := &Connection{
		id:        id,
		createdAt: clock(),
		transport: transport,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		logger:    logger.With("connection", id),
	}
	go c.writeLoop()
	return c
}

// ID is the server-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// CreatedAt is when the transport handshake completed.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Identity returns the identity attached by login, or "" while anonymous.
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) setIdentity(identity string) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send marshals v and enqueues it without blocking.
func (c *Connection) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound frame: %w", err)
	}
	return c.enqueue(b)
}

func (c *Connection) enqueue(b []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Close stops the writer and closes the transport. It is safe to call more
// than once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("Error closing transport", "err", err)
		}
	})
}

// CloseWithReason sends a close control frame before closing the transport.
func (c *Connection) CloseWithReason(code int, reason string) {
	if !c.IsClosed() {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
			c.logger.Debug("Failed to write close frame", "err", err)
		}
	}
	c.Close()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("Write failed, closing connection", "err", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
