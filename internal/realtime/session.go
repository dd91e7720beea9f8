package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-realtime-service/internal/auth"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// SessionState is the lifecycle position of a connection session.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateIdentified
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const presenceTimeout = 2 * time.Second

// Session drives one connection through Anonymous -> Identified -> Closed.
// All methods are called from the connection's read goroutine; only the
// underlying Connection is shared with other goroutines.
type Session struct {
	conn       *Connection
	principal  auth.Principal
	attributed bool
	state      SessionState

	registry   *Registry
	bridge     *Bridge
	presence   realtime.PresenceCache
	metrics    *Metrics
	clock      Clock
	instanceID string
	logger     *slog.Logger
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Open announces the connection to the client.
func (s *Session) Open() error {
	s.state = StateAnonymous
	return s.conn.Send(connectionEstablishedFrame{
		Type:      FrameConnectionEstablished,
		Message:   msgConnectionEstablished,
		Timestamp: timestamp(s.clock),
	})
}

// HandleMessage decodes one inbound payload and routes it. Malformed input
// is answered with an error frame and never closes the connection.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	if s.state == StateClosed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic while handling frame", "panic", r)
			s.reply(errorFrame{Type: FrameError, Message: msgInternalError})
		}
	}()

	frame, err := DecodeInbound(raw)
	if err != nil {
		s.logger.Warn("Received malformed frame", "err", err)
		s.metrics.frameReceived("malformed")
		s.reply(errorFrame{Type: FrameError, Message: msgInvalidJSON})
		return
	}
	s.metrics.frameReceived(frame.FrameType())
	s.route(ctx, frame)
}

// Close releases the registry entry and presence record if this session
// still owns them, and closes the transport.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	if s.state == StateIdentified {
		s.release(s.conn.Identity())
		s.metrics.identifiedCount.Dec()
	}
	s.state = StateClosed
	s.conn.Close()
	s.logger.Info("Session closed")
}

func (s *Session) login(ctx context.Context, identity string) {
	log := s.logger.With("identity", identity)

	if s.attributed && s.principal.UserID != identity {
		log.Warn("Login identity differs from attributed principal", "principal", s.principal.UserID)
	}

	previousIdentity := s.conn.Identity()
	if s.state == StateIdentified {
		log.Warn("Session is already identified; re-registering", "previous_identity", previousIdentity)
		if previousIdentity != identity {
			s.release(previousIdentity)
		}
	}

	s.conn.setIdentity(identity)
	if prev := s.registry.Register(identity, s.conn); prev != nil {
		log.Warn("Identity already had an active connection; replacing it", "superseded_connection", prev.ID())
	}
	if s.state != StateIdentified {
		s.metrics.identifiedCount.Inc()
	}
	s.state = StateIdentified

	pctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	info := realtime.ConnectionInfo{
		ServerInstanceID: s.instanceID,
		ConnectionID:     s.conn.ID(),
		ConnectedAt:      s.conn.CreatedAt().Unix(),
	}
	if err := s.presence.Set(pctx, identity, info); err != nil {
		log.Error("Failed to set presence", "err", err)
	}

	log.Info("User logged in via WebSocket", "active_identities", s.registry.Len())
	s.reply(loginConfirmedFrame{Type: FrameLoginConfirmed, Message: msgLoginConfirmed, UserID: identity})
}

// release drops identity from the registry and presence cache, but only if
// the registry entry still belongs to this connection.
func (s *Session) release(identity string) {
	if identity == "" {
		return
	}
	if !s.registry.UnregisterIf(identity, s.conn) {
		s.logger.Debug("Registry entry belongs to a newer connection; leaving it", "identity", identity)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := s.presence.Delete(ctx, identity); err != nil {
		s.logger.Error("Failed to delete presence", "identity", identity, "err", err)
	}
	s.logger.Info("Removed connection for user", "identity", identity)
}

func (s *Session) reply(v any) {
	if err := s.conn.Send(v); err != nil {
		s.logger.Warn("Failed to enqueue reply", "err", err)
	}
}
