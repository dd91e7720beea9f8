// Package realtime provides components for managing real-time client connections:
// the identity registry, per-connection sessions, the inbound frame router and
// the delivery bridge used by request handlers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-realtime-service/internal/auth"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

// Config holds the settings of the WebSocket server.
type Config struct {
	Port           string
	SendQueueSize  int
	AllowedOrigins []string
}

// ConnectionManager accepts WebSocket connections and runs one Session per
// connection. It runs its own dedicated HTTP server.
type ConnectionManager struct {
	server        *http.Server
	upgrader      websocket.Upgrader
	registry      *Registry
	bridge        *Bridge
	presence      realtime.PresenceCache
	metrics       *Metrics
	connections   sync.Map // connection ID -> *Connection, anonymous ones included
	sessions      sync.WaitGroup
	sendQueueSize int
	clock         Clock
	logger        *slog.Logger
	instanceID    string
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
// gate runs before the upgrade and may attach a principal to the request
// context; it must never reject the request.
func NewConnectionManager(
	cfg Config,
	gate func(http.Handler) http.Handler,
	registry *Registry,
	bridge *Bridge,
	presence realtime.PresenceCache,
	metrics *Metrics,
	logger *slog.Logger,
) (*ConnectionManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if bridge == nil {
		return nil, fmt.Errorf("bridge cannot be nil")
	}
	if presence == nil {
		presence = noopPresence{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if gate == nil {
		gate = func(next http.Handler) http.Handler { return next }
	}

	instanceID := uuid.NewString()
	cm := &ConnectionManager{
		registry:      registry,
		bridge:        bridge,
		presence:      presence,
		metrics:       metrics,
		sendQueueSize: cfg.SendQueueSize,
		clock:         time.Now,
		logger:        logger.With("component", "ConnectionManager", "instance", instanceID),
		instanceID:    instanceID,
	}
	cm.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	connect := gate(http.HandlerFunc(cm.connectHandler))
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/ws/connection", connect)
	r.Method(http.MethodGet, "/ws/connection/", connect)
	r.Method(http.MethodGet, "/connection/", connect)

	cm.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return cm, nil
}

// Handler exposes the router, mainly for tests.
func (cm *ConnectionManager) Handler() http.Handler { return cm.server.Handler }

// InstanceID identifies this server in presence records.
func (cm *ConnectionManager) InstanceID() string { return cm.instanceID }

// Start runs the HTTP server for WebSocket connections.
func (cm *ConnectionManager) Start(_ context.Context) error {
	cm.logger.Info("WebSocket server starting...", "addr", cm.server.Addr)
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, sends a going-away close frame to
// every live connection and waits for their sessions to finish.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info("Shutting down WebSocket service...")
	var finalErr error

	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error("WebSocket server shutdown failed.", "err", err)
		finalErr = err
	}

	cm.connections.Range(func(_, value any) bool {
		value.(*Connection).CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		return true
	})

	done := make(chan struct{})
	go func() {
		cm.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cm.logger.Warn("Timed out waiting for sessions to close")
		if finalErr == nil {
			finalErr = ctx.Err()
		}
	}

	cm.logger.Info("WebSocket service shut down.")
	return finalErr
}

// connectHandler upgrades a new HTTP request to a WebSocket and manages its lifecycle.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error("Failed to upgrade connection.", "err", err)
		return
	}
	cm.sessions.Add(1)
	defer cm.sessions.Done()

	conn := NewConnection(ws, cm.sendQueueSize, cm.clock, cm.logger)
	principal, attributed := auth.PrincipalFromContext(r.Context())

	log := cm.logger.With("connection", conn.ID(), "remote", r.RemoteAddr, "path", r.URL.Path)
	if attributed {
		log = log.With("principal", principal.UserID)
	}

	session := &Session{
		conn:       conn,
		principal:  principal,
		attributed: attributed,
		registry:   cm.registry,
		bridge:     cm.bridge,
		presence:   cm.presence,
		metrics:    cm.metrics,
		clock:      cm.clock,
		instanceID: cm.instanceID,
		logger:     log,
	}

	cm.connections.Store(conn.ID(), conn)
	cm.metrics.activeConnections.Inc()
	defer func() {
		session.Close()
		cm.connections.Delete(conn.ID())
		cm.metrics.activeConnections.Dec()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("WebSocket connection established", "attributed", attributed)
	if err := session.Open(); err != nil {
		log.Warn("Failed to send connection acknowledgment", "err", err)
		return
	}

	ws.SetReadLimit(maxInboundMessageBytes)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn("WebSocket closed unexpectedly", "err", err)
			} else {
				log.Debug("WebSocket read loop ended", "err", err)
			}
			return
		}
		session.HandleMessage(ctx, data)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type noopPresence struct{}

func (noopPresence) Set(context.Context, string, realtime.ConnectionInfo) error { return nil }
func (noopPresence) Fetch(context.Context, string) (realtime.ConnectionInfo, error) {
	return realtime.ConnectionInfo{}, realtime.ErrNotPresent
}
func (noopPresence) Delete(context.Context, string) error { return nil }
