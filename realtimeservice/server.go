package realtimeservice

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinywideclouds/go-realtime-service/internal/api"
)

// BaseServer is the HTTP shell shared by the service: health and readiness
// probes, a metrics endpoint and a chi router for the API routes.
type BaseServer struct {
	server    *http.Server
	router    chi.Router
	ready     atomic.Bool
	readyChan chan struct{}
	logger    *slog.Logger
}

// NewBaseServer creates the router with its standard middleware and probe
// routes. gatherer may be nil, in which case /metrics is not mounted.
func NewBaseServer(addr string, allowedOrigins []string, gatherer prometheus.Gatherer, logger *slog.Logger) *BaseServer {
	s := &BaseServer{logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the chi router for route registration.
func (s *BaseServer) Router() chi.Router { return s.router }

// Handler returns the root handler, mainly for tests.
func (s *BaseServer) Handler() http.Handler { return s.server.Handler }

// SetReadyChannel registers a channel that is closed once the listener is bound.
func (s *BaseServer) SetReadyChannel(ch chan struct{}) { s.readyChan = ch }

// SetReady flips the /readyz probe.
func (s *BaseServer) SetReady(ready bool) { s.ready.Store(ready) }

// Start binds the listener and serves until Shutdown.
func (s *BaseServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if s.readyChan != nil {
		close(s.readyChan)
	}
	return s.server.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
