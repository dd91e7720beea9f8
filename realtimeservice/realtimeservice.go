// Package realtimeservice assembles the notification API service: the HTTP
// routes, the event ingestion pipeline and their lifecycle.
package realtimeservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-realtime-service/internal/api"
	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
	"github.com/tinywideclouds/go-realtime-service/internal/pipeline"
	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
	"github.com/tinywideclouds/go-realtime-service/realtimeservice/config"
)

// Wrapper embeds BaseServer and owns the background ingestion pipeline.
type Wrapper struct {
	*BaseServer
	processingService *messagepipeline.StreamingService[realtime.DomainEvent]
	apiHandler        *api.API
	logger            *slog.Logger
	httpReadyChan     chan struct{}
}

// New creates and wires up the API service.
// notifier stores and delivers events; local reports connections held by
// this instance. When dependencies carry no EventConsumer the pipeline is
// not started and events are handled in-process by the API.
func New(
	cfg *config.AppConfig,
	dependencies *realtime.ServiceDependencies,
	notifier pipeline.EventNotifier,
	local api.LocalPresence,
	authMiddleware func(http.Handler) http.Handler,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) (*Wrapper, error) {
	if dependencies == nil || dependencies.NotificationStore == nil {
		return nil, errors.New("a notification store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}

	// 1. Create the standard base server.
	baseServer := NewBaseServer(":"+cfg.APIPort, cfg.Cors.AllowedOrigins, gatherer, logger)

	httpReadyChan := make(chan struct{})
	baseServer.SetReadyChannel(httpReadyChan)

	// 2. Create the API handlers.
	apiHandler := api.NewAPI(
		dependencies.EventProducer,
		notifier,
		dependencies.NotificationStore,
		local,
		dependencies.PresenceCache,
		logger.With("component", "API"),
	)

	// 3. Create the background processing pipeline, if there is a bus to consume.
	var processingService *messagepipeline.StreamingService[realtime.DomainEvent]
	if dependencies.EventConsumer != nil {
		var err error
		processingService, err = messagepipeline.NewStreamingService[realtime.DomainEvent](
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			dependencies.EventConsumer,
			pipeline.EventTransformer,
			pipeline.NewNotificationProcessor(notifier, logger.With("component", "NotificationProcessor")),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create processing service: %w", err)
		}
	}

	// 4. Attach handlers.
	if authMiddleware == nil {
		return nil, errors.New("auth middleware cannot be nil")
	}
	baseServer.Router().Route("/api", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/events", apiHandler.EventHandler)
		r.Get("/notifications", apiHandler.ListHandler)
		r.Put("/notifications", apiHandler.MarkReadHandler)
		r.Get("/presence/{identity}", apiHandler.PresenceHandler)
	})

	return &Wrapper{
		BaseServer:        baseServer,
		processingService: processingService,
		apiHandler:        apiHandler,
		logger:            logger,
		httpReadyChan:     httpReadyChan,
	}, nil
}

// Start runs the ingestion pipeline, then the HTTP server. It blocks until
// the server stops.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.processingService != nil {
		w.logger.Info("Event ingestion pipeline starting...")
		if err := w.processingService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("No ingestion bus configured; events are handled in-process")
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := w.BaseServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("HTTP server failed", "err", err)
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	// Wait for EITHER the server to be ready OR for it to fail on startup
	select {
	case <-w.httpReadyChan:
		w.logger.Info("HTTP listener is active.")
		w.SetReady(true)
		w.logger.Info("Service is now ready.")

	case err := <-serverErrChan:
		return fmt.Errorf("HTTP server failed to start: %w", err)

	case <-ctx.Done():
		return ctx.Err()
	}

	// Wait for the server goroutine to exit (which happens on Shutdown)
	if err := <-serverErrChan; err != nil {
		return err
	}
	return nil
}

// Shutdown gracefully stops all service components in the correct order.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error

	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}

	if w.processingService != nil {
		if err := w.processingService.Stop(ctx); err != nil {
			w.logger.Error("Processing service shutdown failed.", "err", err)
			finalErr = err
		}
	}

	// In-process notifications started by the event handler.
	w.apiHandler.Wait()

	w.logger.Info("All components shut down.")
	return finalErr
}
