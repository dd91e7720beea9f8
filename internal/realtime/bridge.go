package realtime

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tinywideclouds/go-realtime-service/internal/realtime"

// Bridge is the entry point request handlers use to push a payload to a
// connected identity. It is safe to call from any goroutine and never blocks
// beyond a non-blocking enqueue on the target connection.
type Bridge struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewBridge creates a delivery bridge over the registry.
func NewBridge(registry *Registry, metrics *Metrics, logger *slog.Logger) *Bridge {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Bridge{
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("component", "DeliveryBridge"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Deliver enqueues payload as a notification frame on the connection
// registered for identity. It returns false when nobody is registered under
// identity, or when the registered connection could not accept the frame.
func (b *Bridge) Deliver(ctx context.Context, identity string, payload any) bool {
	_, span := b.tracer.Start(ctx, "realtime.Deliver", trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	log := b.logger.With("identity", identity)

	conn, ok := b.registry.Lookup(identity)
	if !ok {
		log.Debug("Identity not connected; notification not delivered")
		b.metrics.delivery(outcomeAbsent)
		span.SetAttributes(attribute.String("outcome", outcomeAbsent))
		return false
	}

	err := conn.Send(notificationFrame{Type: FrameNotification, Data: payload})
	if err != nil {
		if errors.Is(err, ErrSendQueueFull) || errors.Is(err, ErrConnectionClosed) {
			log.Warn("Registered connection could not accept notification", "connection", conn.ID(), "err", err)
		} else {
			log.Error("Failed to encode notification frame", "err", err)
		}
		b.metrics.delivery(outcomeDropped)
		span.SetAttributes(attribute.String("outcome", outcomeDropped))
		return false
	}

	log.Debug("Notification enqueued", "connection", conn.ID())
	b.metrics.delivery(outcomeDelivered)
	span.SetAttributes(attribute.String("outcome", outcomeDelivered))
	return true
}
