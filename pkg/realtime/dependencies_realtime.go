package realtime

import (
	"github.com/tinywideclouds/go-realtime-service/internal/messagepipeline"
)

// ServiceDependencies holds the external services the realtime service
// needs. It is assembled in main and used for dependency injection.
type ServiceDependencies struct {
	// --- Producers ---
	// EventProducer is nil when no ingestion bus is configured; events are
	// then handled in-process.
	EventProducer EventProducer

	// --- Consumers ---
	EventConsumer messagepipeline.MessageConsumer

	// --- Storage & Caches ---
	NotificationStore NotificationStore
	PresenceCache     PresenceCache
}
