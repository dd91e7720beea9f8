package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes recorded by the bridge.
const (
	outcomeDelivered = "delivered"
	outcomeAbsent    = "absent"
	outcomeDropped   = "dropped"
)

// Metrics holds the Prometheus collectors for the real-time layer.
type Metrics struct {
	activeConnections prometheus.Gauge
	identifiedCount   prometheus.Gauge
	framesReceived    *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg creates
// unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "realtime",
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections",
		}),
		identifiedCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "realtime",
			Name:      "identified_sessions",
			Help:      "Number of sessions that completed login",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type",
		}, []string{"type"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "deliveries_total",
			Help:      "Delivery bridge calls by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) frameReceived(kind string) {
	switch kind {
	case FrameLogin, FramePing, FrameNotification, "malformed":
	default:
		kind = "other"
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) delivery(outcome string) {
	m.deliveries.WithLabelValues(outcome).Inc()
}
