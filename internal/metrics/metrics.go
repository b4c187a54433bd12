// Package metrics exposes Prometheus instrumentation for the claim ledger
// and the real-time fan-out path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors so tests can run isolated registries
// instead of sharing process-wide state.
type Metrics struct {
	registry *prometheus.Registry

	OpenConnections   prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter
	ClaimsWritten     *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

// New creates a metrics bundle on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabshare_open_connections",
			Help: "Currently registered websocket connections.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabshare_events_published_total",
			Help: "Broadcast events published, by event type.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabshare_delivery_failures_total",
			Help: "Event deliveries that failed or timed out.",
		}),
		ClaimsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabshare_claims_written_total",
			Help: "Claim mutations committed, by operation.",
		}, []string{"op"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabshare_broadcast_duration_seconds",
			Help:    "Time to fan one event out to all subscribers.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		m.OpenConnections,
		m.EventsPublished,
		m.DeliveryFailures,
		m.ClaimsWritten,
		m.BroadcastDuration,
	)
	return m
}

// Handler serves the /metrics endpoint for this bundle's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
