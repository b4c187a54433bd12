package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"tabshare/internal/metrics"
	"tabshare/internal/models"
)

// maxConsecutiveFailures is how many deliveries in a row may fail before a
// connection is lazily evicted. Normal removal happens through the
// connection's own disconnect lifecycle.
const maxConsecutiveFailures = 3

// Dispatcher fans events out to every connection subscribed to a bill.
// Publishing never blocks the caller: each connection has its own buffered
// queue and writer goroutine, so one slow client cannot delay others, and
// ordering within a single connection's stream stays FIFO.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher over the given registry. metrics may be
// nil.
func NewDispatcher(registry *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: m}
}

// Publish serializes the event once and enqueues it to every subscribed
// connection. Delivery failures are logged and swallowed: the originating
// write already succeeded, and clients reconcile via reconnection.
func (d *Dispatcher) Publish(billID string, event models.Event) {
	start := time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal broadcast event", "type", event.Type, "error", err)
		return
	}

	conns := d.registry.ConnectionsForBill(billID)
	if len(conns) == 0 {
		slog.Debug("no connections for bill", "bill_id", billID, "type", event.Type)
		return
	}

	for _, conn := range conns {
		if conn.enqueue(data) {
			continue
		}
		d.deliveryFailed(conn, nil)
	}

	if d.metrics != nil {
		d.metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
		d.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
	slog.Debug("event published",
		"bill_id", billID,
		"type", event.Type,
		"connections", len(conns),
	)
}

// deliveryFailed records a failed delivery and lazily evicts connections
// that keep failing. Also used as the write-loop error callback.
func (d *Dispatcher) deliveryFailed(conn *Connection, err error) {
	if d.metrics != nil {
		d.metrics.DeliveryFailures.Inc()
	}
	failures := conn.recordFailure()
	slog.Warn("event delivery failed",
		"connection_id", conn.ID,
		"bill_id", conn.BillID(),
		"failures", failures,
		"error", err,
	)
	if failures >= maxConsecutiveFailures {
		slog.Info("evicting dead connection", "connection_id", conn.ID, "bill_id", conn.BillID())
		d.registry.Unregister(conn.ID)
	}
}

// Attach registers a connection with the dispatcher's failure handling and
// starts its writer goroutine.
func (d *Dispatcher) Attach(conn *Connection) {
	d.registry.Register(conn, d.deliveryFailed)
}
