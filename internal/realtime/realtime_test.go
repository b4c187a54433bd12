package realtime

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"tabshare/internal/metrics"
	"tabshare/internal/models"
)

func newTestDispatcher() (*Dispatcher, *Registry) {
	registry := NewRegistry(nil)
	return NewDispatcher(registry, metrics.New()), registry
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var event models.Event
	if err := json.NewDecoder(conn).Decode(&event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

func waitForConnections(t *testing.T, registry *Registry, billID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(registry.ConnectionsForBill(billID)) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("bill %s never reached %d connections", billID, want)
}

func TestWSHandler(t *testing.T) {
	t.Run("subscribed clients receive published events", func(t *testing.T) {
		dispatcher, registry := newTestDispatcher()
		srv := httptest.NewServer(WSHandler(dispatcher, registry))
		t.Cleanup(srv.Close)

		conn := dialWS(t, srv, "billId=bill-1&userId=u1")
		waitForConnections(t, registry, "bill-1", 1)

		dispatcher.Publish("bill-1", models.NewEvent(models.EventParticipantJoined, "bill-1", models.ParticipantJoinedPayload{
			ParticipantID:   "p1",
			ParticipantName: "Bob",
			BillID:          "bill-1",
		}, time.Now()))

		event := readEvent(t, conn)
		if event.Type != models.EventParticipantJoined {
			t.Errorf("event type = %s", event.Type)
		}
		var payload models.ParticipantJoinedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if payload.ParticipantName != "Bob" {
			t.Errorf("payload = %+v", payload)
		}
	})

	t.Run("events for other bills are not delivered", func(t *testing.T) {
		dispatcher, registry := newTestDispatcher()
		srv := httptest.NewServer(WSHandler(dispatcher, registry))
		t.Cleanup(srv.Close)

		conn := dialWS(t, srv, "billId=bill-1")
		waitForConnections(t, registry, "bill-1", 1)

		dispatcher.Publish("bill-2", models.NewEvent(models.EventBillUpdated, "bill-2", models.BillUpdatedPayload{BillID: "bill-2"}, time.Now()))
		dispatcher.Publish("bill-1", models.NewEvent(models.EventBillUpdated, "bill-1", models.BillUpdatedPayload{BillID: "bill-1"}, time.Now()))

		event := readEvent(t, conn)
		if event.BillID != "bill-1" {
			t.Errorf("leaked event for %s", event.BillID)
		}
	})

	t.Run("subscribe message moves the connection to another bill", func(t *testing.T) {
		dispatcher, registry := newTestDispatcher()
		srv := httptest.NewServer(WSHandler(dispatcher, registry))
		t.Cleanup(srv.Close)

		conn := dialWS(t, srv, "billId=bill-1")
		waitForConnections(t, registry, "bill-1", 1)

		if err := websocket.JSON.Send(conn, models.SubscribeMessage{Action: "subscribe", BillID: "bill-2"}); err != nil {
			t.Fatalf("send subscribe: %v", err)
		}
		waitForConnections(t, registry, "bill-2", 1)

		dispatcher.Publish("bill-2", models.NewEvent(models.EventBillUpdated, "bill-2", models.BillUpdatedPayload{BillID: "bill-2"}, time.Now()))
		event := readEvent(t, conn)
		if event.BillID != "bill-2" {
			t.Errorf("event bill = %s, want bill-2", event.BillID)
		}
	})

	t.Run("missing billId is rejected", func(t *testing.T) {
		dispatcher, registry := newTestDispatcher()
		srv := httptest.NewServer(WSHandler(dispatcher, registry))
		t.Cleanup(srv.Close)

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		if _, err := websocket.Dial(wsURL, "", srv.URL); err == nil {
			t.Error("dial without billId succeeded")
		}
	})

	t.Run("disconnect unregisters the connection", func(t *testing.T) {
		dispatcher, registry := newTestDispatcher()
		srv := httptest.NewServer(WSHandler(dispatcher, registry))
		t.Cleanup(srv.Close)

		conn := dialWS(t, srv, "billId=bill-1")
		waitForConnections(t, registry, "bill-1", 1)

		conn.Close()
		waitForConnections(t, registry, "bill-1", 0)
	})
}

// failingSender fails every delivery, for eviction tests.
type failingSender struct {
	mu    sync.Mutex
	sends int
}

func (s *failingSender) Send(_ []byte) error {
	s.mu.Lock()
	s.sends++
	s.mu.Unlock()
	return errors.New("broken pipe")
}

func (s *failingSender) Close() error { return nil }

func TestDispatcherEvictsDeadConnections(t *testing.T) {
	dispatcher, registry := newTestDispatcher()

	conn := newConnection("c1", "bill-1", "u1", &failingSender{}, time.Now())
	dispatcher.Attach(conn)

	event := models.NewEvent(models.EventBillUpdated, "bill-1", models.BillUpdatedPayload{BillID: "bill-1"}, time.Now())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && registry.Len() > 0 {
		dispatcher.Publish("bill-1", event)
		time.Sleep(10 * time.Millisecond)
	}

	if registry.Len() != 0 {
		t.Error("dead connection was never evicted")
	}
}

// discardSender accepts every delivery, for pure registry tests.
type discardSender struct{}

func (discardSender) Send(_ []byte) error { return nil }

func (discardSender) Close() error { return nil }

func TestResubscribeDuringPublish(t *testing.T) {
	dispatcher, registry := newTestDispatcher()

	conn := newConnection("c1", "bill-1", "u1", discardSender{}, time.Now())
	dispatcher.Attach(conn)

	// Hammer publishes while the connection bounces between bills. Delivery
	// goroutines read the connection's bill id on the overflow path, so the
	// two sides must not trip each other up.
	event := models.NewEvent(models.EventBillUpdated, "bill-1", models.BillUpdatedPayload{BillID: "bill-1"}, time.Now())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			dispatcher.Publish("bill-1", event)
			dispatcher.Publish("bill-2", event)
		}
	}()
	for i := 0; i < 500; i++ {
		registry.Resubscribe("c1", "bill-2")
		registry.Resubscribe("c1", "bill-1")
	}
	<-done

	if got := conn.BillID(); got != "bill-1" {
		t.Errorf("bill id = %s, want bill-1", got)
	}
	if got := len(registry.ConnectionsForBill("bill-1")); got != 1 {
		t.Errorf("connections for bill-1 = %d, want 1", got)
	}
}

func TestConnectionEnqueue(t *testing.T) {
	conn := newConnection("c1", "bill-1", "u1", &failingSender{}, time.Now())

	// Without a writer goroutine the buffer fills; overflow must not block.
	for i := 0; i < sendBufferSize; i++ {
		if !conn.enqueue([]byte("x")) {
			t.Fatalf("enqueue %d rejected before buffer full", i)
		}
	}
	if conn.enqueue([]byte("overflow")) {
		t.Error("enqueue succeeded past buffer capacity")
	}

	conn.close()
	if conn.enqueue([]byte("closed")) {
		t.Error("enqueue succeeded on closed connection")
	}
}
