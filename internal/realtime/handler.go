package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"tabshare/internal/models"
)

// deliveryTimeout bounds a single write to one client so a stalled socket
// cannot wedge its writer goroutine.
const deliveryTimeout = 5 * time.Second

type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(deliveryTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(s.conn, string(data))
}

func (s *wsSender) Close() error {
	return s.conn.Close()
}

// WSHandler serves the bidirectional client channel. Clients connect with
// ?billId=...&userId=..., then send {action:"subscribe",billId} control
// messages; the server pushes {type,payload,timestamp} event frames.
func WSHandler(dispatcher *Dispatcher, registry *Registry) http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleConn(conn, dispatcher, registry)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Query().Get("billId") == "" {
			http.Error(w, "billId is required", http.StatusBadRequest)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

func handleConn(ws *websocket.Conn, dispatcher *Dispatcher, registry *Registry) {
	query := ws.Request().URL.Query()
	billID := query.Get("billId")
	userID := query.Get("userId")

	conn := newConnection(uuid.New().String(), billID, userID, &wsSender{conn: ws}, time.Now())
	dispatcher.Attach(conn)
	defer registry.Unregister(conn.ID)

	slog.Info("connection opened", "connection_id", conn.ID, "bill_id", billID, "user_id", userID)

	decoder := json.NewDecoder(ws)
	for {
		var msg models.SubscribeMessage
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read ended", "connection_id", conn.ID, "error", err)
			}
			slog.Info("connection closed", "connection_id", conn.ID, "bill_id", conn.BillID())
			return
		}
		if msg.Action != "subscribe" || msg.BillID == "" {
			continue
		}
		// Re-subscribing to the current bill is a no-op.
		registry.Resubscribe(conn.ID, msg.BillID)
	}
}
