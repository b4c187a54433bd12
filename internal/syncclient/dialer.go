package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"golang.org/x/net/websocket"

	"tabshare/internal/models"
)

// EventConn is one open event stream for a bill. ReadEvent blocks until the
// next frame arrives or the stream breaks.
type EventConn interface {
	ReadEvent() (models.Event, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens event streams. The websocket implementation is the production
// one; tests substitute scripted dialers.
type Dialer interface {
	Dial(ctx context.Context, billID, userID string) (EventConn, error)
}

// WebsocketDialer connects to a server's /ws endpoint.
type WebsocketDialer struct {
	// BaseURL is the websocket endpoint without query parameters,
	// e.g. "ws://localhost:8080/ws".
	BaseURL string
	// Origin is sent in the handshake. Defaults to the http form of BaseURL.
	Origin string
}

func (d *WebsocketDialer) Dial(ctx context.Context, billID, userID string) (EventConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", d.BaseURL, err)
	}
	q := u.Query()
	q.Set("billId", billID)
	if userID != "" {
		q.Set("userId", userID)
	}
	u.RawQuery = q.Encode()

	origin := d.Origin
	if origin == "" {
		o := *u
		switch o.Scheme {
		case "wss":
			o.Scheme = "https"
		default:
			o.Scheme = "http"
		}
		o.RawQuery = ""
		o.Path = "/"
		origin = o.String()
	}

	config, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	ws, err := websocket.DialConfig(config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return &wsEventConn{ws: ws, dec: json.NewDecoder(ws)}, nil
}

type wsEventConn struct {
	ws  *websocket.Conn
	dec *json.Decoder
}

func (c *wsEventConn) ReadEvent() (models.Event, error) {
	var ev models.Event
	if err := c.dec.Decode(&ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

func (c *wsEventConn) WriteJSON(v any) error {
	return websocket.JSON.Send(c.ws, v)
}

func (c *wsEventConn) Close() error {
	return c.ws.Close()
}
