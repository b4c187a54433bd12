// Package realtime tracks live client connections and fans bill events out
// to them. The registry and dispatcher are explicit objects with injected
// lifecycles rather than process-wide maps, so tests can run isolated
// instances side by side.
package realtime

import (
	"sync"
	"time"
)

// Sender pushes one serialized event to a client connection. Implementations
// must be safe for use from the connection's single writer goroutine only.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Connection is one live, bill-subscribed client socket. It owns a buffered
// outbound queue drained by a single writer goroutine, which preserves FIFO
// order per connection no matter how the dispatcher fans out.
type Connection struct {
	ID     string
	UserID string

	sender    Sender
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	createdAt time.Time

	mu       sync.Mutex
	billID   string
	failures int
}

// sendBufferSize bounds the per-connection outbound queue. A client that
// cannot drain this many events is treated as dead.
const sendBufferSize = 64

func newConnection(id, billID, userID string, sender Sender, now time.Time) *Connection {
	return &Connection{
		ID:        id,
		UserID:    userID,
		sender:    sender,
		outbound:  make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		createdAt: now,
		billID:    billID,
	}
}

// BillID returns the bill this connection currently watches. Guarded because
// Resubscribe can move the connection while delivery goroutines log it.
func (c *Connection) BillID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.billID
}

func (c *Connection) setBillID(billID string) {
	c.mu.Lock()
	c.billID = billID
	c.mu.Unlock()
}

// enqueue hands an event to the connection's writer goroutine. Returns false
// if the queue is full or the connection is closed.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue until the connection closes.
func (c *Connection) writeLoop(onError func(*Connection, error)) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			if err := c.sender.Send(data); err != nil {
				onError(c, err)
			} else {
				c.resetFailures()
			}
		}
	}
}

// close stops the writer and the underlying sender. Idempotent.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sender.Close()
	})
}

// recordFailure bumps the consecutive-failure count and reports the total.
func (c *Connection) recordFailure() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	return c.failures
}

func (c *Connection) resetFailures() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

// Registry tracks which connections are subscribed to which bill, indexed by
// bill id so Publish never scans unrelated connections.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Connection
	byBill  map[string]map[string]*Connection
	onCount func(delta int)
}

// NewRegistry creates an empty connection registry. onCount, if non-nil, is
// called with +1/-1 as connections come and go (metrics hook).
func NewRegistry(onCount func(delta int)) *Registry {
	return &Registry{
		byID:    make(map[string]*Connection),
		byBill:  make(map[string]map[string]*Connection),
		onCount: onCount,
	}
}

// Register adds a connection and starts its writer goroutine.
func (r *Registry) Register(conn *Connection, onSendError func(*Connection, error)) {
	billID := conn.BillID()
	r.mu.Lock()
	r.byID[conn.ID] = conn
	bill, ok := r.byBill[billID]
	if !ok {
		bill = make(map[string]*Connection)
		r.byBill[billID] = bill
	}
	bill[conn.ID] = conn
	r.mu.Unlock()

	go conn.writeLoop(onSendError)
	if r.onCount != nil {
		r.onCount(1)
	}
}

// Unregister removes and closes a connection. Safe to call twice.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	conn, ok := r.byID[connectionID]
	if ok {
		delete(r.byID, connectionID)
		billID := conn.BillID()
		if bill, found := r.byBill[billID]; found {
			delete(bill, connectionID)
			if len(bill) == 0 {
				delete(r.byBill, billID)
			}
		}
	}
	r.mu.Unlock()

	if ok {
		conn.close()
		if r.onCount != nil {
			r.onCount(-1)
		}
	}
}

// ConnectionsForBill snapshots the connections subscribed to a bill.
func (r *Registry) ConnectionsForBill(billID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bill := r.byBill[billID]
	conns := make([]*Connection, 0, len(bill))
	for _, conn := range bill {
		conns = append(conns, conn)
	}
	return conns
}

// Resubscribe moves a connection to a different bill. Subscribing to the
// bill it already watches is a no-op.
func (r *Registry) Resubscribe(connectionID, billID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[connectionID]
	if !ok {
		return
	}
	current := conn.BillID()
	if current == billID {
		return
	}
	if bill, found := r.byBill[current]; found {
		delete(bill, connectionID)
		if len(bill) == 0 {
			delete(r.byBill, current)
		}
	}
	conn.setBillID(billID)
	bill, found := r.byBill[billID]
	if !found {
		bill = make(map[string]*Connection)
		r.byBill[billID] = bill
	}
	bill[connectionID] = conn
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown closes every connection. Called once at process teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.byID = make(map[string]*Connection)
	r.byBill = make(map[string]map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
		if r.onCount != nil {
			r.onCount(-1)
		}
	}
}
