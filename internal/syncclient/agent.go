// Package syncclient keeps client-side bill views synchronized with the
// server's event stream. It owns connection lifecycle (dial, subscribe,
// reconnect with capped exponential backoff) and an optimistic local cache
// that rolls back rejected mutations.
package syncclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tabshare/internal/models"
)

// State is the lifecycle phase of a bill's shared connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	// StateOffline means the reconnect budget is exhausted. The agent stays
	// offline until Reconnect is called.
	StateOffline State = "offline"
	StateClosed  State = "closed"
)

// minConnectInterval throttles dials for the same bill. A burst of
// subscribers joining at once must not hammer the server with handshakes.
const minConnectInterval = time.Second

// Clock abstracts time for the reconnect scheduler so tests can drive the
// backoff deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Handler receives every event delivered on a bill's stream.
type Handler func(models.Event)

// Agent multiplexes bill event streams. All subscribers of the same bill
// share one underlying connection; the connection closes when the last
// subscriber leaves.
type Agent struct {
	dialer Dialer
	userID string
	clock  Clock

	mu    sync.Mutex
	subs  map[string]*billStream
	ctx   context.Context
	stop  context.CancelFunc
	close sync.Once
}

// NewAgent creates an agent dialing through the given dialer. userID is
// attached to every connection for server-side attribution.
func NewAgent(dialer Dialer, userID string) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		dialer: dialer,
		userID: userID,
		clock:  realClock{},
		subs:   make(map[string]*billStream),
		ctx:    ctx,
		stop:   cancel,
	}
}

// WithClock substitutes the scheduler clock. Test hook.
func (a *Agent) WithClock(clock Clock) *Agent {
	a.clock = clock
	return a
}

// Subscription is one subscriber's membership in a bill stream. Close
// releases it; the shared connection shuts down when the last subscription
// for the bill closes.
type Subscription struct {
	stream *billStream
	id     int
	once   sync.Once
}

// Close detaches this subscriber from the bill stream.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stream.detach(s.id)
	})
}

// Subscribe attaches a handler to a bill's event stream, opening the shared
// connection if this is the bill's first subscriber.
func (a *Agent) Subscribe(billID string, handler Handler) *Subscription {
	a.mu.Lock()
	stream, ok := a.subs[billID]
	if !ok {
		stream = newBillStream(a, billID)
		a.subs[billID] = stream
	}
	a.mu.Unlock()

	return stream.attach(handler)
}

// State reports the connection state for a bill. Bills with no subscribers
// are disconnected.
func (a *Agent) State(billID string) State {
	a.mu.Lock()
	stream, ok := a.subs[billID]
	a.mu.Unlock()
	if !ok {
		return StateDisconnected
	}
	return stream.state()
}

// Reconnect resets a bill's reconnect budget and dials immediately. This is
// the manual recovery path once the automatic attempts are exhausted.
func (a *Agent) Reconnect(billID string) {
	a.mu.Lock()
	stream, ok := a.subs[billID]
	a.mu.Unlock()
	if ok {
		stream.forceReconnect()
	}
}

// Close shuts down every stream. The agent cannot be reused afterwards.
func (a *Agent) Close() {
	a.close.Do(func() {
		a.stop()
		a.mu.Lock()
		streams := make([]*billStream, 0, len(a.subs))
		for _, s := range a.subs {
			streams = append(streams, s)
		}
		a.subs = make(map[string]*billStream)
		a.mu.Unlock()
		for _, s := range streams {
			s.shutdown()
		}
	})
}

// remove drops a stream from the agent's index once its last subscriber
// leaves.
func (a *Agent) remove(billID string, stream *billStream) {
	a.mu.Lock()
	if a.subs[billID] == stream {
		delete(a.subs, billID)
	}
	a.mu.Unlock()
}

// billStream is the shared connection for one bill, reference-counted across
// subscribers.
type billStream struct {
	agent  *Agent
	billID string

	mu         sync.Mutex
	phase      State
	conn       EventConn
	backoff    *backoff
	handlers   map[int]Handler
	nextID     int
	lastDial   time.Time
	retryTimer Timer
	generation int
	closed     bool
}

func newBillStream(agent *Agent, billID string) *billStream {
	return &billStream{
		agent:    agent,
		billID:   billID,
		phase:    StateDisconnected,
		backoff:  newBackoff(),
		handlers: make(map[int]Handler),
	}
}

func (s *billStream) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// attach registers a handler and ensures the connection is up.
func (s *billStream) attach(handler Handler) *Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	needDial := s.phase == StateDisconnected && !s.closed
	if needDial {
		s.phase = StateConnecting
	}
	s.mu.Unlock()

	if needDial {
		s.dialThrottled()
	}
	return &Subscription{stream: s, id: id}
}

// detach removes a handler; the last one out closes the connection.
func (s *billStream) detach(id int) {
	s.mu.Lock()
	delete(s.handlers, id)
	last := len(s.handlers) == 0
	s.mu.Unlock()

	if last {
		s.agent.remove(s.billID, s)
		s.shutdown()
	}
}

// dialThrottled dials now, or schedules the dial so that attempts for this
// bill stay at least minConnectInterval apart.
func (s *billStream) dialThrottled() {
	s.mu.Lock()
	now := s.agent.clock.Now()
	wait := minConnectInterval - now.Sub(s.lastDial)
	if wait > 0 {
		gen := s.generation
		s.retryTimer = s.agent.clock.AfterFunc(wait, func() {
			s.dialIfCurrent(gen)
		})
		s.mu.Unlock()
		return
	}
	s.lastDial = now
	gen := s.generation
	s.mu.Unlock()

	go s.dial(gen)
}

// dialIfCurrent runs a deferred dial unless the stream moved on (shutdown or
// a manual reconnect bumped the generation).
func (s *billStream) dialIfCurrent(gen int) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.lastDial = s.agent.clock.Now()
	s.mu.Unlock()
	s.dial(gen)
}

// dial opens the connection and, on success, starts the read loop and sends
// the subscribe control message.
func (s *billStream) dial(gen int) {
	conn, err := s.agent.dialer.Dial(s.agent.ctx, s.billID, s.agent.userID)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		slog.Warn("sync dial failed", "bill_id", s.billID, "error", err)
		s.scheduleRetry()
		return
	}
	s.conn = conn
	s.phase = StateOpen
	s.backoff.reset()
	s.mu.Unlock()

	slog.Info("sync stream open", "bill_id", s.billID)
	if err := conn.WriteJSON(models.SubscribeMessage{Action: "subscribe", BillID: s.billID}); err != nil {
		slog.Warn("subscribe message failed", "bill_id", s.billID, "error", err)
	}
	go s.readLoop(conn, gen)
}

// readLoop delivers events to every handler until the stream breaks, then
// hands control to the reconnect scheduler.
func (s *billStream) readLoop(conn EventConn, gen int) {
	for {
		event, err := conn.ReadEvent()
		if err != nil {
			_ = conn.Close()
			s.mu.Lock()
			stale := s.closed || gen != s.generation
			if !stale {
				s.conn = nil
			}
			s.mu.Unlock()
			if stale {
				return
			}
			slog.Info("sync stream lost", "bill_id", s.billID, "error", err)
			s.scheduleRetry()
			return
		}
		s.deliver(event)
	}
}

func (s *billStream) deliver(event models.Event) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(event)
	}
}

// scheduleRetry arms the next backoff-delayed dial, or parks the stream
// offline when the budget is spent.
func (s *billStream) scheduleRetry() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delay, ok := s.backoff.next()
	if !ok {
		s.phase = StateOffline
		s.mu.Unlock()
		slog.Warn("sync reconnect attempts exhausted", "bill_id", s.billID)
		return
	}
	s.phase = StateReconnecting
	attempt := s.backoff.attempt()
	gen := s.generation
	s.retryTimer = s.agent.clock.AfterFunc(delay, func() {
		s.dialIfCurrent(gen)
	})
	s.mu.Unlock()

	slog.Info("sync reconnect scheduled",
		"bill_id", s.billID,
		"attempt", attempt,
		"delay", delay,
	)
}

// forceReconnect resets the backoff budget, tears down any live connection,
// and dials fresh (subject to the connect throttle). Invalidates in-flight
// dials and timers via the generation counter.
func (s *billStream) forceReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.backoff.reset()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.phase = StateConnecting
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.dialThrottled()
}

// shutdown closes the stream permanently.
func (s *billStream) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.phase = StateClosed
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
