// Package clientsession is the Client Session: one instance per connected
// user, forwarding Coordinator broadcasts to its transport. It does not send
// a Leave itself; the transport (pkg/server's WebSocket handler) sends the
// Leave when the connection ends. It also owns the CLIENTS registry a Join
// handler consults to resolve a user id to a live handle.
package clientsession

import (
	"encoding/json"
	"sync"
	"time"

	"stakesession/pkg/coordinator"
	"stakesession/pkg/session"
)

// outboundBuffer bounds how far behind a slow client's websocket write loop
// may fall before messages are dropped rather than blocking the
// Coordinator that is broadcasting to it.
const outboundBuffer = 64

// Session is one connected client: a buffered outbound channel plus the
// bookkeeping a Coordinator consults through the coordinator.ClientHandle
// interface it satisfies.
type Session struct {
	userID    session.UserID
	accountID *string
	startedAt time.Time

	mu         sync.RWMutex
	lastUpdate time.Time
	ms         []uint32

	outbound chan []byte
	closed   chan struct{}
	closeOne sync.Once
}

// New creates a client Session for userID. Call Outbound to obtain the
// channel a transport loop should drain and forward to the wire.
func New(userID session.UserID, accountID *string) *Session {
	return &Session{
		userID:     userID,
		accountID:  accountID,
		startedAt:  time.Now(),
		lastUpdate: time.Now(),
		outbound:   make(chan []byte, outboundBuffer),
		closed:     make(chan struct{}),
	}
}

// UserID satisfies coordinator.ClientHandle.
func (s *Session) UserID() session.UserID { return s.userID }

// Send satisfies coordinator.ClientHandle: it JSON-encodes msg and enqueues
// it for the transport loop. A full outbound buffer drops the message
// rather than blocking the Coordinator's single-goroutine tick loop.
func (s *Session) Send(msg coordinator.ServerMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case s.outbound <- raw:
	case <-s.closed:
	default:
		// Outbound buffer full: this client is falling behind. Drop rather
		// than stall every other client's tick.
	}
}

// Outbound returns the channel a transport write-loop should range over.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// Close marks the session closed, unblocking any pending Send and signaling
// the transport loop to stop. Safe to call more than once.
func (s *Session) Close() {
	s.closeOne.Do(func() { close(s.closed) })
}

// RecordLatency appends a round-trip sample, bounding the slice so a
// long-lived connection doesn't grow it unboundedly.
func (s *Session) RecordLatency(ms uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ms = append(s.ms, ms)
	if len(s.ms) > 32 {
		s.ms = s.ms[len(s.ms)-32:]
	}
}

// Touch stamps the last time this client pushed an update. A Coordinator's
// Starting-phase idle check does not read it; that check uses the
// Coordinator's own ClientStatus timestamps.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = time.Now()
}

// LastUpdate returns the last Touch time.
func (s *Session) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// AccountID returns the external staking account tied to this client, if
// any.
func (s *Session) AccountID() *string { return s.accountID }
