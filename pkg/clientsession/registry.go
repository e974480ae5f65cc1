package clientsession

import (
	"sync"

	"stakesession/pkg/session"
)

// Registry is the process-wide table of connected clients, the Go analogue
// of the original's `lazy_static! CLIENTS: Mutex<HashMap<UserId, Addr<...>>>`.
// A server process holds exactly one Registry; handlers reach it through
// dependency injection rather than a package-level singleton, since a
// package-level `sync.Mutex`-guarded map is harder to exercise in tests than
// an explicit value.
type Registry struct {
	mu      sync.RWMutex
	clients map[session.UserID]*Session
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[session.UserID]*Session{}}
}

// Put registers (or replaces) the live Session for userID. A reconnecting
// user displaces its prior handle; the caller is responsible for closing
// the old one first if it still needs draining.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[s.userID] = s
}

// Get returns the live Session for userID, if connected.
func (r *Registry) Get(userID session.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.clients[userID]
	return s, ok
}

// Remove drops userID from the registry. Called once its Session's
// transport loop exits.
func (r *Registry) Remove(userID session.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, userID)
}

// Len reports how many clients are currently connected.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
