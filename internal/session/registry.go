package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/Elizabethomito/racereg/backend/internal/apperr"
)

// Registry holds the live sessions of the HTTP server. Sessions never share
// state with each other; the registry only maps IDs to them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry returns an empty registry. Sessions idle for longer than ttl
// are dropped by Sweep; a zero ttl keeps them forever.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add stores s under its ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("session %s not found", id))
	}
	return s, nil
}

// FindByOrder returns the session that owns orderID.
func (r *Registry) FindByOrder(orderID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.OrderID() == orderID {
			return s, nil
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("no session for order %s", orderID))
}

// Discard forgets a session, e.g. when the shopper navigates away.
func (r *Registry) Discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the ttl and reports how many
// were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.LastTouched().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
