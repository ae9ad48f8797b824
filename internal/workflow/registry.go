package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns the live sessions, keyed by session id. Each user's session
// is independent; there is no cross-session shared state. Expired sessions
// are pruned lazily on access.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewRegistry creates a registry whose sessions expire after the given idle
// TTL.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Begin creates a fresh session in the awaiting-submission state and
// registers it under a new id.
func (r *Registry) Begin() *Session {
	s := NewSession(uuid.NewString())
	s.Begin()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	r.sessions[s.id] = s
	return s
}

// Get returns the session for id, or nil if unknown or expired.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	return r.sessions[id]
}

// Drop tears a session down explicitly (session end).
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) pruneLocked(now time.Time) {
	for id, s := range r.sessions {
		if s.expired(r.ttl, now) {
			delete(r.sessions, id)
		}
	}
}
