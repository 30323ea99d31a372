package session

import (
	"sync"
	"time"
)

// Session is the per-connection state. Username is the identity the transport
// claimed at connect time; it is only trusted once Authenticated is set.
type Session struct {
	Username      string
	Authenticated bool
	ConnectedAt   time.Time
}

// Registry maps connection ids to sessions. It is the single source of truth
// for authentication state; there are deliberately no secondary indexes to
// fall out of sync with.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// Option configures the registry.
type Option func(*Registry)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect records a new unauthenticated session with the claimed username.
func (r *Registry) Connect(connID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connID] = &Session{
		Username:    username,
		ConnectedAt: r.now().UTC(),
	}
}

// Disconnect removes the session. Removing an unknown connection is a no-op.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

// Authenticate binds the verified username to the connection.
func (r *Registry) Authenticate(connID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		s = &Session{ConnectedAt: r.now().UTC()}
		r.sessions[connID] = s
	}
	s.Username = username
	s.Authenticated = true
}

// Deauthenticate clears the authenticated flag, keeping the session.
func (r *Registry) Deauthenticate(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[connID]; ok {
		s.Authenticated = false
	}
}

// IsAuthenticated reports whether the connection has a bound account.
func (r *Registry) IsAuthenticated(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return ok && s.Authenticated
}

// UsernameOf returns the username attached to the connection, authenticated
// or merely claimed.
func (r *Registry) UsernameOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok || s.Username == "" {
		return "", false
	}
	return s.Username, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
