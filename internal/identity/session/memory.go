package session

import (
	"context"
	"sync"
	"time"

	"heirloom/internal/identity"
	"heirloom/pkg/platform/sentinel"
)

// Clock abstracts time.Now for TTL tests.
type Clock func() time.Time

// InMemory keeps sessions in a mutex-guarded map. Expired sessions are swept
// lazily whenever a new session is saved, matching the lifecycle of a
// single-process deployment: reads never mutate, and completed verifications
// do not delete their session.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]identity.Session
	ttl      time.Duration
	clock    Clock
	onEvict  func(n int)
}

// Option configures an InMemory store.
type Option func(*InMemory)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(s *InMemory) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithEvictionObserver registers a callback invoked with the number of
// sessions removed by each sweep. Used to feed metrics.
func WithEvictionObserver(fn func(n int)) Option {
	return func(s *InMemory) {
		s.onEvict = fn
	}
}

// NewInMemory constructs an in-memory session store with the given TTL.
func NewInMemory(ttl time.Duration, opts ...Option) *InMemory {
	s := &InMemory{
		sessions: make(map[string]identity.Session),
		ttl:      ttl,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores the session and sweeps everything older than the TTL.
func (s *InMemory) Save(_ context.Context, sess identity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.RequestID] = sess

	now := s.clock()
	evicted := 0
	for id, stored := range s.sessions {
		if now.Sub(stored.CreatedAt) > s.ttl {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 && s.onEvict != nil {
		s.onEvict(evicted)
	}
	return nil
}

// FindByID returns the stored session. Reads do not evict: a session past its
// TTL remains retrievable until the next Save sweeps it.
func (s *InMemory) FindByID(_ context.Context, requestID string) (identity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[requestID]; ok {
		return sess, nil
	}
	return identity.Session{}, sentinel.ErrNotFound
}

// Len reports the number of live sessions. Test helper.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
