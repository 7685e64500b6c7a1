// Package existence caches positive product existence answers. Products are
// never deleted, so a positive answer cannot go stale; negatives are never
// cached because a product may be minted at any moment.
package existence

import (
	"context"
	"sync"
	"time"

	"provenance/pkg/domain"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.ProductID]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemory creates a cache whose entries expire after ttl. Zero keeps
// entries for the process lifetime.
func NewInMemory(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[domain.ProductID]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemoryStore) Has(_ context.Context, id domain.ProductID) (bool, error) {
	s.mu.RLock()
	expires, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !expires.IsZero() && !s.now().Before(expires) {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) Remember(_ context.Context, id domain.ProductID) error {
	var expires time.Time
	if s.ttl > 0 {
		expires = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[id] = expires
	s.mu.Unlock()
	return nil
}
