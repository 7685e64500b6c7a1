package memory

import (
	"context"
	"slices"
	"sync"

	"provenance/internal/audit"
	"provenance/pkg/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.ProductID][]audit.Event
	seen   map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[domain.ProductID][]audit.Event),
		seen:   make(map[string]struct{}),
	}
}

// Append ignores events whose id was already stored.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[event.ID]; dup && event.ID != "" {
		return nil
	}
	s.seen[event.ID] = struct{}{}
	s.events[event.ProductID] = append(s.events[event.ProductID], event)
	return nil
}

func (s *InMemoryStore) ListByProduct(_ context.Context, productID domain.ProductID, actions ...audit.Action) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, 0, len(s.events[productID]))
	for _, e := range s.events[productID] {
		if len(actions) == 0 || slices.Contains(actions, e.Action) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[domain.ProductID][]audit.Event)
	s.seen = make(map[string]struct{})
}
