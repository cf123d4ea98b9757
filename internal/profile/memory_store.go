package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Baseline
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Baseline),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, b *Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[b.UserID] = b.Clone()
	return nil
}
