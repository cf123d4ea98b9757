package alerts

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]*Alert
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]*Alert)}
}

func (s *MemoryStore) Create(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[a.UserID] = append(s.byUser[a.UserID], a)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byUser[userID]
	// Newest first; inserts are append-only so reverse order suffices.
	out := make([]*Alert, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
