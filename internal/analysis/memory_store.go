package analysis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ndhoang/fraudguard/internal/transaction"
)

// MemoryStore is an in-memory Store for tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*TransactionAnalysis
	byUser map[string][]*TransactionAnalysis
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*TransactionAnalysis),
		byUser: make(map[string][]*TransactionAnalysis),
	}
}

func (s *MemoryStore) Record(_ context.Context, a *TransactionAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[a.ID]; ok {
		list := s.byUser[old.UserID]
		for i, rec := range list {
			if rec.ID == a.ID {
				s.byUser[old.UserID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	s.byID[a.ID] = a
	s.byUser[a.UserID] = append(s.byUser[a.UserID], a)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, txnID string) (*TransactionAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[txnID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, userID string, limit int) ([]*TransactionAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent(userID, limit, func(*TransactionAnalysis) bool { return true }), nil
}

func (s *MemoryStore) ListRecentLegit(_ context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.recent(userID, limit, func(a *TransactionAnalysis) bool { return !a.IsFraud })
	out := make([]*transaction.Transaction, len(recs))
	for i, a := range recs {
		out[i] = a.Txn
	}
	return out, nil
}

func (s *MemoryStore) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, a := range s.byUser[userID] {
		if !a.Txn.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkVerified(_ context.Context, txnID string, isFraud bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[txnID]
	if !ok {
		return ErrNotFound
	}
	a.Verified = true
	a.IsFraud = isFraud
	return nil
}

// recent returns up to limit matching records, newest first by timestamp.
// Callers hold s.mu.
func (s *MemoryStore) recent(userID string, limit int, keep func(*TransactionAnalysis) bool) []*TransactionAnalysis {
	list := s.byUser[userID]
	matched := make([]*TransactionAnalysis, 0, len(list))
	for _, a := range list {
		if keep(a) {
			matched = append(matched, a)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Txn.Timestamp.After(matched[j].Txn.Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
