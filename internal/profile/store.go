package profile

import "context"

// Store persists user baselines.
type Store interface {
	// Get returns the baseline for userID, or nil if none exists yet.
	Get(ctx context.Context, userID string) (*Baseline, error)

	// Put inserts or replaces the baseline for its UserID.
	Put(ctx context.Context, b *Baseline) error
}
