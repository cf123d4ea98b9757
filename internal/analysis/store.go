package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/ndhoang/fraudguard/internal/transaction"
)

// ErrNotFound is returned when no analysis exists for a transaction ID.
var ErrNotFound = errors.New("analysis not found")

// Store persists transaction analyses and answers the history queries
// the engine and profile updater depend on.
type Store interface {
	// Record saves a new analysis. Recording the same transaction ID
	// twice replaces the earlier record.
	Record(ctx context.Context, a *TransactionAnalysis) error

	// Get returns the analysis for a transaction, or ErrNotFound.
	Get(ctx context.Context, txnID string) (*TransactionAnalysis, error)

	// ListRecent returns up to limit analyses for userID, newest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]*TransactionAnalysis, error)

	// ListRecentLegit returns up to limit recent transactions for userID
	// that are safe for profile learning: everything currently held as
	// fraud (flagged and not cleared by verification) is excluded.
	ListRecentLegit(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error)

	// CountSince returns how many transactions userID had with a
	// timestamp at or after since. This feeds the velocity check.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)

	// MarkVerified records verification feedback for a transaction.
	// isFraud false clears the record for profile learning.
	MarkVerified(ctx context.Context, txnID string, isFraud bool) error
}
