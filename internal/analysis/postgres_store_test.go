package analysis_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ndhoang/fraudguard/internal/analysis"
	"github.com/ndhoang/fraudguard/internal/testutil"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

func pgRecord(id, userID string, ts time.Time, suspicious bool) *analysis.TransactionAnalysis {
	txn := &transaction.Transaction{
		ID:        id,
		UserID:    userID,
		Amount:    decimal.NewFromFloat(120.50),
		Currency:  "USD",
		Category:  "groceries",
		Timestamp: ts,
		SourceIP:  "203.0.113.7",
	}
	v := &analysis.Verdict{
		TransactionID: id,
		UserID:        userID,
		FraudScore:    20,
		Suspicious:    suspicious,
		EvaluatedAt:   ts,
	}
	return analysis.NewRecord(txn, v)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := analysis.NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := pgRecord("txn_pg_1", "user-pg", now, false)
	require.NoError(t, store.Record(ctx, a))

	got, err := store.Get(ctx, "txn_pg_1")
	require.NoError(t, err)
	require.Equal(t, "user-pg", got.UserID)
	require.False(t, got.IsFraud)
	require.True(t, got.Txn.Amount.Equal(decimal.NewFromFloat(120.50)))
	require.Equal(t, float64(20), got.Verdict.FraudScore)

	_, err = store.Get(ctx, "txn_pg_missing")
	require.ErrorIs(t, err, analysis.ErrNotFound)
}

func TestPostgresStoreHistoryQueries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := analysis.NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.Record(ctx, pgRecord("txn_pg_a", "user-pg", now.Add(-3*time.Hour), false)))
	require.NoError(t, store.Record(ctx, pgRecord("txn_pg_b", "user-pg", now.Add(-30*time.Minute), true)))
	require.NoError(t, store.Record(ctx, pgRecord("txn_pg_c", "user-pg", now, false)))
	require.NoError(t, store.Record(ctx, pgRecord("txn_pg_other", "someone-else", now, false)))

	recent, err := store.ListRecent(ctx, "user-pg", 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "txn_pg_c", recent[0].ID) // newest first

	// Flagged transaction is excluded from learning until cleared
	legit, err := store.ListRecentLegit(ctx, "user-pg", 10)
	require.NoError(t, err)
	require.Len(t, legit, 2)

	require.NoError(t, store.MarkVerified(ctx, "txn_pg_b", false))
	legit, err = store.ListRecentLegit(ctx, "user-pg", 10)
	require.NoError(t, err)
	require.Len(t, legit, 3)

	count, err := store.CountSince(ctx, "user-pg", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.ErrorIs(t, store.MarkVerified(ctx, "txn_pg_ghost", true), analysis.ErrNotFound)
}
