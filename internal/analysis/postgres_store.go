package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ndhoang/fraudguard/internal/transaction"
)

// PostgresStore implements Store backed by PostgreSQL. Transaction and
// verdict snapshots go into JSONB; the columns queried by the engine
// (user, timestamp, fraud flags) are first-class and indexed.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres-backed analysis store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transaction_analyses table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transaction_analyses (
			id         VARCHAR(64) PRIMARY KEY,
			user_id    VARCHAR(128) NOT NULL,
			txn        JSONB NOT NULL,
			verdict    JSONB NOT NULL,
			is_fraud   BOOLEAN NOT NULL DEFAULT FALSE,
			verified   BOOLEAN NOT NULL DEFAULT FALSE,
			txn_ts     TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transaction_analyses_user_ts
			ON transaction_analyses (user_id, txn_ts DESC)
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *TransactionAnalysis) error {
	txnJSON, err := json.Marshal(a.Txn)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	verdictJSON, err := json.Marshal(a.Verdict)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transaction_analyses
			(id, user_id, txn, verdict, is_fraud, verified, txn_ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			txn        = EXCLUDED.txn,
			verdict    = EXCLUDED.verdict,
			is_fraud   = EXCLUDED.is_fraud,
			verified   = EXCLUDED.verified,
			txn_ts     = EXCLUDED.txn_ts,
			created_at = EXCLUDED.created_at
	`, a.ID, a.UserID, txnJSON, verdictJSON, a.IsFraud, a.Verified, a.Txn.Timestamp, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, txnID string) (*TransactionAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, txn, verdict, is_fraud, verified, created_at
		FROM transaction_analyses
		WHERE id = $1
	`, txnID)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, userID string, limit int) ([]*TransactionAnalysis, error) {
	return s.list(ctx, `
		SELECT id, user_id, txn, verdict, is_fraud, verified, created_at
		FROM transaction_analyses
		WHERE user_id = $1
		ORDER BY txn_ts DESC
		LIMIT $2
	`, userID, limit)
}

func (s *PostgresStore) ListRecentLegit(ctx context.Context, userID string, limit int) ([]*transaction.Transaction, error) {
	recs, err := s.list(ctx, `
		SELECT id, user_id, txn, verdict, is_fraud, verified, created_at
		FROM transaction_analyses
		WHERE user_id = $1 AND NOT is_fraud
		ORDER BY txn_ts DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*transaction.Transaction, len(recs))
	for i, a := range recs {
		out[i] = a.Txn
	}
	return out, nil
}

func (s *PostgresStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transaction_analyses
		WHERE user_id = $1 AND txn_ts >= $2
	`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkVerified(ctx context.Context, txnID string, isFraud bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transaction_analyses
		SET verified = TRUE, is_fraud = $2
		WHERE id = $1
	`, txnID, isFraud)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query, userID string, limit int) ([]*TransactionAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []*TransactionAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*TransactionAnalysis, error) {
	var (
		a           TransactionAnalysis
		txnJSON     []byte
		verdictJSON []byte
	)
	if err := row.Scan(&a.ID, &a.UserID, &txnJSON, &verdictJSON, &a.IsFraud, &a.Verified, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(txnJSON, &a.Txn); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(verdictJSON, &a.Verdict); err != nil {
		return nil, err
	}
	return &a, nil
}
