package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alerts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id             VARCHAR(64) PRIMARY KEY,
			user_id        VARCHAR(128) NOT NULL,
			transaction_id VARCHAR(64) NOT NULL,
			fraud_score    DOUBLE PRECISION NOT NULL,
			severity       VARCHAR(10) NOT NULL CHECK (severity IN ('low', 'medium', 'high')),
			message        TEXT NOT NULL,
			reasons        JSONB NOT NULL DEFAULT '[]',
			details        TEXT NOT NULL DEFAULT '',
			suggestions    TEXT NOT NULL DEFAULT '',
			status         VARCHAR(16) NOT NULL DEFAULT 'new',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_user_created
			ON alerts (user_id, created_at DESC)
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, user_id, transaction_id, fraud_score, severity, message,
			 reasons, details, suggestions, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.UserID, a.TransactionID, a.FraudScore, a.Severity, a.Message,
		reasons, a.Details, a.Suggestions, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, transaction_id, fraud_score, severity, message,
		       reasons, details, suggestions, status, created_at
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		var (
			a       Alert
			reasons []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.TransactionID, &a.FraudScore,
			&a.Severity, &a.Message, &reasons, &a.Details, &a.Suggestions,
			&a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := json.Unmarshal(reasons, &a.Reasons); err != nil {
			return nil, fmt.Errorf("decode alert %s: %w", a.ID, err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
