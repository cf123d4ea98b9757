package profile

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

// NewPostgresStore creates a new Postgres-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_profiles table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_profiles (
			user_id       VARCHAR(128) PRIMARY KEY,
			locations     JSONB NOT NULL DEFAULT '[]',
			devices       JSONB NOT NULL DEFAULT '[]',
			categories    JSONB NOT NULL DEFAULT '[]',
			ips           JSONB NOT NULL DEFAULT '[]',
			avg_amount    DOUBLE PRECISION NOT NULL DEFAULT 0,
			typical_hours JSONB NOT NULL DEFAULT '[]',
			tx_count      INTEGER NOT NULL DEFAULT 0,
			last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Baseline, error) {
	var (
		b            Baseline
		locations    []byte
		devices      []byte
		categories   []byte
		ips          []byte
		typicalHours []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, locations, devices, categories, ips, avg_amount, typical_hours, tx_count, last_updated
		FROM user_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&b.UserID, &locations, &devices, &categories, &ips,
		&b.AvgAmount, &typicalHours, &b.TxCount, &b.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{locations, &b.Locations},
		{devices, &b.Devices},
		{categories, &b.Categories},
		{ips, &b.IPs},
		{typicalHours, &b.TypicalHours},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", userID, err)
		}
	}
	return &b, nil
}

func (s *PostgresStore) Put(ctx context.Context, b *Baseline) error {
	locations, err := json.Marshal(b.Locations)
	if err != nil {
		return err
	}
	devices, err := json.Marshal(b.Devices)
	if err != nil {
		return err
	}
	categories, err := json.Marshal(b.Categories)
	if err != nil {
		return err
	}
	ips, err := json.Marshal(b.IPs)
	if err != nil {
		return err
	}
	typicalHours, err := json.Marshal(b.TypicalHours)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles
			(user_id, locations, devices, categories, ips, avg_amount, typical_hours, tx_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			locations     = EXCLUDED.locations,
			devices       = EXCLUDED.devices,
			categories    = EXCLUDED.categories,
			ips           = EXCLUDED.ips,
			avg_amount    = EXCLUDED.avg_amount,
			typical_hours = EXCLUDED.typical_hours,
			tx_count      = EXCLUDED.tx_count,
			last_updated  = EXCLUDED.last_updated
	`, b.UserID, locations, devices, categories, ips, b.AvgAmount, typicalHours, b.TxCount, b.LastUpdated)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}
