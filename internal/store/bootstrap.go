package store

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const systemTablesSQL = `
CREATE TABLE IF NOT EXISTS validation_configs (
    table_name  TEXT PRIMARY KEY,
    config      JSONB NOT NULL,
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS validation_results (
    id                   UUID PRIMARY KEY,
    table_name           TEXT NOT NULL,
    status               TEXT NOT NULL,
    validations_performed JSONB NOT NULL DEFAULT '[]',
    total_rows           BIGINT NOT NULL DEFAULT 0,
    anomalies_count      INT NOT NULL DEFAULT 0,
    anomalies            JSONB NOT NULL DEFAULT '[]',
    email_sent           BOOLEAN NOT NULL DEFAULT false,
    validation_timestamp TIMESTAMPTZ NOT NULL,
    created_at           TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_validation_results_table ON validation_results(table_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_validation_results_created ON validation_results(created_at DESC);

CREATE TABLE IF NOT EXISTS dashboard_users (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    active        BOOLEAN DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW()
);
`

// Bootstrap creates the system tables and seeds the default dashboard user.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, systemTablesSQL); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedDashboardUser(ctx); err != nil {
		return fmt.Errorf("seed dashboard user: %w", err)
	}
	return nil
}

func (s *Store) seedDashboardUser(ctx context.Context) error {
	var count int
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM dashboard_users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash default password: %w", err)
	}

	_, err = s.Pool.Exec(ctx,
		"INSERT INTO dashboard_users (email, password_hash) VALUES ($1, $2)",
		"admin@example.com", string(hash))
	return err
}
