package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the tables and indexes the service needs.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		// Principals: one row per signed-up account.
		`CREATE TABLE IF NOT EXISTS principals (
			id UUID PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			credential_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// API keys. The raw secret is never stored: secret_digest carries the
		// indexed reverse lookup, encrypted_secret exists only for the
		// one-time reveal.
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL REFERENCES principals(id),
			secret_digest VARCHAR(64) UNIQUE NOT NULL,
			encrypted_secret TEXT NOT NULL,
			tier VARCHAR(16) NOT NULL,
			minute_limit INT NOT NULL,
			day_limit INT NOT NULL,
			price_id VARCHAR(64),
			subscription_id VARCHAR(128),
			name VARCHAR(128) NOT NULL DEFAULT '',
			revealed BOOLEAN NOT NULL DEFAULT FALSE,
			usage_count BIGINT NOT NULL DEFAULT 0,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// Payment audit trail: one row per processed billing event,
		// whether or not a key was granted.
		`CREATE TABLE IF NOT EXISTS payment_audits (
			id UUID PRIMARY KEY,
			principal_id UUID NOT NULL REFERENCES principals(id),
			price_id VARCHAR(64) NOT NULL,
			amount_cents BIGINT NOT NULL,
			external_payment_id VARCHAR(128) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_owner_tier ON api_keys(owner_id, tier);`,
		`CREATE INDEX IF NOT EXISTS idx_payment_audits_principal ON payment_audits(principal_id);`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}
