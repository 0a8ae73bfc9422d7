// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// InitDB initializes the database connection pool.
func InitDB(databaseURL string) error {
	var err error
	DB, err = sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS engine_params (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			owner_account VARCHAR(255) NOT NULL,
			engine_address VARCHAR(255) NOT NULL,
			assets JSONB NOT NULL,
			assets_to_feeds JSONB NOT NULL,
			oracle_address TEXT NOT NULL,
			pyth_contract VARCHAR(255) NOT NULL,
			dsc_address VARCHAR(255) NOT NULL,
			liquidation_threshold NUMERIC(39, 0) NOT NULL,
			liquidation_bonus NUMERIC(39, 0) NOT NULL,
			min_health_factor DECIMAL(40, 18) NOT NULL,
			CONSTRAINT uq_engine_params_version UNIQUE (version)
		);

		CREATE TABLE IF NOT EXISTS collateral_balances (
			account VARCHAR(255) NOT NULL,
			denom VARCHAR(255) NOT NULL,
			amount NUMERIC(39, 0) NOT NULL CHECK (amount >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account, denom)
		);

		CREATE TABLE IF NOT EXISTS debt_balances (
			account VARCHAR(255) PRIMARY KEY,
			amount NUMERIC(39, 0) NOT NULL CHECK (amount >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Append-only history of every debt balance change, keyed by operation height
		CREATE TABLE IF NOT EXISTS debt_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			account VARCHAR(255) NOT NULL,
			height BIGINT NOT NULL,
			amount NUMERIC(39, 0) NOT NULL CHECK (amount >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_debt_snapshots_account_height ON debt_snapshots(account, height DESC, snapshot_id DESC);

		-- Height counter table for persistent operation height tracking
		CREATE TABLE IF NOT EXISTS block_height (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_height BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO block_height (id, current_height)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS operation_receipts (
			receipt_id SERIAL PRIMARY KEY,
			operation_id VARCHAR(64) NOT NULL,
			action VARCHAR(50) NOT NULL,
			account VARCHAR(255) NOT NULL,
			asset VARCHAR(255),
			amount NUMERIC(39, 0) NOT NULL,
			height BIGINT NOT NULL,
			operation_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			instructions JSONB NOT NULL,
			detail JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_operation_receipts_timestamp ON operation_receipts(operation_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_operation_receipts_account ON operation_receipts(account);
		CREATE INDEX IF NOT EXISTS idx_operation_receipts_action ON operation_receipts(action);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
