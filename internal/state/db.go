// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// ErrDBNotInitialized is returned by every store function before InitDB succeeded.
var ErrDBNotInitialized = errors.New("database not initialized")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	var err error
	DB, err = sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err := DB.Ping(); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Connected to PostgreSQL")
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

// schemaSQL creates every table the operator writes. Amounts are NUMERIC(78,0) so any uint256
// fits without loss.
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS vault_parameters (
		params_id SERIAL PRIMARY KEY,
		vault_address VARCHAR(42) NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		fee_package JSONB NOT NULL,
		withdraw_parameters JSONB NOT NULL,
		supply_cap NUMERIC(78, 0) NOT NULL DEFAULT 0,
		CONSTRAINT uq_vault_parameters_version UNIQUE (vault_address, version)
	);
	CREATE INDEX IF NOT EXISTS idx_vault_parameters_active ON vault_parameters(vault_address, is_active, activated_at DESC);

	CREATE TABLE IF NOT EXISTS vault_snapshots (
		snapshot_id SERIAL PRIMARY KEY,
		cycle_number INTEGER NOT NULL,
		vault_address VARCHAR(42) NOT NULL,
		snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		total_assets NUMERIC(78, 0) NOT NULL,
		idle_balance NUMERIC(78, 0) NOT NULL,
		total_supply NUMERIC(78, 0) NOT NULL,
		price_per_share NUMERIC(78, 0) NOT NULL,
		batches_applied BIGINT NOT NULL,
		markets JSONB,
		fees JSONB,
		pending_queue JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(vault_address, snapshot_timestamp DESC);

	CREATE TABLE IF NOT EXISTS execution_receipts (
		receipt_id SERIAL PRIMARY KEY,
		batch_id UUID NOT NULL UNIQUE,
		vault_address VARCHAR(42) NOT NULL,
		caller VARCHAR(42) NOT NULL,
		maintenance BOOLEAN NOT NULL DEFAULT FALSE,
		action_count INTEGER NOT NULL,
		touched_markets BIGINT[],
		fulfilled_requests TEXT[],
		total_assets_before NUMERIC(78, 0) NOT NULL,
		total_assets_after NUMERIC(78, 0) NOT NULL,
		events JSONB,
		executed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_execution_receipts_timestamp ON execution_receipts(vault_address, executed_at DESC);

	CREATE TABLE IF NOT EXISTS operator_cycles (
		vault_address VARCHAR(42) PRIMARY KEY,
		current_cycle INTEGER NOT NULL DEFAULT 0,
		last_cycle_id UUID,
		last_started_at TIMESTAMPTZ,
		last_finished_at TIMESTAMPTZ,
		last_outcome VARCHAR(16),
		last_error TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

// dropSQL lists the tables removed by ResetSchema, dependents first.
const dropSQL = `
	DROP TABLE IF EXISTS execution_receipts CASCADE;
	DROP TABLE IF EXISTS vault_snapshots CASCADE;
	DROP TABLE IF EXISTS vault_parameters CASCADE;
	DROP TABLE IF EXISTS operator_cycles CASCADE;
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured")
	return nil
}

// ResetSchema drops every operator table and recreates the schema. History is lost.
func ResetSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	if _, err := DB.Exec(dropSQL); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Warn().Msg("Dropped all operator tables")
	return EnsureSchema()
}

// CheckDBConnection reports whether the database connection is healthy
func CheckDBConnection() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
