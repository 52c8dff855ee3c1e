package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storewatch/config"

	// Import postgres driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store for PostgreSQL, with TimescaleDB features
// when the extension is available.
type PostgresStore struct {
	BaseStore
	timescale *TimescaleSupport
}

const pgSchemaVersion = 2

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(cfg *config.DatabaseConfig) (*PostgresStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config required")
	}

	dsn := cfg.BuildDSN()
	if dsn == "" {
		return nil, fmt.Errorf("invalid database configuration: could not build DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSecs > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSecs) * time.Second)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{
		BaseStore: BaseStore{
			db:      db,
			dialect: &PostgresDialect{},
		},
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}

	ts, err := NewTimescaleSupport(db, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize timescale support: %w", err)
	}
	store.timescale = ts

	if err := ts.InitializeHypertables(ctx); err != nil {
		logWarn("Could not convert store_status to a hypertable", "error", err)
	}
	if err := ts.SetupCompression(ctx); err != nil {
		logWarn("Could not set up compression", "error", err)
	}

	logInfo("Opened PostgreSQL database", "host", cfg.Host, "database", cfg.Name, "timescale", ts.Enabled())

	return store, nil
}

// initSchema creates the database schema for PostgreSQL.
func (s *PostgresStore) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Raw status observations (the only large table)
	CREATE TABLE IF NOT EXISTS store_status (
		store_id BIGINT NOT NULL,
		status BOOLEAN NOT NULL,
		timestamp_utc TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (store_id, timestamp_utc)
	);

	CREATE INDEX IF NOT EXISTS idx_store_status_store_ts ON store_status(store_id, timestamp_utc);

	-- Store timezones
	CREATE TABLE IF NOT EXISTS time_zone (
		store_id BIGINT PRIMARY KEY,
		timezone_str VARCHAR(255) NOT NULL DEFAULT 'America/Chicago'
	);

	-- Declared business hours, day_of_week 0=Monday
	CREATE TABLE IF NOT EXISTS menu_hours (
		store_id BIGINT NOT NULL,
		day_of_week SMALLINT NOT NULL,
		start_time_local TIME NOT NULL,
		end_time_local TIME NOT NULL,
		PRIMARY KEY (store_id, day_of_week)
	);

	-- Report requests and their on-disk artifacts
	CREATE TABLE IF NOT EXISTS report_cache (
		uuid UUID PRIMARY KEY,
		generating BOOLEAN NOT NULL DEFAULT TRUE,
		start_timestamp_utc TIMESTAMPTZ NOT NULL,
		end_timestamp_utc TIMESTAMPTZ
	);

	-- At most one report may be generating at any time
	CREATE UNIQUE INDEX IF NOT EXISTS idx_report_cache_generating
		ON report_cache (generating) WHERE generating;

	-- Key/value settings
	CREATE TABLE IF NOT EXISTS settings (
		setting_name VARCHAR(255) PRIMARY KEY,
		setting_value VARCHAR(255) NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Check/update schema version
	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if currentVersion < pgSchemaVersion {
		_, err = s.db.Exec("INSERT INTO schema_version (version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
			pgSchemaVersion, time.Now())
		if err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logInfo("Schema initialized for PostgreSQL", "schemaVersion", pgSchemaVersion)

	return nil
}

// Timescale returns the TimescaleDB support helper.
func (s *PostgresStore) Timescale() *TimescaleSupport {
	return s.timescale
}

// Path returns an empty string since PostgreSQL doesn't use file paths.
func (s *PostgresStore) Path() string {
	return ""
}
