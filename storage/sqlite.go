package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// SQLiteStore implements Store using SQLite. It exists so the full pipeline
// runs without a PostgreSQL server, for development and tests.
type SQLiteStore struct {
	BaseStore
}

const schemaVersion = 2

// NewSQLiteStore creates a new SQLite-backed store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists (unless in-memory)
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	// Build connection string with pragmas (skip for in-memory databases)
	connStr := dbPath
	if dbPath != ":memory:" {
		connStr += "?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_foreign_keys=ON"
	} else {
		connStr += "?_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; funneling every statement through one
	// connection keeps concurrent callers queued instead of failing with
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		BaseStore: BaseStore{
			db:      db,
			dialect: &SQLiteDialect{},
			dbPath:  dbPath,
		},
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Raw status observations (the only large table)
	CREATE TABLE IF NOT EXISTS store_status (
		store_id INTEGER NOT NULL,
		status INTEGER NOT NULL,
		timestamp_utc DATETIME NOT NULL,
		PRIMARY KEY (store_id, timestamp_utc)
	);

	CREATE INDEX IF NOT EXISTS idx_store_status_store_ts ON store_status(store_id, timestamp_utc);

	-- Store timezones
	CREATE TABLE IF NOT EXISTS time_zone (
		store_id INTEGER PRIMARY KEY,
		timezone_str TEXT NOT NULL DEFAULT 'America/Chicago'
	);

	-- Declared business hours, day_of_week 0=Monday
	CREATE TABLE IF NOT EXISTS menu_hours (
		store_id INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL,
		start_time_local TEXT NOT NULL,
		end_time_local TEXT NOT NULL,
		PRIMARY KEY (store_id, day_of_week)
	);

	-- Report requests and their on-disk artifacts
	CREATE TABLE IF NOT EXISTS report_cache (
		uuid TEXT PRIMARY KEY,
		generating INTEGER NOT NULL DEFAULT 1,
		start_timestamp_utc DATETIME NOT NULL,
		end_timestamp_utc DATETIME
	);

	-- At most one report may be generating at any time
	CREATE UNIQUE INDEX IF NOT EXISTS idx_report_cache_generating
		ON report_cache (generating) WHERE generating = 1;

	-- Key/value settings
	CREATE TABLE IF NOT EXISTS settings (
		setting_name TEXT PRIMARY KEY,
		setting_value TEXT NOT NULL
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

	if currentVersion < schemaVersion {
		_, err = s.db.Exec("INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, ?)",
			schemaVersion, time.Now())
		if err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}
