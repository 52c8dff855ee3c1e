package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TimescaleConfig holds configuration for TimescaleDB features.
type TimescaleConfig struct {
	// Enabled controls whether TimescaleDB features are used.
	// If nil, auto-detection is performed.
	Enabled *bool

	// ChunkInterval is the time range covered by each store_status chunk.
	// Default: 7 days (observations are sparse per store).
	ChunkInterval string

	// CompressionAfter enables automatic compression for chunks older than
	// this duration. Default: 30 days.
	CompressionAfter time.Duration
}

// DefaultTimescaleConfig returns the default TimescaleDB configuration.
func DefaultTimescaleConfig() *TimescaleConfig {
	return &TimescaleConfig{
		ChunkInterval:    "7 days",
		CompressionAfter: 30 * 24 * time.Hour,
	}
}

// TimescaleSupport provides TimescaleDB-specific operations for the
// PostgreSQL store. The store works on plain PostgreSQL too; store_status is
// only partitioned and compressed when the extension is present.
type TimescaleSupport struct {
	db      *sql.DB
	enabled bool
	config  *TimescaleConfig
}

// NewTimescaleSupport creates a new TimescaleSupport instance.
// It auto-detects whether TimescaleDB is available if config.Enabled is nil.
// If TimescaleDB is available but not yet enabled, it will attempt to create the extension.
func NewTimescaleSupport(db *sql.DB, config *TimescaleConfig) (*TimescaleSupport, error) {
	if config == nil {
		config = DefaultTimescaleConfig()
	}

	ts := &TimescaleSupport{
		db:     db,
		config: config,
	}

	installed, err := ts.isTimescaleInstalled()
	if err != nil {
		return nil, fmt.Errorf("checking TimescaleDB availability: %w", err)
	}

	if config.Enabled != nil {
		// Explicit configuration
		if *config.Enabled {
			if !installed {
				if err := ts.tryCreateExtension(); err != nil {
					return nil, fmt.Errorf("TimescaleDB is explicitly enabled but extension could not be created: %w", err)
				}
				logInfo("TimescaleDB extension created successfully")
			}
			ts.enabled = true
		} else {
			ts.enabled = false
		}
	} else {
		// Auto-detect mode
		if installed {
			ts.enabled = true
			logDebug("TimescaleDB already installed, enabling features")
		} else {
			// Not installed - try to create it (handles postgres->timescaledb upgrade)
			if err := ts.tryCreateExtension(); err == nil {
				ts.enabled = true
				logInfo("TimescaleDB extension auto-enabled (detected available but not installed)")
			} else {
				logDebug("TimescaleDB extension creation failed (plain PostgreSQL assumed)", "error", err)
				ts.enabled = false
			}
		}
	}

	return ts, nil
}

// Enabled returns whether TimescaleDB features are enabled.
func (ts *TimescaleSupport) Enabled() bool {
	return ts.enabled
}

// isTimescaleInstalled checks if the TimescaleDB extension is currently installed.
func (ts *TimescaleSupport) isTimescaleInstalled() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var isInstalled bool
	err := ts.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pg_extension WHERE extname = 'timescaledb'
		)
	`).Scan(&isInstalled)
	if err != nil {
		return false, err
	}

	return isInstalled, nil
}

// tryCreateExtension attempts to create the TimescaleDB extension.
// Returns nil on success, error if the extension is not available or creation fails.
func (ts *TimescaleSupport) tryCreateExtension() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// This succeeds on TimescaleDB images and fails on plain PostgreSQL
	// (extension not available)
	_, err := ts.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE")
	if err != nil {
		return err
	}

	var installed bool
	err = ts.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&installed)
	if err != nil {
		return fmt.Errorf("verifying extension creation: %w", err)
	}
	if !installed {
		return fmt.Errorf("extension creation succeeded but extension not found")
	}

	return nil
}

// InitializeHypertables converts store_status to a TimescaleDB hypertable.
// This enables automatic time-based partitioning for efficient time-series queries.
// Safe to call multiple times - skips tables already converted.
func (ts *TimescaleSupport) InitializeHypertables(ctx context.Context) error {
	if !ts.enabled {
		return nil
	}

	if err := ts.createHypertable(ctx, "store_status", "timestamp_utc", ts.config.ChunkInterval); err != nil {
		return fmt.Errorf("creating store_status hypertable: %w", err)
	}

	return nil
}

// createHypertable converts a table to a TimescaleDB hypertable.
// chunkInterval specifies the time range covered by each chunk (e.g., "1 day", "7 days").
func (ts *TimescaleSupport) createHypertable(ctx context.Context, table, timeColumn, chunkInterval string) error {
	// Check if already a hypertable
	var isHypertable bool
	err := ts.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM timescaledb_information.hypertables
			WHERE hypertable_name = $1
		)
	`, table).Scan(&isHypertable)
	if err != nil {
		return fmt.Errorf("checking hypertable status: %w", err)
	}

	if isHypertable {
		logDebug("Table already a hypertable", "table", table)
		return nil
	}

	// migrate_data => true: migrate existing data into chunks
	// if_not_exists => true: don't error if already a hypertable
	query := fmt.Sprintf(`
		SELECT create_hypertable('%s', '%s',
			chunk_time_interval => INTERVAL '%s',
			migrate_data => true,
			if_not_exists => true
		)
	`, table, timeColumn, chunkInterval)

	_, err = ts.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("creating hypertable: %w", err)
	}

	logInfo("Created TimescaleDB hypertable", "table", table, "chunk_interval", chunkInterval)
	return nil
}

// SetupCompression enables compression for older store_status chunks.
func (ts *TimescaleSupport) SetupCompression(ctx context.Context) error {
	if !ts.enabled {
		return nil
	}

	var compressionEnabled bool
	err := ts.db.QueryRowContext(ctx, `
		SELECT compression_enabled
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'store_status'
	`).Scan(&compressionEnabled)
	if err != nil {
		if err == sql.ErrNoRows {
			// Not a hypertable, skip
			return nil
		}
		return fmt.Errorf("checking compression status: %w", err)
	}

	if !compressionEnabled {
		_, err := ts.db.ExecContext(ctx, `
			ALTER TABLE store_status SET (
				timescaledb.compress,
				timescaledb.compress_segmentby = 'store_id',
				timescaledb.compress_orderby = 'timestamp_utc DESC'
			)
		`)
		if err != nil {
			return fmt.Errorf("enabling compression: %w", err)
		}
		logInfo("Enabled compression on hypertable", "table", "store_status")
	}

	intervalHours := int(ts.config.CompressionAfter.Hours())
	_, err = ts.db.ExecContext(ctx, `
		SELECT add_compression_policy($1, INTERVAL '1 hour' * $2, if_not_exists => true)
	`, "store_status", intervalHours)
	if err != nil {
		// Policy might already exist with different interval; that's okay
		logWarn("Could not add compression policy (may already exist)", "table", "store_status", "error", err)
	}

	return nil
}

// HypertableInfo contains status information about a TimescaleDB hypertable.
type HypertableInfo struct {
	Name               string `json:"name"`
	NumChunks          int    `json:"num_chunks"`
	CompressionEnabled bool   `json:"compression_enabled"`
	TotalSize          string `json:"total_size"`
}

// GetHypertableInfo returns information about TimescaleDB hypertables.
func (ts *TimescaleSupport) GetHypertableInfo(ctx context.Context) ([]HypertableInfo, error) {
	if !ts.enabled {
		return nil, nil
	}

	rows, err := ts.db.QueryContext(ctx, `
		SELECT
			hypertable_name,
			num_chunks,
			COALESCE(compression_enabled, false) as compression_enabled,
			COALESCE(
				(SELECT pg_size_pretty(hypertable_size(format('%I.%I', hypertable_schema, hypertable_name)::regclass))),
				'0 bytes'
			) as total_size
		FROM timescaledb_information.hypertables
		ORDER BY hypertable_name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying hypertable info: %w", err)
	}
	defer rows.Close()

	var infos []HypertableInfo
	for rows.Next() {
		var info HypertableInfo
		if err := rows.Scan(&info.Name, &info.NumChunks, &info.CompressionEnabled, &info.TotalSize); err != nil {
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}
