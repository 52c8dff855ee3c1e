package storage

import (
	"context"
	"fmt"
	"time"

	"storewatch/config"

	"github.com/google/uuid"
)

// Store is the data-access surface shared by the SQLite and PostgreSQL
// backends. All implementations embed BaseStore; the interface exists so
// consumers and tests do not depend on a concrete backend.
type Store interface {
	// Observations
	ListStores(ctx context.Context) ([]int64, error)
	StatusLog(ctx context.Context, storeID int64) ([]Observation, error)
	InsertObservations(ctx context.Context, obs []Observation) error
	CountObservations(ctx context.Context) (int64, error)
	MaxObservationTimestamp(ctx context.Context) (time.Time, error)
	MinObservationTimestamp(ctx context.Context) (time.Time, error)

	// Timezones and hours
	StoreTimezone(ctx context.Context, storeID int64) (string, error)
	ReplaceTimezones(ctx context.Context, rows []TimezoneRow) error
	BusinessHours(ctx context.Context, storeID int64) (HoursMap, error)
	ReplaceBusinessHours(ctx context.Context, rows []BusinessHoursRow) error

	// Report cache
	BeginReport(ctx context.Context, id uuid.UUID, now time.Time) (uuid.UUID, bool, error)
	FinishReport(ctx context.Context, id uuid.UUID, end time.Time) error
	GetReportRow(ctx context.Context, id uuid.UUID) (*ReportCacheRow, error)
	DeleteReportRow(ctx context.Context, id uuid.UUID) error
	StaleGeneratingReports(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	// Bulk CSV loading
	LoadStatusCSV(ctx context.Context, path string) (int, error)
	LoadTimezonesCSV(ctx context.Context, path string) (int, error)
	LoadMenuHoursCSV(ctx context.Context, path string) (int, error)

	// Settings
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error

	Close() error
	Path() string
}

// NewStore creates a Store implementation based on the database configuration.
//
// For SQLite: uses Path from config or defaults to "storewatch.db".
// For PostgreSQL: uses DSN or builds a connection string from Host, Port,
// User, Password, Name (the DB_* environment variables map onto these).
func NewStore(cfg *config.DatabaseConfig) (Store, error) {
	if cfg == nil {
		cfg = &config.DatabaseConfig{}
	}

	switch driver := cfg.EffectiveDriver(); driver {
	case "sqlite", "sqlite3", "modernc", "modernc-sqlite":
		path := cfg.Path
		if path == "" {
			path = "storewatch.db"
		}
		return NewSQLiteStore(path)

	case "postgres", "postgresql", "timescale", "timescaledb":
		return NewPostgresStore(cfg)

	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres)", driver)
	}
}
