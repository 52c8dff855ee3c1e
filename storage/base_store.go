package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BaseStore provides shared database operations that work across SQLite and PostgreSQL.
// It embeds a *sql.DB connection and a Dialect for handling SQL syntax differences.
//
// Query placeholders are written using SQLite style (?) and converted at runtime
// when using PostgreSQL. This allows a single codebase for all database operations.
type BaseStore struct {
	db      *sql.DB
	dialect Dialect
	dbPath  string // For SQLite compatibility (stores path or DSN)
}

// NewBaseStore creates a new BaseStore with the given database connection and dialect.
func NewBaseStore(db *sql.DB, dialect Dialect, dbPath string) *BaseStore {
	return &BaseStore{
		db:      db,
		dialect: dialect,
		dbPath:  dbPath,
	}
}

// DB returns the underlying database connection.
func (s *BaseStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect being used.
func (s *BaseStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *BaseStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// query converts SQLite-style ? placeholders to the dialect's format.
// This allows writing queries once with ? and having them work on both SQLite and Postgres.
func (s *BaseStore) query(q string) string {
	if s.dialect.Name() == "postgres" {
		return ConvertPlaceholders(q)
	}
	return q
}

// execContext wraps ExecContext with placeholder conversion.
func (s *BaseStore) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.query(query), args...)
}

// queryContext wraps QueryContext with placeholder conversion.
func (s *BaseStore) queryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.query(query), args...)
}

// queryRowContext wraps QueryRowContext with placeholder conversion.
func (s *BaseStore) queryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.query(query), args...)
}

// ============================================================================
// Store Observation Methods
// ============================================================================

// ListStores returns the distinct store ids present in store_status.
func (s *BaseStore) ListStores(ctx context.Context) ([]int64, error) {
	rows, err := s.queryContext(ctx, `SELECT DISTINCT store_id FROM store_status ORDER BY store_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StatusLog returns every observation for one store, ascending by timestamp.
func (s *BaseStore) StatusLog(ctx context.Context, storeID int64) ([]Observation, error) {
	query := `
		SELECT store_id, status, timestamp_utc
		FROM store_status
		WHERE store_id = ?
		ORDER BY timestamp_utc ASC
	`

	rows, err := s.queryContext(ctx, query, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.StoreID, &o.IsOpen, &o.TimestampUTC); err != nil {
			return nil, err
		}
		o.TimestampUTC = o.TimestampUTC.UTC()
		log = append(log, o)
	}
	return log, rows.Err()
}

// InsertObservations bulk-loads observations inside one transaction.
// Duplicate (store_id, timestamp_utc) pairs are ignored, so re-ingest of the
// same CSV is idempotent.
func (s *BaseStore) InsertObservations(ctx context.Context, obs []Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.query(`
		INSERT INTO store_status (store_id, status, timestamp_utc)
		VALUES (?, ?, ?)
		ON CONFLICT (store_id, timestamp_utc) DO NOTHING
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.StoreID, o.IsOpen, o.TimestampUTC.UTC()); err != nil {
			return fmt.Errorf("insert observation store=%d: %w", o.StoreID, err)
		}
	}

	return tx.Commit()
}

// CountObservations returns the row count of store_status.
func (s *BaseStore) CountObservations(ctx context.Context) (int64, error) {
	var n int64
	err := s.queryRowContext(ctx, `SELECT COUNT(*) FROM store_status`).Scan(&n)
	return n, err
}

// MaxObservationTimestamp returns the newest timestamp in store_status.
// It anchors the rolling windows of a report.
func (s *BaseStore) MaxObservationTimestamp(ctx context.Context) (time.Time, error) {
	return s.edgeObservationTimestamp(ctx, "DESC")
}

// MinObservationTimestamp returns the oldest timestamp in store_status.
func (s *BaseStore) MinObservationTimestamp(ctx context.Context) (time.Time, error) {
	return s.edgeObservationTimestamp(ctx, "ASC")
}

func (s *BaseStore) edgeObservationTimestamp(ctx context.Context, order string) (time.Time, error) {
	// Selecting the column instead of MAX()/MIN() keeps the declared column
	// type visible to the SQLite driver, which needs it to return time.Time.
	query := fmt.Sprintf(`SELECT timestamp_utc FROM store_status ORDER BY timestamp_utc %s LIMIT 1`, order)

	var ts time.Time
	err := s.queryRowContext(ctx, query).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("no observations loaded")
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// ============================================================================
// Timezone and Business Hours Methods
// ============================================================================

// StoreTimezone returns the store's IANA timezone name, falling back to
// DefaultTimezone when the store has no time_zone row.
func (s *BaseStore) StoreTimezone(ctx context.Context, storeID int64) (string, error) {
	var tz string
	err := s.queryRowContext(ctx,
		`SELECT timezone_str FROM time_zone WHERE store_id = ?`, storeID).Scan(&tz)
	if err == sql.ErrNoRows || (err == nil && tz == "") {
		return DefaultTimezone, nil
	}
	if err != nil {
		return "", err
	}
	return tz, nil
}

// ReplaceTimezones upserts store timezone rows inside one transaction.
func (s *BaseStore) ReplaceTimezones(ctx context.Context, rows []TimezoneRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.query(`
		INSERT INTO time_zone (store_id, timezone_str)
		VALUES (?, ?)
		ON CONFLICT (store_id) DO UPDATE SET timezone_str = excluded.timezone_str
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.StoreID, r.Timezone); err != nil {
			return fmt.Errorf("insert timezone store=%d: %w", r.StoreID, err)
		}
	}

	return tx.Commit()
}

// BusinessHours returns the store's declared open intervals keyed by
// day-of-week (0=Monday). Days without a row are absent; callers substitute
// AllDay for missing days.
func (s *BaseStore) BusinessHours(ctx context.Context, storeID int64) (HoursMap, error) {
	// CAST keeps the value readable as text on both backends; Postgres TIME
	// values would otherwise need driver-specific scanning.
	query := `
		SELECT day_of_week, CAST(start_time_local AS TEXT), CAST(end_time_local AS TEXT)
		FROM menu_hours
		WHERE store_id = ?
	`

	rows, err := s.queryContext(ctx, query, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hours := make(HoursMap)
	for rows.Next() {
		var dow int
		var openStr, closeStr string
		if err := rows.Scan(&dow, &openStr, &closeStr); err != nil {
			return nil, err
		}
		open, err := ParseTimeOfDay(openStr)
		if err != nil {
			return nil, fmt.Errorf("store %d dow %d: %w", storeID, dow, err)
		}
		close, err := ParseTimeOfDay(closeStr)
		if err != nil {
			return nil, fmt.Errorf("store %d dow %d: %w", storeID, dow, err)
		}
		hours[dow] = OpenInterval{Open: open, Close: close}
	}
	return hours, rows.Err()
}

// ReplaceBusinessHours upserts menu_hours rows inside one transaction.
func (s *BaseStore) ReplaceBusinessHours(ctx context.Context, rows []BusinessHoursRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.query(`
		INSERT INTO menu_hours (store_id, day_of_week, start_time_local, end_time_local)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (store_id, day_of_week) DO UPDATE SET
			start_time_local = excluded.start_time_local,
			end_time_local = excluded.end_time_local
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.StoreID, r.DayOfWeek, r.Open.String(), r.Close.String()); err != nil {
			return fmt.Errorf("insert hours store=%d dow=%d: %w", r.StoreID, r.DayOfWeek, err)
		}
	}

	return tx.Commit()
}

// ============================================================================
// Report Cache Methods
// ============================================================================

// BeginReport admits a report request under the single-flight rule. If any
// row is still generating, its uuid is returned and fresh is false; otherwise
// a new row (id, generating=true, start=now) is inserted and fresh is true.
//
// Mutual exclusion rests on the partial unique index over generating rows:
// the insert either wins it or hits the conflict, so two concurrent triggers
// can never both insert. A losing trigger re-reads the winner's uuid; if the
// winner finished in between, the insert is retried.
func (s *BaseStore) BeginReport(ctx context.Context, id uuid.UUID, now time.Time) (uuid.UUID, bool, error) {
	for attempt := 0; attempt < 5; attempt++ {
		res, err := s.execContext(ctx, `
			INSERT INTO report_cache (uuid, generating, start_timestamp_utc)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, id, true, now.UTC())
		if err != nil {
			return uuid.Nil, false, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return uuid.Nil, false, err
		} else if n > 0 {
			return id, true, nil
		}

		var existing uuid.UUID
		err = s.queryRowContext(ctx,
			`SELECT uuid FROM report_cache WHERE generating = ? LIMIT 1`, true).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return uuid.Nil, false, err
		}
		// The in-flight report completed between insert and select.
	}
	return uuid.Nil, false, fmt.Errorf("could not admit report request for %s", id)
}

// FinishReport marks a report row complete.
func (s *BaseStore) FinishReport(ctx context.Context, id uuid.UUID, end time.Time) error {
	_, err := s.execContext(ctx, `
		UPDATE report_cache SET generating = ?, end_timestamp_utc = ? WHERE uuid = ?
	`, false, end.UTC(), id)
	return err
}

// GetReportRow returns the cache row for a report id, or nil when absent.
func (s *BaseStore) GetReportRow(ctx context.Context, id uuid.UUID) (*ReportCacheRow, error) {
	var row ReportCacheRow
	var end sql.NullTime
	err := s.queryRowContext(ctx, `
		SELECT uuid, generating, start_timestamp_utc, end_timestamp_utc
		FROM report_cache
		WHERE uuid = ?
	`, id).Scan(&row.UUID, &row.Generating, &row.StartUTC, &end)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time.UTC()
		row.EndUTC = &t
	}
	row.StartUTC = row.StartUTC.UTC()
	return &row, nil
}

// DeleteReportRow removes a cache row. Used when the artifact has gone
// missing and by the janitor.
func (s *BaseStore) DeleteReportRow(ctx context.Context, id uuid.UUID) error {
	_, err := s.execContext(ctx, `DELETE FROM report_cache WHERE uuid = ?`, id)
	return err
}

// StaleGeneratingReports returns ids of rows that have been generating since
// before the cutoff. These belong to workers that crashed mid-report.
func (s *BaseStore) StaleGeneratingReports(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.queryContext(ctx, `
		SELECT uuid FROM report_cache WHERE generating = ? AND start_timestamp_utc < ?
	`, true, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ============================================================================
// Settings Methods
// ============================================================================

// GetSetting returns a settings value, or "" when the key is absent.
func (s *BaseStore) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := s.queryRowContext(ctx,
		`SELECT setting_value FROM settings WHERE setting_name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *BaseStore) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.execContext(ctx, `
		INSERT INTO settings (setting_name, setting_value)
		VALUES (?, ?)
		ON CONFLICT (setting_name) DO UPDATE SET setting_value = excluded.setting_value
	`, name, value)
	return err
}

// TimezoneRow is one time_zone row for bulk loading.
type TimezoneRow struct {
	StoreID  int64
	Timezone string
}

// BusinessHoursRow is one menu_hours row for bulk loading.
type BusinessHoursRow struct {
	StoreID   int64
	DayOfWeek int
	Open      TimeOfDay
	Close     TimeOfDay
}
