package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Observation is one raw store_status row: a single up/down sample for a
// store at a UTC instant.
type Observation struct {
	StoreID      int64
	IsOpen       bool
	TimestampUTC time.Time
}

// StatusLogRow is an observation projected into the store's local timezone.
// TimestampLocal is used only to gate deltas against business hours; all
// duration math stays in UTC.
type StatusLogRow struct {
	StoreID        int64
	IsOpen         bool
	TimestampUTC   time.Time
	TimestampLocal time.Time
}

// TimeOfDay is a local wall-clock time expressed as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	n, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if err != nil && n < 2 {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// TimeOfDayFrom extracts the time-of-day component of a local timestamp.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// OpenInterval is a store's open window for one day of the week,
// inclusive on both ends.
type OpenInterval struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// Contains reports whether t falls within the interval.
func (iv OpenInterval) Contains(t TimeOfDay) bool {
	return iv.Open <= t && t <= iv.Close
}

// AllDay is the interval substituted for days with no declared hours.
var AllDay = OpenInterval{Open: 0, Close: 23*3600 + 59*60}

// HoursMap maps day-of-week to a store's open interval. Days are indexed
// 0=Monday through 6=Sunday, matching the day_of_week column.
type HoursMap map[int]OpenInterval

// WeekdayIndex converts Go's Sunday-based time.Weekday to the Monday-based
// index used by menu_hours.
func WeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ReportCacheRow tracks one fleet report request and its on-disk artifact.
// EndUTC is nil while the report is still generating.
type ReportCacheRow struct {
	UUID       uuid.UUID
	Generating bool
	StartUTC   time.Time
	EndUTC     *time.Time
}

// DefaultTimezone is substituted when a store has no time_zone row.
const DefaultTimezone = "America/Chicago"

// SettingCSVDataChanged flags that freshly downloaded CSVs are waiting to be
// loaded. PopulateFromCSV only runs a bulk load while this reads "true" and
// resets it to "false" afterwards.
const SettingCSVDataChanged = "csv_data_changed"
