package reports

import (
	"context"
	"fmt"
	"time"

	"storewatch/storage"
)

// StoreReader is the slice of the storage layer the report builder needs.
// Defined here so the builder can be driven by fakes in tests.
type StoreReader interface {
	ListStores(ctx context.Context) ([]int64, error)
	StatusLog(ctx context.Context, storeID int64) ([]storage.Observation, error)
	StoreTimezone(ctx context.Context, storeID int64) (string, error)
	BusinessHours(ctx context.Context, storeID int64) (storage.HoursMap, error)
	MaxObservationTimestamp(ctx context.Context) (time.Time, error)
}

// loadLocation resolves a store's IANA timezone name, falling back to the
// default when the name is missing or unknown.
func loadLocation(name string) *time.Location {
	if name == "" {
		name = storage.DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, err = time.LoadLocation(storage.DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

// projectLocal converts raw observations into rows carrying both the UTC
// instant and its projection into the store's local timezone.
func projectLocal(obs []storage.Observation, loc *time.Location) []storage.StatusLogRow {
	rows := make([]storage.StatusLogRow, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, storage.StatusLogRow{
			StoreID:        o.StoreID,
			IsOpen:         o.IsOpen,
			TimestampUTC:   o.TimestampUTC,
			TimestampLocal: o.TimestampUTC.In(loc),
		})
	}
	return rows
}

// ReportForStore computes one store's report row: its uptime/downtime over
// the last hour, day and week ending at now.
func ReportForStore(ctx context.Context, st StoreReader, storeID int64, now time.Time) (WindowCounts, error) {
	obs, err := st.StatusLog(ctx, storeID)
	if err != nil {
		return WindowCounts{}, fmt.Errorf("status log for store %d: %w", storeID, err)
	}

	tz, err := st.StoreTimezone(ctx, storeID)
	if err != nil {
		return WindowCounts{}, fmt.Errorf("timezone for store %d: %w", storeID, err)
	}

	hours, err := st.BusinessHours(ctx, storeID)
	if err != nil {
		return WindowCounts{}, fmt.Errorf("business hours for store %d: %w", storeID, err)
	}

	rows := projectLocal(obs, loadLocation(tz))
	return WindowsFor(rows, hours, now), nil
}

// TotalForStore computes one store's all-time uptime/downtime in seconds,
// interpolated over [min observation, now] with the same business-hours
// gating as the windowed report.
func TotalForStore(ctx context.Context, st StoreReader, storeID int64, start, now time.Time) (uptime, downtime float64, err error) {
	obs, err := st.StatusLog(ctx, storeID)
	if err != nil {
		return 0, 0, fmt.Errorf("status log for store %d: %w", storeID, err)
	}

	tz, err := st.StoreTimezone(ctx, storeID)
	if err != nil {
		return 0, 0, fmt.Errorf("timezone for store %d: %w", storeID, err)
	}

	hours, err := st.BusinessHours(ctx, storeID)
	if err != nil {
		return 0, 0, fmt.Errorf("business hours for store %d: %w", storeID, err)
	}

	rows := projectLocal(obs, loadLocation(tz))
	up, down := Interpolate(rows, hours, start, now)
	return up.Seconds(), down.Seconds(), nil
}
