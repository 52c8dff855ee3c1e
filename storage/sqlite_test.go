package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestObservationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	obs := []Observation{
		{StoreID: 2, IsOpen: true, TimestampUTC: base.Add(10 * time.Minute)},
		{StoreID: 1, IsOpen: false, TimestampUTC: base},
		{StoreID: 1, IsOpen: true, TimestampUTC: base.Add(5 * time.Minute)},
	}
	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations: %v", err)
	}

	ids, err := store.ListStores(ctx)
	if err != nil {
		t.Fatalf("ListStores: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ListStores = %v, want [1 2]", ids)
	}

	log, err := store.StatusLog(ctx, 1)
	if err != nil {
		t.Fatalf("StatusLog: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("got %d rows for store 1, want 2", len(log))
	}
	if !log[0].TimestampUTC.Equal(base) || log[0].IsOpen {
		t.Errorf("first row = %+v, want down at %v", log[0], base)
	}
	if !log[1].TimestampUTC.Equal(base.Add(5*time.Minute)) || !log[1].IsOpen {
		t.Errorf("second row = %+v, want up at %v", log[1], base.Add(5*time.Minute))
	}

	count, err := store.CountObservations(ctx)
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	max, err := store.MaxObservationTimestamp(ctx)
	if err != nil {
		t.Fatalf("MaxObservationTimestamp: %v", err)
	}
	if !max.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("max = %v, want %v", max, base.Add(10*time.Minute))
	}

	min, err := store.MinObservationTimestamp(ctx)
	if err != nil {
		t.Fatalf("MinObservationTimestamp: %v", err)
	}
	if !min.Equal(base) {
		t.Errorf("min = %v, want %v", min, base)
	}
}

func TestInsertObservationsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	obs := []Observation{
		{StoreID: 1, IsOpen: true, TimestampUTC: base},
		{StoreID: 1, IsOpen: false, TimestampUTC: base.Add(time.Minute)},
	}

	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	first, err := store.CountObservations(ctx)
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}

	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	second, err := store.CountObservations(ctx)
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}

	if first != second {
		t.Errorf("count changed on re-insert: %d -> %d", first, second)
	}
}

func TestMaxObservationTimestampEmpty(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.MaxObservationTimestamp(context.Background()); err == nil {
		t.Error("expected error on empty store_status")
	}
}

func TestStoreTimezoneFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tz, err := store.StoreTimezone(ctx, 42)
	if err != nil {
		t.Fatalf("StoreTimezone: %v", err)
	}
	if tz != DefaultTimezone {
		t.Errorf("missing row: got %q, want %q", tz, DefaultTimezone)
	}

	if err := store.ReplaceTimezones(ctx, []TimezoneRow{{StoreID: 42, Timezone: "Asia/Kolkata"}}); err != nil {
		t.Fatalf("ReplaceTimezones: %v", err)
	}
	tz, err = store.StoreTimezone(ctx, 42)
	if err != nil {
		t.Fatalf("StoreTimezone: %v", err)
	}
	if tz != "Asia/Kolkata" {
		t.Errorf("got %q, want Asia/Kolkata", tz)
	}
}

func TestBusinessHoursRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open, _ := ParseTimeOfDay("09:00:00")
	close, _ := ParseTimeOfDay("17:30:00")
	rows := []BusinessHoursRow{
		{StoreID: 5, DayOfWeek: 0, Open: open, Close: close},
		{StoreID: 5, DayOfWeek: 4, Open: open, Close: close},
	}
	if err := store.ReplaceBusinessHours(ctx, rows); err != nil {
		t.Fatalf("ReplaceBusinessHours: %v", err)
	}

	hours, err := store.BusinessHours(ctx, 5)
	if err != nil {
		t.Fatalf("BusinessHours: %v", err)
	}
	if len(hours) != 2 {
		t.Fatalf("got %d days, want 2", len(hours))
	}
	iv, ok := hours[0]
	if !ok || iv.Open != open || iv.Close != close {
		t.Errorf("monday interval = %+v, want (%v, %v)", iv, open, close)
	}
	if _, ok := hours[1]; ok {
		t.Error("unexpected interval for undeclared day")
	}

	// Absent store yields an empty map, never an error.
	hours, err = store.BusinessHours(ctx, 999)
	if err != nil {
		t.Fatalf("BusinessHours absent store: %v", err)
	}
	if len(hours) != 0 {
		t.Errorf("absent store: got %d days, want 0", len(hours))
	}
}

func TestReportCacheLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	id := uuid.New()
	got, fresh, err := store.BeginReport(ctx, id, now)
	if err != nil {
		t.Fatalf("BeginReport: %v", err)
	}
	if !fresh || got != id {
		t.Fatalf("first BeginReport: got (%s, %v), want (%s, true)", got, fresh, id)
	}

	// A second request joins the in-flight report.
	other, fresh, err := store.BeginReport(ctx, uuid.New(), now.Add(time.Second))
	if err != nil {
		t.Fatalf("second BeginReport: %v", err)
	}
	if fresh || other != id {
		t.Errorf("second BeginReport: got (%s, %v), want (%s, false)", other, fresh, id)
	}

	row, err := store.GetReportRow(ctx, id)
	if err != nil {
		t.Fatalf("GetReportRow: %v", err)
	}
	if row == nil || !row.Generating || row.EndUTC != nil {
		t.Fatalf("row = %+v, want generating with no end", row)
	}
	if !row.StartUTC.Equal(now) {
		t.Errorf("start = %v, want %v", row.StartUTC, now)
	}

	end := now.Add(time.Minute)
	if err := store.FinishReport(ctx, id, end); err != nil {
		t.Fatalf("FinishReport: %v", err)
	}
	row, err = store.GetReportRow(ctx, id)
	if err != nil {
		t.Fatalf("GetReportRow after finish: %v", err)
	}
	if row.Generating {
		t.Error("row still generating after FinishReport")
	}
	if row.EndUTC == nil || !row.EndUTC.Equal(end) {
		t.Errorf("end = %v, want %v", row.EndUTC, end)
	}

	// With no in-flight row a new trigger is admitted.
	next := uuid.New()
	got, fresh, err = store.BeginReport(ctx, next, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("third BeginReport: %v", err)
	}
	if !fresh || got != next {
		t.Errorf("third BeginReport: got (%s, %v), want (%s, true)", got, fresh, next)
	}

	if err := store.DeleteReportRow(ctx, id); err != nil {
		t.Fatalf("DeleteReportRow: %v", err)
	}
	row, err = store.GetReportRow(ctx, id)
	if err != nil {
		t.Fatalf("GetReportRow after delete: %v", err)
	}
	if row != nil {
		t.Errorf("row = %+v, want nil after delete", row)
	}
}

func TestBeginReportConcurrentTriggers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	const triggers = 8
	type result struct {
		id    uuid.UUID
		fresh bool
		err   error
	}
	results := make(chan result, triggers)

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, fresh, err := store.BeginReport(ctx, uuid.New(), now)
			results <- result{id, fresh, err}
		}()
	}
	wg.Wait()
	close(results)

	var all []result
	for r := range results {
		if r.err != nil {
			t.Fatalf("BeginReport: %v", r.err)
		}
		all = append(all, r)
	}

	var winner uuid.UUID
	freshCount := 0
	for _, r := range all {
		if r.fresh {
			freshCount++
			winner = r.id
		}
	}
	if freshCount != 1 {
		t.Fatalf("got %d fresh admissions, want exactly 1", freshCount)
	}

	// Every loser observed the winner's id.
	for _, r := range all {
		if !r.fresh && r.id != winner {
			t.Errorf("trigger returned %s, want in-flight %s", r.id, winner)
		}
	}

	ids, err := store.StaleGeneratingReports(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("StaleGeneratingReports: %v", err)
	}
	if len(ids) != 1 || ids[0] != winner {
		t.Errorf("generating rows = %v, want exactly [%s]", ids, winner)
	}
}

func TestStaleGeneratingReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	stale := uuid.New()
	if _, _, err := store.BeginReport(ctx, stale, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("BeginReport: %v", err)
	}

	ids, err := store.StaleGeneratingReports(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StaleGeneratingReports: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale {
		t.Errorf("ids = %v, want [%s]", ids, stale)
	}

	// Finished rows are never reported stale.
	if err := store.FinishReport(ctx, stale, now); err != nil {
		t.Fatalf("FinishReport: %v", err)
	}
	ids, err = store.StaleGeneratingReports(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("StaleGeneratingReports: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetSetting(ctx, SettingCSVDataChanged)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if val != "" {
		t.Errorf("missing setting: got %q, want empty", val)
	}

	if err := store.SetSetting(ctx, SettingCSVDataChanged, "true"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	val, err = store.GetSetting(ctx, SettingCSVDataChanged)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if val != "true" {
		t.Errorf("got %q, want true", val)
	}

	if err := store.SetSetting(ctx, SettingCSVDataChanged, "false"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	val, err = store.GetSetting(ctx, SettingCSVDataChanged)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if val != "false" {
		t.Errorf("got %q, want false", val)
	}
}
