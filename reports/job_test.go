package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"storewatch/storage"

	"github.com/google/uuid"
)

// fakeStore is an in-memory ManagerStore for exercising the generator and
// lifecycle manager without a database.
type fakeStore struct {
	mu       sync.Mutex
	stores   []int64
	logs     map[int64][]storage.Observation
	tzs      map[int64]string
	hours    map[int64]storage.HoursMap
	min, max time.Time
	rows     map[uuid.UUID]*storage.ReportCacheRow

	statusLogCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		logs:  make(map[int64][]storage.Observation),
		tzs:   make(map[int64]string),
		hours: make(map[int64]storage.HoursMap),
		rows:  make(map[uuid.UUID]*storage.ReportCacheRow),
	}
}

func (f *fakeStore) ListStores(ctx context.Context) ([]int64, error) {
	return f.stores, nil
}

func (f *fakeStore) StatusLog(ctx context.Context, storeID int64) ([]storage.Observation, error) {
	f.mu.Lock()
	f.statusLogCalls++
	f.mu.Unlock()
	return f.logs[storeID], nil
}

func (f *fakeStore) StoreTimezone(ctx context.Context, storeID int64) (string, error) {
	if tz, ok := f.tzs[storeID]; ok {
		return tz, nil
	}
	return storage.DefaultTimezone, nil
}

func (f *fakeStore) BusinessHours(ctx context.Context, storeID int64) (storage.HoursMap, error) {
	if h, ok := f.hours[storeID]; ok {
		return h, nil
	}
	return storage.HoursMap{}, nil
}

func (f *fakeStore) MaxObservationTimestamp(ctx context.Context) (time.Time, error) {
	if f.max.IsZero() {
		return time.Time{}, fmt.Errorf("no observations loaded")
	}
	return f.max, nil
}

func (f *fakeStore) MinObservationTimestamp(ctx context.Context) (time.Time, error) {
	if f.min.IsZero() {
		return time.Time{}, fmt.Errorf("no observations loaded")
	}
	return f.min, nil
}

func (f *fakeStore) FinishReport(ctx context.Context, id uuid.UUID, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Generating = false
		e := end
		row.EndUTC = &e
	}
	return nil
}

func (f *fakeStore) BeginReport(ctx context.Context, id uuid.UUID, now time.Time) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for existing, row := range f.rows {
		if row.Generating {
			return existing, false, nil
		}
	}
	f.rows[id] = &storage.ReportCacheRow{UUID: id, Generating: true, StartUTC: now}
	return id, true, nil
}

func (f *fakeStore) GetReportRow(ctx context.Context, id uuid.UUID) (*storage.ReportCacheRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (f *fakeStore) DeleteReportRow(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeStore) StaleGeneratingReports(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, row := range f.rows {
		if row.Generating && row.StartUTC.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestGenerateForAllWritesArtifact(t *testing.T) {
	anchor := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	f := newFakeStore()
	f.stores = []int64{1, 2}
	f.max = anchor
	f.logs[1] = []storage.Observation{
		{StoreID: 1, IsOpen: true, TimestampUTC: anchor.Add(-time.Hour)},
	}
	f.logs[2] = []storage.Observation{
		{StoreID: 2, IsOpen: false, TimestampUTC: anchor.Add(-30 * time.Minute)},
	}

	gen := NewGenerator(f, t.TempDir())
	id := uuid.New()
	f.rows[id] = &storage.ReportCacheRow{UUID: id, Generating: true, StartUTC: anchor}

	if err := gen.GenerateForAll(context.Background(), id); err != nil {
		t.Fatalf("GenerateForAll: %v", err)
	}

	records := readCSV(t, gen.ArtifactPath(id))
	if len(records) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(records))
	}
	for i, col := range ReportHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}
	// Store 1 was up for the whole hour.
	if records[1][0] != "1" || records[1][1] != "60" {
		t.Errorf("store 1 row = %v, want uptime_last_hour 60", records[1])
	}
	// Store 2 was down for 30 minutes.
	if records[2][0] != "2" || records[2][4] != "30" {
		t.Errorf("store 2 row = %v, want downtime_last_hour 30", records[2])
	}

	row := f.rows[id]
	if row.Generating {
		t.Error("cache row still generating after completion")
	}
	if row.EndUTC == nil {
		t.Error("cache row missing end timestamp")
	}
}

func TestGenerateForAllSkipsExistingArtifact(t *testing.T) {
	anchor := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	f := newFakeStore()
	f.stores = []int64{1}
	f.max = anchor
	f.logs[1] = []storage.Observation{
		{StoreID: 1, IsOpen: true, TimestampUTC: anchor.Add(-time.Hour)},
	}

	gen := NewGenerator(f, t.TempDir())
	id := uuid.New()
	f.rows[id] = &storage.ReportCacheRow{UUID: id, Generating: true, StartUTC: anchor}

	if err := gen.GenerateForAll(context.Background(), id); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := f.statusLogCalls

	if err := gen.GenerateForAll(context.Background(), id); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.statusLogCalls != callsAfterFirst {
		t.Errorf("second run recomputed: statusLogCalls %d -> %d", callsAfterFirst, f.statusLogCalls)
	}
	if f.rows[id].Generating {
		t.Error("cache row not finalized by second run")
	}
}

func TestTotalForStoreGatesBusinessHours(t *testing.T) {
	// 2024-01-01 is a Monday; declared hours 09:00-17:00 in the store's
	// timezone (UTC here). The 05:00->06:00 up delta lands outside hours
	// and must not count; the ungated tail attributes the rest to down.
	f := newFakeStore()
	f.stores = []int64{1}
	f.tzs[1] = "UTC"
	open, _ := storage.ParseTimeOfDay("09:00:00")
	closeT, _ := storage.ParseTimeOfDay("17:00:00")
	f.hours[1] = storage.HoursMap{0: {Open: open, Close: closeT}}

	start := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	f.logs[1] = []storage.Observation{
		{StoreID: 1, IsOpen: true, TimestampUTC: start},
		{StoreID: 1, IsOpen: false, TimestampUTC: start.Add(time.Hour)},
	}

	up, down, err := TotalForStore(context.Background(), f, 1, start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("TotalForStore: %v", err)
	}
	if up != 0 {
		t.Errorf("uptime = %v, want 0 (delta outside declared hours)", up)
	}
	if down != 3600 {
		t.Errorf("downtime = %v, want 3600", down)
	}
}

func TestGenerateTotalEmitsSeconds(t *testing.T) {
	min := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	max := min.Add(1000 * time.Second)
	f := newFakeStore()
	f.stores = []int64{7}
	f.min, f.max = min, max
	f.logs[7] = []storage.Observation{
		{StoreID: 7, IsOpen: true, TimestampUTC: min},
		{StoreID: 7, IsOpen: false, TimestampUTC: min.Add(400 * time.Second)},
	}

	gen := NewGenerator(f, t.TempDir())
	if err := gen.GenerateTotal(context.Background()); err != nil {
		t.Fatalf("GenerateTotal: %v", err)
	}

	records := readCSV(t, gen.TotalPath())
	if len(records) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(records))
	}
	want := []string{"store_id", "uptime", "downtime"}
	for i, col := range want {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}
	if records[1][0] != "7" || records[1][1] != "400" || records[1][2] != "600" {
		t.Errorf("row = %v, want [7 400 600]", records[1])
	}
}
