package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// JobStore extends StoreReader with the operations the report jobs need to
// finalize their cache rows and bound the total-report window.
type JobStore interface {
	StoreReader
	MinObservationTimestamp(ctx context.Context) (time.Time, error)
	FinishReport(ctx context.Context, id uuid.UUID, end time.Time) error
}

// ReportHeader is the column header of the fleet report CSV.
var ReportHeader = []string{
	"store_id",
	"uptime_last_hour", "uptime_last_day", "uptime_last_week",
	"downtime_last_hour", "downtime_last_day", "downtime_last_week",
}

// TotalReportFile is the filename of the all-time summary artifact.
const TotalReportFile = "total_report.csv"

// Generator produces report artifacts in a single output directory.
type Generator struct {
	store JobStore
	dir   string
}

// NewGenerator returns a Generator writing artifacts under dir.
func NewGenerator(store JobStore, dir string) *Generator {
	return &Generator{store: store, dir: dir}
}

// ArtifactPath returns the on-disk path of a fleet report artifact.
func (g *Generator) ArtifactPath(id uuid.UUID) string {
	return filepath.Join(g.dir, id.String()+".csv")
}

// TotalPath returns the on-disk path of the total-report artifact.
func (g *Generator) TotalPath() string {
	return filepath.Join(g.dir, TotalReportFile)
}

// writeAtomic writes rows as CSV to path via a temp file and rename, so a
// concurrent reader never sees a truncated artifact.
func writeAtomic(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// GenerateForAll builds the fleet report for one request: one row per store,
// anchored at the newest observation in the database. If the artifact
// already exists the computation is skipped and only the cache row is
// finalized.
func (g *Generator) GenerateForAll(ctx context.Context, id uuid.UUID) error {
	path := g.ArtifactPath(id)

	if _, err := os.Stat(path); err == nil {
		return g.store.FinishReport(ctx, id, time.Now().UTC())
	}

	anchor, err := g.store.MaxObservationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("resolving report anchor: %w", err)
	}

	stores, err := g.store.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}

	rows := make([][]string, 0, len(stores))
	for _, storeID := range stores {
		if err := ctx.Err(); err != nil {
			return err
		}
		wc, err := ReportForStore(ctx, g.store, storeID, anchor)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			strconv.FormatInt(storeID, 10),
			strconv.FormatInt(wc.UptimeLastHourMinutes, 10),
			strconv.FormatInt(wc.UptimeLastDayHours, 10),
			strconv.FormatInt(wc.UptimeLastWeekHours, 10),
			strconv.FormatInt(wc.DowntimeLastHourMinutes, 10),
			strconv.FormatInt(wc.DowntimeLastDayHours, 10),
			strconv.FormatInt(wc.DowntimeLastWeekHours, 10),
		})
	}

	if err := writeAtomic(path, ReportHeader, rows); err != nil {
		return err
	}

	return g.store.FinishReport(ctx, id, time.Now().UTC())
}

// GenerateTotal builds the all-time summary artifact: per-store uptime and
// downtime in seconds over the full observation span, gated on business
// hours like the windowed report.
func (g *Generator) GenerateTotal(ctx context.Context) error {
	start, err := g.store.MinObservationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("resolving total-report start: %w", err)
	}
	anchor, err := g.store.MaxObservationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("resolving total-report anchor: %w", err)
	}

	stores, err := g.store.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}

	rows := make([][]string, 0, len(stores))
	for _, storeID := range stores {
		if err := ctx.Err(); err != nil {
			return err
		}
		up, down, err := TotalForStore(ctx, g.store, storeID, start, anchor)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			strconv.FormatInt(storeID, 10),
			strconv.FormatFloat(up, 'f', -1, 64),
			strconv.FormatFloat(down, 'f', -1, 64),
		})
	}

	return writeAtomic(g.TotalPath(), []string{"store_id", "uptime", "downtime"}, rows)
}
