package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts seen in the source CSVs once the " UTC" suffix is
// stripped by cleaning.
var csvTimestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseCSVTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// openCSV opens a CSV file and returns a reader positioned after the header
// if one is present.
func openCSV(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return f, r, nil
}

func isHeaderRow(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	return err != nil
}

// LoadStatusCSV bulk-loads a cleaned store_status CSV
// (store_id,status,timestamp_utc with status already normalized to 0/1).
// Returns the number of rows read from the file; duplicates already in the
// database are silently skipped.
func (s *BaseStore) LoadStatusCSV(ctx context.Context, path string) (int, error) {
	f, r, err := openCSV(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	const batchSize = 5000
	var batch []Observation
	total := 0
	first := true

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.InsertObservations(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}
		if first {
			first = false
			if isHeaderRow(record) {
				continue
			}
		}
		if len(record) < 3 {
			return total, fmt.Errorf("%s: short row %v", path, record)
		}

		storeID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return total, fmt.Errorf("%s: bad store_id %q: %w", path, record[0], err)
		}
		status := strings.TrimSpace(record[1])
		ts, err := parseCSVTimestamp(record[2])
		if err != nil {
			return total, fmt.Errorf("%s: %w", path, err)
		}

		batch = append(batch, Observation{
			StoreID:      storeID,
			IsOpen:       status == "1",
			TimestampUTC: ts,
		})
		total++

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}

	if err := flush(); err != nil {
		return total, err
	}
	logInfo("Loaded status observations", "file", path, "rows", total)
	return total, nil
}

// LoadTimezonesCSV bulk-loads a timezone CSV (store_id,timezone_str).
func (s *BaseStore) LoadTimezonesCSV(ctx context.Context, path string) (int, error) {
	f, r, err := openCSV(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var rows []TimezoneRow
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		if first {
			first = false
			if isHeaderRow(record) {
				continue
			}
		}
		if len(record) < 2 {
			return 0, fmt.Errorf("%s: short row %v", path, record)
		}

		storeID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad store_id %q: %w", path, record[0], err)
		}
		rows = append(rows, TimezoneRow{StoreID: storeID, Timezone: strings.TrimSpace(record[1])})
	}

	if err := s.ReplaceTimezones(ctx, rows); err != nil {
		return 0, err
	}
	logInfo("Loaded store timezones", "file", path, "rows", len(rows))
	return len(rows), nil
}

// LoadMenuHoursCSV bulk-loads a business-hours CSV
// (store_id,day_of_week,start_time_local,end_time_local).
func (s *BaseStore) LoadMenuHoursCSV(ctx context.Context, path string) (int, error) {
	f, r, err := openCSV(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var rows []BusinessHoursRow
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		if first {
			first = false
			if isHeaderRow(record) {
				continue
			}
		}
		if len(record) < 4 {
			return 0, fmt.Errorf("%s: short row %v", path, record)
		}

		storeID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad store_id %q: %w", path, record[0], err)
		}
		dow, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil || dow < 0 || dow > 6 {
			return 0, fmt.Errorf("%s: bad day_of_week %q", path, record[1])
		}
		open, err := ParseTimeOfDay(strings.TrimSpace(record[2]))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		closeT, err := ParseTimeOfDay(strings.TrimSpace(record[3]))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}

		rows = append(rows, BusinessHoursRow{StoreID: storeID, DayOfWeek: dow, Open: open, Close: closeT})
	}

	if err := s.ReplaceBusinessHours(ctx, rows); err != nil {
		return 0, err
	}
	logInfo("Loaded business hours", "file", path, "rows", len(rows))
	return len(rows), nil
}
