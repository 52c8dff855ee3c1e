// Package ingest downloads the source CSVs on a schedule, normalizes the
// status file, and bulk-loads everything into storage.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storewatch/logger"
	"storewatch/storage"
)

// Source CSV filenames inside the data directory.
const (
	StatusFile      = "store_status.csv"
	CleanStatusFile = "store_status_clean.csv"
	MenuHoursFile   = "menu_hours.csv"
	TimezonesFile   = "timezones.csv"
)

// ErrMissingFile marks an aborted tick: a source CSV was not present after
// the download phase.
var ErrMissingFile = errors.New("source csv missing")

// Sources holds the download URLs for the three source CSVs.
type Sources struct {
	StatusURL    string
	MenuHoursURL string
	TimezonesURL string
}

// Store is the storage surface the ingest pipeline needs.
type Store interface {
	LoadStatusCSV(ctx context.Context, path string) (int, error)
	LoadTimezonesCSV(ctx context.Context, path string) (int, error)
	LoadMenuHoursCSV(ctx context.Context, path string) (int, error)
	CountObservations(ctx context.Context) (int64, error)
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error
}

// Runner drives the periodic ingest cycle.
type Runner struct {
	store   Store
	log     *logger.Logger
	client  *http.Client
	sources Sources
	dir     string
	debug   bool

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewRunner creates a Runner downloading into dir every interval. In debug
// mode existing downloads are reused and non-empty tables are not reloaded.
func NewRunner(store Store, log *logger.Logger, sources Sources, dir string, interval time.Duration, debug bool) *Runner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Runner{
		store:    store,
		log:      log,
		client:   &http.Client{Timeout: 5 * time.Minute},
		sources:  sources,
		dir:      dir,
		debug:    debug,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the ingest loop. The first cycle runs immediately.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	r.log.Info("Ingest loop started", "interval", r.interval.String(), "debug", r.debug)
}

// Stop shuts the loop down and waits for an in-flight cycle to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("Ingest loop stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runCycle()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runCycle()
		}
	}
}

func (r *Runner) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := r.RunOnce(ctx); err != nil {
		r.log.Error("Ingest cycle failed", "error", err.Error())
	}
}

// RunOnce performs a full ingest cycle: download, verify, clean, flag,
// populate.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()

	if err := r.download(ctx); err != nil {
		return err
	}

	for _, name := range []string{StatusFile, MenuHoursFile, TimezonesFile} {
		if _, err := os.Stat(filepath.Join(r.dir, name)); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingFile, name)
		}
	}

	if err := CleanStatusCSV(filepath.Join(r.dir, StatusFile), filepath.Join(r.dir, CleanStatusFile)); err != nil {
		return fmt.Errorf("cleaning status csv: %w", err)
	}

	if err := r.store.SetSetting(ctx, storage.SettingCSVDataChanged, "true"); err != nil {
		return fmt.Errorf("flagging fresh csv data: %w", err)
	}

	if err := r.Populate(ctx); err != nil {
		return err
	}

	r.log.Info("Ingest cycle finished", "elapsed", time.Since(start).String())
	return nil
}

// download fetches the three source CSVs concurrently. In debug mode a file
// already on disk is kept as-is.
func (r *Runner) download(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	targets := map[string]string{
		StatusFile:    r.sources.StatusURL,
		MenuHoursFile: r.sources.MenuHoursURL,
		TimezonesFile: r.sources.TimezonesURL,
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, url := range targets {
		if url == "" {
			continue
		}
		name, url := name, url
		g.Go(func() error {
			dest := filepath.Join(r.dir, name)
			if r.debug {
				if _, err := os.Stat(dest); err == nil {
					r.log.Debug("Keeping existing download", "file", name)
					return nil
				}
			}
			return r.fetch(ctx, url, dest)
		})
	}
	return g.Wait()
}

func (r *Runner) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}

	r.log.Debug("Downloaded source csv", "file", filepath.Base(dest))
	return nil
}

// CleanStatusCSV normalizes the raw status file line by line: "inactive"
// becomes "0" before "active" becomes "1" (the order matters since
// "inactive" contains "active"), and the " UTC" suffix is stripped from
// timestamps. The header passes through untouched by the substitutions.
func CleanStatusCSV(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		line = strings.ReplaceAll(line, "inactive", "0")
		line = strings.ReplaceAll(line, "active", "1")
		line = strings.ReplaceAll(line, " UTC", "")
		if _, err := w.WriteString(line + "\n"); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("reading %s: %w", src, err)
	}

	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Populate bulk-loads the cleaned CSVs when the csv_data_changed flag reads
// "true", then resets the flag. In debug mode an already-populated database
// is left alone.
func (r *Runner) Populate(ctx context.Context) error {
	if r.debug {
		count, err := r.store.CountObservations(ctx)
		if err != nil {
			return fmt.Errorf("checking observation count: %w", err)
		}
		if count > 0 {
			r.log.Debug("Database already populated, skipping load", "observations", count)
			return nil
		}
	}

	flag, err := r.store.GetSetting(ctx, storage.SettingCSVDataChanged)
	if err != nil {
		return fmt.Errorf("reading %s: %w", storage.SettingCSVDataChanged, err)
	}
	if flag != "true" {
		r.log.Debug("No fresh csv data, skipping load")
		return nil
	}

	if _, err := r.store.LoadStatusCSV(ctx, filepath.Join(r.dir, CleanStatusFile)); err != nil {
		return fmt.Errorf("loading status csv: %w", err)
	}
	if _, err := r.store.LoadTimezonesCSV(ctx, filepath.Join(r.dir, TimezonesFile)); err != nil {
		return fmt.Errorf("loading timezones csv: %w", err)
	}
	if _, err := r.store.LoadMenuHoursCSV(ctx, filepath.Join(r.dir, MenuHoursFile)); err != nil {
		return fmt.Errorf("loading menu hours csv: %w", err)
	}

	if err := r.store.SetSetting(ctx, storage.SettingCSVDataChanged, "false"); err != nil {
		return fmt.Errorf("resetting %s: %w", storage.SettingCSVDataChanged, err)
	}
	return nil
}
