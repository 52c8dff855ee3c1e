package reports

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"storewatch/logger"
	"storewatch/storage"

	"github.com/google/uuid"
)

// ManagerStore is the storage surface the lifecycle manager needs on top of
// the generator's.
type ManagerStore interface {
	JobStore
	BeginReport(ctx context.Context, id uuid.UUID, now time.Time) (uuid.UUID, bool, error)
	GetReportRow(ctx context.Context, id uuid.UUID) (*storage.ReportCacheRow, error)
	DeleteReportRow(ctx context.Context, id uuid.UUID) error
	StaleGeneratingReports(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// ResolveState classifies the outcome of looking up a report request.
type ResolveState int

const (
	// ResolveNotFound means the id is unknown, or its artifact has gone
	// missing and the row was discarded.
	ResolveNotFound ResolveState = iota
	// ResolveGenerating means the report is still being built.
	ResolveGenerating
	// ResolveCompleted means the artifact is ready on disk.
	ResolveCompleted
)

// Manager owns the report lifecycle: it deduplicates trigger requests,
// runs generation on a dedicated worker goroutine, reclaims abandoned
// requests, and rebuilds the total-report artifact on demand.
type Manager struct {
	store ManagerStore
	gen   *Generator
	log   *logger.Logger

	jobs    chan uuid.UUID
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalMu      sync.Mutex
	totalRunning bool

	staleTTL        time.Duration
	janitorInterval time.Duration
}

// NewManager creates a Manager. staleTTL bounds how long a request may sit
// in the generating state before the janitor reclaims it.
func NewManager(store ManagerStore, gen *Generator, log *logger.Logger, staleTTL, janitorInterval time.Duration) *Manager {
	if staleTTL <= 0 {
		staleTTL = 30 * time.Minute
	}
	if janitorInterval <= 0 {
		janitorInterval = 5 * time.Minute
	}
	return &Manager{
		store:           store,
		gen:             gen,
		log:             log,
		jobs:            make(chan uuid.UUID, 16),
		stopCh:          make(chan struct{}),
		staleTTL:        staleTTL,
		janitorInterval: janitorInterval,
	}
}

// Start launches the worker and janitor goroutines.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	m.wg.Add(2)
	go m.workerLoop()
	go m.janitorLoop()
	m.log.Info("Report manager started", "staleTTL", m.staleTTL.String(), "janitorInterval", m.janitorInterval.String())
}

// Stop shuts both goroutines down and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.log.Info("Report manager stopped")
}

// Trigger requests a fleet report. If one is already generating its id is
// returned; otherwise a fresh request is registered and queued.
func (m *Manager) Trigger(ctx context.Context) (uuid.UUID, error) {
	id, fresh, err := m.store.BeginReport(ctx, uuid.New(), time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("registering report request: %w", err)
	}
	if !fresh {
		m.log.Debug("Report already in flight, returning existing id", "report_id", id.String())
		return id, nil
	}

	select {
	case m.jobs <- id:
	case <-m.stopCh:
		// Shutting down: the row stays generating and is reclaimed by the
		// janitor (or the next process) once the TTL expires.
		m.log.Warn("Report request admitted during shutdown", "report_id", id.String())
	}
	return id, nil
}

// Resolve looks up a report request and classifies it. When the cache row
// claims completion but the artifact is gone, the row is deleted and the id
// becomes unknown.
func (m *Manager) Resolve(ctx context.Context, id uuid.UUID) (ResolveState, string, error) {
	row, err := m.store.GetReportRow(ctx, id)
	if err != nil {
		return ResolveNotFound, "", fmt.Errorf("looking up report %s: %w", id, err)
	}
	if row == nil {
		return ResolveNotFound, "", nil
	}
	if row.Generating {
		return ResolveGenerating, "", nil
	}

	path := m.gen.ArtifactPath(id)
	if _, err := os.Stat(path); err != nil {
		m.log.Warn("Report artifact missing, discarding cache row", "report_id", id.String())
		if derr := m.store.DeleteReportRow(ctx, id); derr != nil {
			return ResolveNotFound, "", fmt.Errorf("discarding report %s: %w", id, derr)
		}
		return ResolveNotFound, "", nil
	}
	return ResolveCompleted, path, nil
}

// EnsureTotal rebuilds the total-report artifact in the background when it
// is missing. At most one rebuild runs at a time.
func (m *Manager) EnsureTotal() {
	if _, err := os.Stat(m.gen.TotalPath()); err == nil {
		return
	}

	m.totalMu.Lock()
	if m.totalRunning {
		m.totalMu.Unlock()
		return
	}
	m.totalRunning = true
	m.totalMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.totalMu.Lock()
			m.totalRunning = false
			m.totalMu.Unlock()
		}()

		m.log.Info("Building total report")
		if err := m.gen.GenerateTotal(context.Background()); err != nil {
			m.log.Error("Total report generation failed", "error", err.Error())
			return
		}
		m.log.Info("Total report written", "path", m.gen.TotalPath())
	}()
}

// TotalPath exposes the total-report artifact location for the dashboard.
func (m *Manager) TotalPath() string {
	return m.gen.TotalPath()
}

func (m *Manager) workerLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case id := <-m.jobs:
			m.runJob(id)
		}
	}
}

// runJob generates one fleet report. On failure the cache row stays in the
// generating state and the janitor reclaims it after the TTL.
func (m *Manager) runJob(id uuid.UUID) {
	m.log.Info("Generating report", "report_id", id.String())
	start := time.Now()
	if err := m.gen.GenerateForAll(context.Background(), id); err != nil {
		m.log.Error("Report generation failed", "report_id", id.String(), "error", err.Error())
		return
	}
	m.log.Info("Report completed", "report_id", id.String(), "elapsed", time.Since(start).String())
}

func (m *Manager) janitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepStale()
		}
	}
}

// sweepStale discards requests stuck in the generating state past the TTL,
// along with any partial temp files they left behind.
func (m *Manager) sweepStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-m.staleTTL)
	ids, err := m.store.StaleGeneratingReports(ctx, cutoff)
	if err != nil {
		m.log.Warn("Janitor sweep failed", "error", err.Error())
		return
	}

	for _, id := range ids {
		os.Remove(m.gen.ArtifactPath(id) + ".tmp")
		if err := m.store.DeleteReportRow(ctx, id); err != nil {
			m.log.Warn("Could not discard stale report row", "report_id", id.String(), "error", err.Error())
			continue
		}
		m.log.Info("Discarded stale report request", "report_id", id.String())
	}
}
