// Package maintenance implements the periodic eviction loop: four ordered
// policies that mark caches for deletion, atomically applied across the
// metadata DB and the blob store.
//
// The injectable-clock + Start/Stop/RunOnce shape is grounded on
// expiry/expiry.go; the ticker-driven run loop and phase-sequencing style
// is grounded on store/gc/manager.go and store/gc/phases.go, generalized
// from those files' TTL+LRU pair into the spec's four named policies.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vcachehq/server/internal/blobstore"
	"github.com/vcachehq/server/internal/metadb"
	"github.com/vcachehq/server/internal/telemetry"
)

// Config holds the four eviction ceilings plus scheduling knobs.
type Config struct {
	// MaxAge, if non-zero, evicts caches older than this since creation.
	MaxAge time.Duration
	// MaxUnused, if non-zero, evicts caches unused for this long.
	MaxUnused time.Duration
	// MaxPackageSize, if non-zero, caps total bytes per package.
	MaxPackageSize int64
	// MaxTotalSize, if non-zero, caps total bytes across all packages.
	MaxTotalSize int64
	// DryRun, if true, computes and rolls back without unlinking.
	DryRun bool
	// Interval between passes. Defaults to one hour.
	Interval time.Duration

	Logger *slog.Logger
}

// errDryRun forces metadb.DB.Transaction to roll back a dry run without
// treating it as a real failure.
var errDryRun = errors.New("maintenance: dry run")

// Result summarizes one pass.
type Result struct {
	StartedAt time.Time
	Duration  time.Duration
	Deleted   []string
	DryRun    bool
}

// Manager runs the maintenance loop on a background goroutine.
type Manager struct {
	cfg  Config
	db   *metadb.DB
	bs   *blobstore.Store
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastMu sync.Mutex
	last   *Result
}

// New creates a Manager. db and bs must already be open.
func New(db *metadb.DB, bs *blobstore.Store, cfg Config) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg: cfg,
		db:  db,
		bs:  bs,
		log: cfg.Logger,
		now: time.Now,
	}
}

// Start begins the background ticker loop. It is a no-op if already
// running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop cancels the background loop and waits for it to exit. It waits
// with a cancellable timer rather than relying on a plain sleep, so
// shutdown is prompt.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunOnce()
		}
	}
}

// RunOnce executes a single maintenance pass and returns its result.
// A failing iteration is logged and does not panic; the next tick retries.
func (m *Manager) RunOnce() *Result {
	start := m.now()
	res := &Result{StartedAt: start, DryRun: m.cfg.DryRun}

	var toDelete []string

	err := m.db.Transaction(func(tx *metadb.DB) error {
		now := m.now()

		shas, err := m.policyMaxAge(tx, now)
		if err != nil {
			return err
		}
		toDelete = append(toDelete, shas...)

		shas, err = m.policyMaxUnused(tx, now)
		if err != nil {
			return err
		}
		toDelete = append(toDelete, shas...)

		shas, err = m.policyMaxPackageSize(tx)
		if err != nil {
			return err
		}
		toDelete = append(toDelete, shas...)

		shas, err = m.policyMaxTotalSize(tx)
		if err != nil {
			return err
		}
		toDelete = append(toDelete, shas...)

		if m.cfg.DryRun {
			return errDryRun
		}
		return nil
	})

	if err != nil && !errors.Is(err, errDryRun) {
		m.log.Error("maintenance: pass failed", "error", err)
		res.Duration = m.now().Sub(start)
		telemetry.RecordMaintenance(context.Background(), 0, res.Duration)
		m.setLast(res)
		return res
	}

	if !m.cfg.DryRun {
		for _, sha := range toDelete {
			m.bs.Remove(sha)
		}
	}

	res.Deleted = toDelete
	res.Duration = m.now().Sub(start)
	telemetry.RecordMaintenance(context.Background(), len(toDelete), res.Duration)

	if len(toDelete) > 0 {
		m.log.Info("maintenance: pass complete", "deleted", len(toDelete), "dry_run", m.cfg.DryRun, "duration", res.Duration)
	} else {
		m.log.Debug("maintenance: pass complete, nothing to evict")
	}

	m.setLast(res)
	return res
}

func (m *Manager) setLast(r *Result) {
	m.lastMu.Lock()
	m.last = r
	m.lastMu.Unlock()
}

// Status returns the result of the most recently completed pass, or nil
// if none has run yet.
func (m *Manager) Status() *Result {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	return m.last
}
