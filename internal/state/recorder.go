// Package state persists session history to SQLite.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/service"
)

// RecorderConfig contains recorder configuration
type RecorderConfig struct {
	Path          string
	Retention     time.Duration
	PruneInterval time.Duration
}

// Recorder stores applied frames, overlay changes and telemetry samples.
// As a service it follows frame-applied events on the event bus and derives
// overlay history by reconciling each snapshot against the last one, so a
// dropped event is corrected by the next snapshot.
type Recorder struct {
	*service.ServiceBase

	db            *Database
	retention     time.Duration
	pruneInterval time.Duration
	now           func() time.Time
	mu            sync.RWMutex

	// mirror is only touched by the event handler goroutine
	mirror *overlay.Reconciler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder opens the database at config.Path
func NewRecorder(config RecorderConfig, log *logger.Logger) (*Recorder, error) {
	if config.Retention == 0 {
		config.Retention = 24 * time.Hour
	}
	if config.PruneInterval == 0 {
		config.PruneInterval = 10 * time.Minute
	}

	db, err := NewDatabase(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Recorder{
		ServiceBase:   service.NewServiceBase("state", log),
		db:            db,
		retention:     config.Retention,
		pruneInterval: config.PruneInterval,
		now:           time.Now,
		mirror:        overlay.NewReconciler(),
	}, nil
}

// Start subscribes to frame-applied events and starts the prune loop
func (r *Recorder) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	if bus := r.GetEventBus(); bus != nil {
		bus.SubscribeWithHandler(runCtx, r.handleEvent, func(ev service.Event, err error) {
			r.LogError("Failed to record event", err, "type", ev.Type)
		}, service.EventTypeFrameApplied)
	}

	r.wg.Add(1)
	go r.pruneLoop(runCtx)

	r.LogInfo("State recorder started", "path", r.db.Path(), "retention", r.retention)
	return nil
}

// Stop stops background work and closes the database
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}
	r.GetStatus().SetStatus(service.StatusStopped)
	return r.Close()
}

// Close closes the database
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

// Ping checks the database connection
func (r *Recorder) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// GetDB returns the database connection
func (r *Recorder) GetDB() *sql.DB {
	return r.db.GetDB()
}

func (r *Recorder) handleEvent(ctx context.Context, ev service.Event) error {
	switch ev.Type {
	case service.EventTypeFrameApplied:
		snap, ok := ev.Data["snapshot"].(pipeline.Snapshot)
		if !ok {
			return fmt.Errorf("unexpected snapshot payload %T", ev.Data["snapshot"])
		}
		return r.recordSnapshot(ctx, snap)
	}
	return nil
}

// recordSnapshot stores the frame row and the overlay changes since the
// previous snapshot.
func (r *Recorder) recordSnapshot(ctx context.Context, snap pipeline.Snapshot) error {
	if err := r.RecordFrame(ctx, snap); err != nil {
		return err
	}
	at := snap.AppliedAt
	if at.IsZero() {
		at = r.now()
	}
	return r.RecordOverlayChanges(ctx, r.mirror.Reconcile(snap.Overlays), at)
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Prune(ctx, r.now().Add(-r.retention))
			if err != nil {
				r.LogError("History prune failed", err)
				continue
			}
			if n > 0 {
				r.LogDebug("Pruned history", "rows", n)
			}
		}
	}
}

// SaveSystemState saves a system state value
func (r *Recorder) SaveSystemState(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.GetDB().ExecContext(ctx, query, key, value, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}
	return nil
}

// GetSystemState retrieves a system state value; missing keys return ""
func (r *Recorder) GetSystemState(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var value string
	err := r.db.GetDB().QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}
	return value, nil
}
