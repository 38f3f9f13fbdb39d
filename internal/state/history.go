package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/probe"
)

// Overlay event kinds
const (
	OverlayAdded   = "added"
	OverlayUpdated = "updated"
	OverlayRemoved = "removed"
)

// FrameRecord is one applied frame
type FrameRecord struct {
	Sequence        uint64         `json:"sequence"`
	AppliedAt       time.Time      `json:"applied_at"`
	Count           int            `json:"count"`
	PrimaryDistance probe.Estimate `json:"primary_distance"`
	LatencyMs       int64          `json:"latency_ms"`
	Error           string         `json:"error,omitempty"`
}

// OverlayEvent is one overlay lifecycle change
type OverlayEvent struct {
	OverlayID string              `json:"overlay_id"`
	Kind      string              `json:"kind"`
	Rect      geometry.ScreenRect `json:"rect"`
	Label     string              `json:"label,omitempty"`
	At        time.Time           `json:"at"`
}

// MetricSample is a stored telemetry value
type MetricSample struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordFrame stores an applied snapshot
func (r *Recorder) RecordFrame(ctx context.Context, snap pipeline.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var distance sql.NullFloat64
	if d, ok := snap.Primary.Value(); ok {
		distance = sql.NullFloat64{Float64: d, Valid: true}
	}
	var errText sql.NullString
	if snap.LastError != "" {
		errText = sql.NullString{String: snap.LastError, Valid: true}
	}
	appliedAt := snap.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = r.now()
	}

	query := `
		INSERT INTO frames (sequence, applied_at, count, primary_distance, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.GetDB().ExecContext(ctx, query,
		int64(snap.Sequence), appliedAt.UTC(), snap.Count, distance, snap.LatencyMs, errText)
	if err != nil {
		return fmt.Errorf("failed to record frame: %w", err)
	}
	return nil
}

// RecordOverlayChanges stores one row per added, updated and removed overlay
func (r *Recorder) RecordOverlayChanges(ctx context.Context, changes overlay.Changes, at time.Time) error {
	if changes.Empty() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO overlay_events (overlay_id, kind, x, y, width, height, label, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	groups := []struct {
		kind     string
		overlays []overlay.Overlay
	}{
		{OverlayAdded, changes.Added},
		{OverlayUpdated, changes.Updated},
		{OverlayRemoved, changes.Removed},
	}
	for _, g := range groups {
		for _, o := range g.overlays {
			if _, err := stmt.ExecContext(ctx, o.ID, g.kind,
				o.Rect.X, o.Rect.Y, o.Rect.Width, o.Rect.Height, o.Label, at.UTC()); err != nil {
				return fmt.Errorf("failed to record overlay event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit overlay events: %w", err)
	}
	return nil
}

// RecordMetric stores a telemetry sample
func (r *Recorder) RecordMetric(ctx context.Context, name string, value float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.GetDB().ExecContext(ctx,
		`INSERT INTO telemetry (metric_name, metric_value, timestamp) VALUES (?, ?, ?)`,
		name, value, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecentFrames returns up to limit frames, newest first
func (r *Recorder) RecentFrames(ctx context.Context, limit int) ([]FrameRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.GetDB().QueryContext(ctx, `
		SELECT sequence, applied_at, count, primary_distance, latency_ms, error
		FROM frames
		ORDER BY applied_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	records := make([]FrameRecord, 0)
	for rows.Next() {
		var (
			rec      FrameRecord
			seq      int64
			distance sql.NullFloat64
			errText  sql.NullString
		)
		if err := rows.Scan(&seq, &rec.AppliedAt, &rec.Count, &distance, &rec.LatencyMs, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		rec.Sequence = uint64(seq)
		if distance.Valid {
			rec.PrimaryDistance = probe.Meters(distance.Float64)
		}
		rec.Error = errText.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// OverlayEvents returns overlay events at or after since, oldest first
func (r *Recorder) OverlayEvents(ctx context.Context, since time.Time, limit int) ([]OverlayEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.GetDB().QueryContext(ctx, `
		SELECT overlay_id, kind, x, y, width, height, label, at
		FROM overlay_events
		WHERE at >= ?
		ORDER BY at ASC, id ASC
		LIMIT ?
	`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlay events: %w", err)
	}
	defer rows.Close()

	events := make([]OverlayEvent, 0)
	for rows.Next() {
		var (
			ev    OverlayEvent
			label sql.NullString
		)
		if err := rows.Scan(&ev.OverlayID, &ev.Kind, &ev.Rect.X, &ev.Rect.Y,
			&ev.Rect.Width, &ev.Rect.Height, &label, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan overlay event: %w", err)
		}
		ev.Label = label.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Metrics returns up to limit samples of one metric, newest first
func (r *Recorder) Metrics(ctx context.Context, name string, limit int) ([]MetricSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.GetDB().QueryContext(ctx, `
		SELECT metric_name, metric_value, timestamp
		FROM telemetry
		WHERE metric_name = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	samples := make([]MetricSample, 0)
	for rows.Next() {
		var s MetricSample
		if err := rows.Scan(&s.Name, &s.Value, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Prune deletes history recorded before cutoff and returns the number of rows removed
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, q := range []string{
		`DELETE FROM frames WHERE applied_at < ?`,
		`DELETE FROM overlay_events WHERE at < ?`,
		`DELETE FROM telemetry WHERE timestamp < ?`,
	} {
		res, err := r.db.GetDB().ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
