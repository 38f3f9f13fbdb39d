package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/service"
)

func setupTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	rec, err := NewRecorder(RecorderConfig{
		Path: filepath.Join(t.TempDir(), "db", "seeker.db"),
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	return rec
}

func TestNewRecorder(t *testing.T) {
	rec := setupTestRecorder(t)

	assert.Equal(t, "state", rec.Name())
	assert.NotNil(t, rec.GetDB())
	assert.NoError(t, rec.Ping(context.Background()))
	assert.Equal(t, 24*time.Hour, rec.retention)
}

func TestRecorder_SystemState(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()

	value, err := rec.GetSystemState(ctx, "viewport")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, rec.SaveSystemState(ctx, "viewport", `{"width":390}`))
	require.NoError(t, rec.SaveSystemState(ctx, "viewport", `{"width":844}`))

	value, err = rec.GetSystemState(ctx, "viewport")
	require.NoError(t, err)
	assert.Equal(t, `{"width":844}`, value)
}

func TestRecorder_RecordFrame(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.RecordFrame(ctx, pipeline.Snapshot{
		Sequence: 1, Count: 2, Primary: probe.Meters(2.5), AppliedAt: base, LatencyMs: 40,
	}))
	require.NoError(t, rec.RecordFrame(ctx, pipeline.Snapshot{
		Sequence: 2, Count: 0, AppliedAt: base.Add(time.Second), LastError: "detector down",
	}))

	frames, err := rec.RecentFrames(ctx, 10)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, uint64(2), frames[0].Sequence)
	assert.False(t, frames[0].PrimaryDistance.Valid())
	assert.Equal(t, "detector down", frames[0].Error)

	assert.Equal(t, uint64(1), frames[1].Sequence)
	assert.Equal(t, 2, frames[1].Count)
	d, ok := frames[1].PrimaryDistance.Value()
	assert.True(t, ok)
	assert.InDelta(t, 2.5, d, 1e-9)
	assert.Equal(t, int64(40), frames[1].LatencyMs)
	assert.True(t, base.Equal(frames[1].AppliedAt))

	limited, err := rec.RecentFrames(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecorder_RecordOverlayChanges(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := overlay.Overlay{ID: "a", Rect: geometry.ScreenRect{X: 1, Y: 2, Width: 3, Height: 4}, Label: "1.00 m"}
	b := overlay.Overlay{ID: "b", Rect: geometry.ScreenRect{Width: 10, Height: 10}}

	require.NoError(t, rec.RecordOverlayChanges(ctx, overlay.Changes{}, at))
	require.NoError(t, rec.RecordOverlayChanges(ctx, overlay.Changes{Added: []overlay.Overlay{a, b}}, at))
	require.NoError(t, rec.RecordOverlayChanges(ctx, overlay.Changes{
		Updated: []overlay.Overlay{a},
		Removed: []overlay.Overlay{b},
	}, at.Add(time.Second)))

	events, err := rec.OverlayEvents(ctx, at, 10)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, OverlayAdded, events[0].Kind)
	assert.Equal(t, "a", events[0].OverlayID)
	assert.Equal(t, a.Rect, events[0].Rect)
	assert.Equal(t, "1.00 m", events[0].Label)
	assert.Equal(t, OverlayUpdated, events[2].Kind)
	assert.Equal(t, OverlayRemoved, events[3].Kind)
	assert.Equal(t, "b", events[3].OverlayID)

	later, err := rec.OverlayEvents(ctx, at.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

func TestRecorder_Metrics(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.RecordMetric(ctx, "pipeline.dropped", 1, at))
	require.NoError(t, rec.RecordMetric(ctx, "pipeline.dropped", 3, at.Add(time.Minute)))
	require.NoError(t, rec.RecordMetric(ctx, "pipeline.applied", 9, at))

	samples, err := rec.Metrics(ctx, "pipeline.dropped", 10)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 3.0, samples[0].Value)
	assert.Equal(t, 1.0, samples[1].Value)
}

func TestRecorder_Prune(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(48 * time.Hour)

	require.NoError(t, rec.RecordFrame(ctx, pipeline.Snapshot{Sequence: 1, AppliedAt: old}))
	require.NoError(t, rec.RecordFrame(ctx, pipeline.Snapshot{Sequence: 2, AppliedAt: recent}))
	require.NoError(t, rec.RecordOverlayChanges(ctx, overlay.Changes{
		Added: []overlay.Overlay{{ID: "x", Rect: geometry.ScreenRect{Width: 1, Height: 1}}},
	}, old))
	require.NoError(t, rec.RecordMetric(ctx, "m", 1, old))

	n, err := rec.Prune(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	frames, err := rec.RecentFrames(ctx, 10)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(2), frames[0].Sequence)
}

func TestRecorder_FollowsEventBus(t *testing.T) {
	rec := setupTestRecorder(t)
	bus := service.NewEventBus(10)
	rec.SetEventBus(bus)

	ctx := context.Background()
	require.NoError(t, rec.Start(ctx))
	defer func() {
		rec.cancel()
		rec.wg.Wait()
	}()

	primary := overlay.Overlay{ID: "primary", Rect: geometry.ScreenRect{Width: 5, Height: 5}}
	sink := pipeline.NewEventSink(bus, "presenter")
	sink.OverlaysChanged(overlay.Changes{Added: []overlay.Overlay{primary}})
	sink.FrameApplied(pipeline.Snapshot{Sequence: 7, Count: 1, Overlays: []overlay.Overlay{primary}, AppliedAt: time.Now()})

	require.Eventually(t, func() bool {
		frames, err := rec.RecentFrames(ctx, 10)
		return err == nil && len(frames) == 1 && frames[0].Sequence == 7
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		events, err := rec.OverlayEvents(ctx, time.Time{}, 10)
		return err == nil && len(events) == 1 && events[0].OverlayID == "primary"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_SnapshotsRecoverMissedChanges(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := overlay.Overlay{ID: "a", Rect: geometry.ScreenRect{Width: 5, Height: 5}}
	b := overlay.Overlay{ID: "b", Rect: geometry.ScreenRect{X: 10, Width: 5, Height: 5}}

	require.NoError(t, rec.recordSnapshot(ctx, pipeline.Snapshot{Sequence: 1, Count: 1, Overlays: []overlay.Overlay{a}, AppliedAt: at}))
	// frames 2 and 3 never reach the recorder; frame 3 had cleared a
	require.NoError(t, rec.recordSnapshot(ctx, pipeline.Snapshot{Sequence: 4, Count: 1, Overlays: []overlay.Overlay{b}, AppliedAt: at.Add(time.Second)}))

	events, err := rec.OverlayEvents(ctx, at, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, OverlayAdded, events[0].Kind)
	assert.Equal(t, "a", events[0].OverlayID)

	later := events[1:]
	kinds := map[string]string{}
	for _, ev := range later {
		kinds[ev.OverlayID] = ev.Kind
	}
	assert.Equal(t, map[string]string{"a": OverlayRemoved, "b": OverlayAdded}, kinds)

	frames, err := rec.RecentFrames(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
}

func TestRecorder_HandleEventRejectsBadPayload(t *testing.T) {
	rec := setupTestRecorder(t)

	err := rec.handleEvent(context.Background(), service.Event{
		Type: service.EventTypeFrameApplied,
		Data: map[string]interface{}{"snapshot": "nope"},
	})
	assert.Error(t, err)
}
