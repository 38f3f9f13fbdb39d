package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonstocut/personseeker/internal/detector"
	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/probe"
)

type countingProbe struct {
	calls  int
	points []geometry.Point
}

func (c *countingProbe) Probe(p geometry.Point) probe.Estimate {
	c.calls++
	c.points = append(c.points, p)
	return probe.Meters(float64(c.calls))
}

func TestBuildFrameSet_Multi(t *testing.T) {
	prb := &countingProbe{}
	dets := []detector.Detection{
		{ID: "a", Box: box(0.25, 0.25, 0.5, 0.5)},
		{ID: "b", Box: box(0.5, 0.5, 0, 0.2)},
		{ID: "c", Box: box(math.NaN(), 0, 0.5, 0.5)},
		{ID: "d", Box: box(0, 0, 0.1, 0.1)},
	}

	set := buildFrameSet(dets, StrategyMulti, geometry.Size{Width: 1000, Height: 1000}, prb, overlay.DefaultLabelFormatter())

	// b is zero-width; c is clamped to x=0 and stays valid
	require.Len(t, set.overlays, 3)
	assert.Equal(t, []string{"a", "c", "d"}, overlayIDs(set.overlays))
	assert.Equal(t, 3, set.count)
	assert.Equal(t, geometry.Point{X: 500, Y: 500}, prb.points[0])
	assert.Equal(t, "1.00 m", set.overlays[0].Label)
	assert.Equal(t, probe.Meters(1), set.primary)
}

func TestBuildFrameSet_MultiRepeatedIDCountsOnce(t *testing.T) {
	prb := &countingProbe{}
	dets := []detector.Detection{
		{ID: "a", Box: box(0.1, 0.1, 0.2, 0.2)},
		{ID: "a", Box: box(0.5, 0.5, 0.2, 0.2)},
		{ID: "b", Box: box(0.3, 0.3, 0.2, 0.2)},
	}

	set := buildFrameSet(dets, StrategyMulti, geometry.Size{Width: 100, Height: 100}, prb, overlay.DefaultLabelFormatter())

	assert.Equal(t, []string{"a", "b"}, overlayIDs(set.overlays))
	assert.Equal(t, 2, set.count)
	assert.InDelta(t, 10, set.overlays[0].Rect.X, 1e-9)
	assert.Equal(t, 2, prb.calls)

	r := overlay.NewReconciler()
	r.Reconcile(set.overlays)
	assert.Equal(t, set.count, r.Len())
}

func TestBuildFrameSet_SingleProbesOnlyKept(t *testing.T) {
	prb := &countingProbe{}
	dets := []detector.Detection{
		{ID: "a", Box: box(0, 0, 0, 0)},
		{ID: "b", Box: box(0.1, 0.1, 0.2, 0.2)},
		{ID: "c", Box: box(0.5, 0.5, 0.2, 0.2)},
	}

	set := buildFrameSet(dets, StrategySingle, geometry.Size{Width: 100, Height: 100}, prb, overlay.DefaultLabelFormatter())

	require.Len(t, set.overlays, 1)
	assert.Equal(t, PrimaryID, set.overlays[0].ID)
	assert.InDelta(t, 10, set.overlays[0].Rect.X, 1e-9)
	assert.Equal(t, 2, set.count)
	assert.Equal(t, 1, prb.calls)
}

func TestBuildFrameSet_EmptyViewport(t *testing.T) {
	set := buildFrameSet([]detector.Detection{{ID: "a", Box: box(0, 0, 1, 1)}}, StrategyMulti, geometry.Size{}, nil, overlay.DefaultLabelFormatter())

	assert.Empty(t, set.overlays)
	assert.Zero(t, set.count)
	assert.False(t, set.primary.Valid())
}

func TestBuildFrameSet_NoProbe(t *testing.T) {
	set := buildFrameSet([]detector.Detection{{ID: "a", Box: box(0, 0, 1, 1)}}, StrategyMulti, geometry.Size{Width: 10, Height: 10}, nil, overlay.DefaultLabelFormatter())

	require.Len(t, set.overlays, 1)
	assert.Empty(t, set.overlays[0].Label)
	assert.Equal(t, geometry.ScreenRect{X: 0, Y: 0, Width: 10, Height: 10}, set.overlays[0].Rect)
}
