package probe

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/video"
)

type recordingTester struct {
	dist     float64
	hit      bool
	calls    int
	observed int
}

func (r *recordingTester) HitTest(p geometry.Point) (float64, bool) {
	r.calls++
	return r.dist, r.hit
}

func (r *recordingTester) ObserveFrame(frame video.Frame) { r.observed++ }

func TestEstimate(t *testing.T) {
	v, ok := Meters(2.5).Value()
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	assert.False(t, None().Valid())
	assert.False(t, Meters(-1).Valid())
	assert.False(t, Meters(math.NaN()).Valid())
	assert.False(t, Meters(math.Inf(1)).Valid())
	assert.True(t, Meters(0).Valid())
}

func TestEstimate_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Estimate `json:"a"`
		B Estimate `json:"b"`
	}{Meters(1.25), None()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.25,"b":null}`, string(b))

	var e Estimate
	require.NoError(t, json.Unmarshal([]byte("3"), &e))
	assert.Equal(t, Meters(3), e)
	require.NoError(t, json.Unmarshal([]byte("null"), &e))
	assert.False(t, e.Valid())
}

func TestAdapter_NoOpBeforeFirstFrame(t *testing.T) {
	tester := &recordingTester{dist: 1.5, hit: true}
	vp := geometry.NewViewport(geometry.Size{})
	a := NewAdapter(tester, vp)

	assert.False(t, a.Probe(geometry.Point{X: 10, Y: 10}).Valid())
	assert.Zero(t, tester.calls)

	// a frame with no viewport yet does not establish geometry
	a.ObserveFrame(video.Frame{})
	assert.False(t, a.Ready())
	assert.Equal(t, 1, tester.observed)

	vp.Set(geometry.Size{Width: 100, Height: 100})
	a.ObserveFrame(video.Frame{})
	assert.True(t, a.Ready())

	d, ok := a.Probe(geometry.Point{X: 10, Y: 10}).Value()
	assert.True(t, ok)
	assert.Equal(t, 1.5, d)
	assert.Equal(t, 1, tester.calls)

	a.Reset()
	assert.False(t, a.Probe(geometry.Point{X: 10, Y: 10}).Valid())
}

func TestAdapter_MissAndInvalidDistances(t *testing.T) {
	tester := &recordingTester{hit: false}
	a := NewAdapter(tester, nil)
	a.Establish()

	assert.False(t, a.Probe(geometry.Point{X: 1, Y: 1}).Valid())

	tester.hit, tester.dist = true, -3
	assert.False(t, a.Probe(geometry.Point{X: 1, Y: 1}).Valid())

	tester.dist = math.NaN()
	assert.False(t, a.Probe(geometry.Point{X: 1, Y: 1}).Valid())

	calls := tester.calls
	assert.False(t, a.Probe(geometry.Point{X: math.NaN(), Y: 1}).Valid())
	assert.Equal(t, calls, tester.calls)
}

func TestAdapter_NilTester(t *testing.T) {
	a := NewAdapter(nil, nil)
	a.Establish()
	assert.False(t, a.Probe(geometry.Point{}).Valid())
}

func TestHitTestFunc(t *testing.T) {
	a := NewAdapter(HitTestFunc(func(p geometry.Point) (float64, bool) {
		return p.X / 100, true
	}), nil)
	a.Establish()

	d, ok := a.Probe(geometry.Point{X: 250}).Value()
	assert.True(t, ok)
	assert.Equal(t, 2.5, d)
}

func TestDepthMapProbe(t *testing.T) {
	vp := geometry.NewViewport(geometry.Size{Width: 400, Height: 400})
	dp := NewDepthMapProbe(vp, 1)

	_, ok := dp.HitTest(geometry.Point{X: 200, Y: 200})
	assert.False(t, ok, "no depth map observed yet")

	// 4x4 grid, every cell 2m except one noisy cell and one hole
	values := make([]float32, 16)
	for i := range values {
		values[i] = 2
	}
	values[2*4+2] = 40
	values[1*4+1] = 0
	dp.ObserveFrame(video.Frame{Depth: &video.DepthMap{Width: 4, Height: 4, Values: values}})

	d, ok := dp.HitTest(geometry.Point{X: 200, Y: 200})
	require.True(t, ok)
	assert.Equal(t, 2.0, d)

	// bottom-right corner maps onto the last cell
	d, ok = dp.HitTest(geometry.Point{X: 400, Y: 400})
	require.True(t, ok)
	assert.Equal(t, 2.0, d)

	_, ok = dp.HitTest(geometry.Point{X: -1, Y: 10})
	assert.False(t, ok)

	dp.ObserveFrame(video.Frame{})
	_, ok = dp.HitTest(geometry.Point{X: 200, Y: 200})
	assert.False(t, ok, "frame without depth clears the map")
}

func TestDepthMapProbe_InvalidMapIgnored(t *testing.T) {
	dp := NewDepthMapProbe(geometry.NewViewport(geometry.Size{Width: 10, Height: 10}), 0)
	dp.ObserveFrame(video.Frame{Depth: &video.DepthMap{Width: 2, Height: 2, Values: []float32{1}}})

	_, ok := dp.HitTest(geometry.Point{X: 5, Y: 5})
	assert.False(t, ok)
}

func TestDepthMapProbe_ThroughAdapter(t *testing.T) {
	vp := geometry.NewViewport(geometry.Size{Width: 100, Height: 100})
	dp := NewDepthMapProbe(vp, 0)
	a := NewAdapter(dp, vp)

	a.ObserveFrame(video.Frame{Depth: &video.DepthMap{Width: 1, Height: 1, Values: []float32{3.5}}})

	d, ok := a.Probe(geometry.Point{X: 50, Y: 50}).Value()
	assert.True(t, ok)
	assert.Equal(t, 3.5, d)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}
