package probe

import (
	"sort"
	"sync/atomic"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/video"
)

// DepthMapProbe answers hit tests from the depth map attached to the most
// recently observed frame. The map covers the same field of view as the
// viewport, so screen points are scaled onto the grid.
type DepthMapProbe struct {
	viewport *geometry.Viewport
	radius   int
	latest   atomic.Pointer[video.DepthMap]
}

// NewDepthMapProbe creates a probe sampling a (2*radius+1)^2 window.
func NewDepthMapProbe(viewport *geometry.Viewport, radius int) *DepthMapProbe {
	if radius < 0 {
		radius = 0
	}
	return &DepthMapProbe{viewport: viewport, radius: radius}
}

// ObserveFrame records the frame depth map; frames without one clear it.
func (d *DepthMapProbe) ObserveFrame(frame video.Frame) {
	if frame.Depth != nil && frame.Depth.Validate() != nil {
		d.latest.Store(nil)
		return
	}
	d.latest.Store(frame.Depth)
}

// HitTest returns the median of the valid samples around p.
func (d *DepthMapProbe) HitTest(p geometry.Point) (float64, bool) {
	dm := d.latest.Load()
	if dm == nil {
		return 0, false
	}
	vp := d.viewport.Load()
	if vp.Empty() || p.X < 0 || p.Y < 0 || p.X > vp.Width || p.Y > vp.Height {
		return 0, false
	}

	gx := int(p.X / vp.Width * float64(dm.Width))
	gy := int(p.Y / vp.Height * float64(dm.Height))
	if gx >= dm.Width {
		gx = dm.Width - 1
	}
	if gy >= dm.Height {
		gy = dm.Height - 1
	}

	samples := make([]float64, 0, (2*d.radius+1)*(2*d.radius+1))
	for y := gy - d.radius; y <= gy+d.radius; y++ {
		for x := gx - d.radius; x <= gx+d.radius; x++ {
			if v, ok := dm.At(x, y); ok {
				samples = append(samples, v)
			}
		}
	}
	if len(samples) == 0 {
		return 0, false
	}
	return median(samples), true
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
