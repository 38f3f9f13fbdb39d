// Package probe answers "how far away is the surface under this screen point"
// against whatever spatial tracking state the capture session provides.
package probe

import (
	"encoding/json"
	"math"
	"sync/atomic"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/video"
)

// Estimate is an optional distance in meters. The zero value means no surface.
type Estimate struct {
	meters float64
	ok     bool
}

// None is the absent estimate.
func None() Estimate { return Estimate{} }

// Meters returns a present estimate; negative or non-finite input yields None.
func Meters(d float64) Estimate {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return None()
	}
	return Estimate{meters: d, ok: true}
}

// Value returns the distance and whether one is present.
func (e Estimate) Value() (float64, bool) { return e.meters, e.ok }

// Valid reports whether a distance is present.
func (e Estimate) Valid() bool { return e.ok }

// MarshalJSON encodes None as null.
func (e Estimate) MarshalJSON() ([]byte, error) {
	if !e.ok {
		return []byte("null"), nil
	}
	return json.Marshal(e.meters)
}

// UnmarshalJSON accepts a number or null.
func (e *Estimate) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*e = None()
		return nil
	}
	*e = Meters(*v)
	return nil
}

// Probe queries a distance at a screen point.
type Probe interface {
	Probe(p geometry.Point) Estimate
}

// HitTester is the spatial tracking collaborator. It returns false when no
// surface intersects the ray through p.
type HitTester interface {
	HitTest(p geometry.Point) (float64, bool)
}

// HitTestFunc adapts a function to HitTester.
type HitTestFunc func(p geometry.Point) (float64, bool)

// HitTest calls f(p).
func (f HitTestFunc) HitTest(p geometry.Point) (float64, bool) { return f(p) }

// FrameObserver is implemented by hit testers whose tracking state is fed from
// delivered frames.
type FrameObserver interface {
	ObserveFrame(frame video.Frame)
}

// Adapter gates a HitTester behind frame geometry being established: until
// the first frame arrives with a non-empty viewport every probe returns None.
type Adapter struct {
	tester   HitTester
	viewport *geometry.Viewport
	ready    atomic.Bool
}

// NewAdapter wraps tester. A nil tester always yields None.
func NewAdapter(tester HitTester, viewport *geometry.Viewport) *Adapter {
	return &Adapter{tester: tester, viewport: viewport}
}

// ObserveFrame forwards the frame to the tester and establishes geometry once
// the viewport has a size.
func (a *Adapter) ObserveFrame(frame video.Frame) {
	if obs, ok := a.tester.(FrameObserver); ok {
		obs.ObserveFrame(frame)
	}
	if !a.ready.Load() && a.viewport != nil && !a.viewport.Load().Empty() {
		a.Establish()
	}
}

// Establish marks frame geometry as known.
func (a *Adapter) Establish() { a.ready.Store(true) }

// Reset returns the adapter to its pre-first-frame state.
func (a *Adapter) Reset() { a.ready.Store(false) }

// Ready reports whether probes are forwarded to the tester.
func (a *Adapter) Ready() bool { return a.ready.Load() }

// Probe implements Probe.
func (a *Adapter) Probe(p geometry.Point) Estimate {
	if a.tester == nil || !a.ready.Load() {
		return None()
	}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return None()
	}
	d, ok := a.tester.HitTest(p)
	if !ok {
		return None()
	}
	return Meters(d)
}
