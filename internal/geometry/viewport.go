package geometry

import (
	"math"
	"sync/atomic"
)

// Viewport holds the last known rendering surface size. The layout side
// writes it, frame workers read it; each Load observes one complete Size.
type Viewport struct {
	size atomic.Pointer[Size]
}

// NewViewport returns a viewport initialized to size.
func NewViewport(size Size) *Viewport {
	v := &Viewport{}
	v.Set(size)
	return v
}

// Set records a new size. Negative or non-finite dimensions become zero.
func (v *Viewport) Set(size Size) {
	s := Size{Width: sanitize(size.Width), Height: sanitize(size.Height)}
	v.size.Store(&s)
}

// Load returns the current size; the zero Size before the first Set.
func (v *Viewport) Load() Size {
	if v == nil {
		return Size{}
	}
	if s := v.size.Load(); s != nil {
		return *s
	}
	return Size{}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
