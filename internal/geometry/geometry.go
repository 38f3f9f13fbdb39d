// Package geometry maps detector-space boxes onto the rendering surface.
//
// Detector boxes are normalized to [0,1] with the origin at the bottom-left
// corner. Screen rectangles are in pixels with the origin at the top-left.
package geometry

import "math"

// Point is a screen-space position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the pixel size of the rendering surface.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether either dimension is zero or negative.
func (s Size) Empty() bool {
	return !(s.Width > 0) || !(s.Height > 0)
}

// NormalizedBox is an axis-aligned box in unit space, origin bottom-left.
type NormalizedBox struct {
	MinX   float64 `json:"x"`
	MinY   float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MaxX returns the right edge.
func (b NormalizedBox) MaxX() float64 { return b.MinX + b.Width }

// MaxY returns the top edge.
func (b NormalizedBox) MaxY() float64 { return b.MinY + b.Height }

// Clamp intersects the box with the unit square. Non-finite components are
// treated as zero, so a garbage box degrades to a zero-area box.
func (b NormalizedBox) Clamp() NormalizedBox {
	minX, minY := unit(finite(b.MinX)), unit(finite(b.MinY))
	maxX := unit(finite(b.MinX) + math.Max(finite(b.Width), 0))
	maxY := unit(finite(b.MinY) + math.Max(finite(b.Height), 0))
	return NormalizedBox{
		MinX:   minX,
		MinY:   minY,
		Width:  math.Max(maxX-minX, 0),
		Height: math.Max(maxY-minY, 0),
	}
}

// ScreenRect is an axis-aligned rectangle in pixels, origin top-left.
type ScreenRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MidX returns the horizontal center.
func (r ScreenRect) MidX() float64 { return r.X + r.Width/2 }

// MidY returns the vertical center.
func (r ScreenRect) MidY() float64 { return r.Y + r.Height/2 }

// Center returns the midpoint, the point a distance probe samples.
func (r ScreenRect) Center() Point { return Point{X: r.MidX(), Y: r.MidY()} }

// Empty reports a zero or negative area.
func (r ScreenRect) Empty() bool { return !(r.Width > 0) || !(r.Height > 0) }

// Finite reports whether every component is a finite number.
func (r ScreenRect) Finite() bool {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Displayable reports whether the rectangle is worth drawing.
func (r ScreenRect) Displayable() bool { return r.Finite() && !r.Empty() }

// ToScreenRect converts a normalized bottom-left-origin box to pixels on a
// surface of the given size. The vertical axis flips: y = (1 - maxY) * height.
// Degenerate boxes produce zero-area rectangles; callers decide whether to
// draw them.
func ToScreenRect(box NormalizedBox, viewport Size) ScreenRect {
	return ScreenRect{
		X:      box.MinX * viewport.Width,
		Y:      (1 - box.MaxY()) * viewport.Height,
		Width:  box.Width * viewport.Width,
		Height: box.Height * viewport.Height,
	}
}

// NormalizePixelBox converts a top-left-origin pixel box (x1,y1)-(x2,y2) in
// an image of the given size into a normalized bottom-left-origin box. It is
// the inverse of ToScreenRect for detectors that report pixel coordinates.
func NormalizePixelBox(x1, y1, x2, y2 float64, image Size) NormalizedBox {
	if image.Empty() {
		return NormalizedBox{}
	}
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return NormalizedBox{
		MinX:   x1 / image.Width,
		MinY:   1 - y2/image.Height,
		Width:  (x2 - x1) / image.Width,
		Height: (y2 - y1) / image.Height,
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func unit(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
