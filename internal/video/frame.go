package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"
)

// ErrEmptyFrame is returned when a frame carries no pixel data.
var ErrEmptyFrame = errors.New("frame has no image data")

// Frame represents a single captured camera frame
type Frame struct {
	Data      []byte      // JPEG-encoded frame data
	Image     image.Image // Decoded pixels, optional
	Width     int
	Height    int
	Timestamp time.Time
	Sequence  uint64    // Assigned by the pipeline on submission
	Depth     *DepthMap // Per-frame depth, optional
}

// NewJPEGFrame builds a frame from JPEG bytes, reading the dimensions from
// the header.
func NewJPEGFrame(data []byte, ts time.Time) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode JPEG header: %w", err)
	}
	return Frame{Data: data, Width: cfg.Width, Height: cfg.Height, Timestamp: ts}, nil
}

// NewImageFrame JPEG-encodes img so the frame can travel to remote detectors.
func NewImageFrame(img image.Image, quality int, ts time.Time) (Frame, error) {
	if img == nil {
		return Frame{}, ErrEmptyFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	b := img.Bounds()
	return Frame{Data: buf.Bytes(), Image: img, Width: b.Dx(), Height: b.Dy(), Timestamp: ts}, nil
}

// Decoded returns the frame pixels, decoding Data when Image is unset.
func (f Frame) Decoded() (image.Image, error) {
	if f.Image != nil {
		return f.Image, nil
	}
	if len(f.Data) == 0 {
		return nil, ErrEmptyFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// DepthMap is a row-major grid of distances in meters, origin top-left,
// covering the same field of view as the frame. Values that are not
// positive and finite mean no surface was measured there.
type DepthMap struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float32 `json:"values"`
}

// Validate checks that the grid dimensions match the sample count.
func (d *DepthMap) Validate() error {
	if d == nil {
		return errors.New("depth map is nil")
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("invalid depth map size %dx%d", d.Width, d.Height)
	}
	if len(d.Values) != d.Width*d.Height {
		return fmt.Errorf("depth map has %d values, want %d", len(d.Values), d.Width*d.Height)
	}
	return nil
}

// At returns the sample at grid cell (x, y) and whether it is a measurement.
func (d *DepthMap) At(x, y int) (float64, bool) {
	if d == nil || x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return 0, false
	}
	idx := y*d.Width + x
	if idx >= len(d.Values) {
		return 0, false
	}
	v := float64(d.Values[idx])
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
