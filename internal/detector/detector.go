// Package detector finds human shapes in frames. Every detector reports
// normalized boxes with a bottom-left origin.
package detector

import (
	"context"
	"errors"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/video"
)

var (
	// ErrNoFrame is returned for frames carrying no image data.
	ErrNoFrame = errors.New("frame has no image data")
	// ErrUnknownFrameSize is returned when pixel boxes cannot be normalized
	// because neither the frame nor the service reported dimensions.
	ErrUnknownFrameSize = errors.New("frame size unknown")
	// ErrHOGUnavailable is returned when the binary was built without OpenCV.
	ErrHOGUnavailable = errors.New("hog detector requires building with -tags gocv")
)

// Detection is one human shape found in a frame. ID is empty unless the
// detector tracks people across frames.
type Detection struct {
	ID         string                 `json:"id,omitempty"`
	Box        geometry.NormalizedBox `json:"box"`
	Confidence float64                `json:"confidence,omitempty"`
}

// Detector finds people in a frame. Implementations may block and must honor
// ctx cancellation.
type Detector interface {
	Detect(ctx context.Context, frame video.Frame) ([]Detection, error)
}

// Func adapts a function to Detector.
type Func func(ctx context.Context, frame video.Frame) ([]Detection, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, frame video.Frame) ([]Detection, error) {
	return f(ctx, frame)
}

// Static reports the same detections for every frame.
type Static []Detection

// Detect returns a copy of s.
func (s Static) Detect(ctx context.Context, frame video.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Detection, len(s))
	copy(out, s)
	return out, nil
}
