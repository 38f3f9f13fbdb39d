//go:build !gocv

package detector

import (
	"context"

	"github.com/antonstocut/personseeker/internal/video"
)

// HOGDetector is unavailable without the gocv build tag.
type HOGDetector struct{}

// NewHOGDetector always fails in builds without OpenCV.
func NewHOGDetector() (*HOGDetector, error) {
	return nil, ErrHOGUnavailable
}

// Detect implements Detector.
func (h *HOGDetector) Detect(ctx context.Context, frame video.Frame) ([]Detection, error) {
	return nil, ErrHOGUnavailable
}

// Close is a no-op.
func (h *HOGDetector) Close() error { return nil }
