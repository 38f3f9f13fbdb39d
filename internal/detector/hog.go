//go:build gocv

package detector

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/video"
)

// HOGDetector runs OpenCV's default HOG people detector locally. Detections
// carry no ids; the pipeline synthesizes them.
type HOGDetector struct {
	mu  sync.Mutex
	hog gocv.HOGDescriptor
}

// NewHOGDetector loads the default people SVM.
func NewHOGDetector() (*HOGDetector, error) {
	hog := gocv.NewHOGDescriptor()
	if err := hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector()); err != nil {
		hog.Close()
		return nil, fmt.Errorf("failed to load people detector: %w", err)
	}
	return &HOGDetector{hog: hog}, nil
}

// Detect implements Detector.
func (h *HOGDetector) Detect(ctx context.Context, frame video.Frame) ([]Detection, error) {
	if len(frame.Data) == 0 {
		return nil, ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrNoFrame
	}

	h.mu.Lock()
	rects := h.hog.DetectMultiScale(img)
	h.mu.Unlock()

	size := geometry.Size{Width: float64(img.Cols()), Height: float64(img.Rows())}
	detections := make([]Detection, 0, len(rects))
	for _, r := range rects {
		detections = append(detections, Detection{
			Box: geometry.NormalizePixelBox(
				float64(r.Min.X), float64(r.Min.Y),
				float64(r.Max.X), float64(r.Max.Y),
				size,
			),
		})
	}
	return detections, nil
}

// Close releases the OpenCV descriptor.
func (h *HOGDetector) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hog.Close()
}
