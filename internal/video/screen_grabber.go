package video

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/vova616/screenshot"

	"github.com/antonstocut/personseeker/internal/logger"
)

// CaptureFunc grabs one image of the screen.
type CaptureFunc func() (image.Image, error)

// ScreenCapture returns a CaptureFunc for the whole active monitor, or for
// area when it is non-empty.
func ScreenCapture(area image.Rectangle) CaptureFunc {
	if area.Empty() {
		return func() (image.Image, error) {
			img, err := screenshot.CaptureScreen()
			if err != nil {
				return nil, err
			}
			return img, nil
		}
	}
	return func() (image.Image, error) {
		img, err := screenshot.CaptureRect(area)
		if err != nil {
			return nil, err
		}
		return img, nil
	}
}

// ScreenGrabber turns periodic screen captures into frames
type ScreenGrabber struct {
	logger   *logger.Logger
	capture  CaptureFunc
	interval time.Duration
	quality  int
	onFrame  func(Frame)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScreenGrabber creates a screen grabber; capture defaults to the whole screen.
func NewScreenGrabber(capture CaptureFunc, interval time.Duration, quality int, onFrame func(Frame), log *logger.Logger) *ScreenGrabber {
	if capture == nil {
		capture = ScreenCapture(image.Rectangle{})
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &ScreenGrabber{
		logger:   log,
		capture:  capture,
		interval: interval,
		quality:  quality,
		onFrame:  onFrame,
	}
}

// Start begins capturing in the background.
func (s *ScreenGrabber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrGrabberRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)

	s.logger.Info("Screen grabber started", "interval", s.interval)
	return nil
}

// Stop ends capturing and waits for the loop to exit.
func (s *ScreenGrabber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Screen grabber stopped")
}

// CaptureNow takes one frame synchronously.
func (s *ScreenGrabber) CaptureNow() (Frame, error) {
	img, err := s.capture()
	if err != nil {
		return Frame{}, err
	}
	return NewImageFrame(img, s.quality, time.Now())
}

func (s *ScreenGrabber) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.CaptureNow()
			if err != nil {
				s.logger.Warn("Screen capture failed", "error", err)
				continue
			}
			if s.onFrame != nil {
				s.onFrame(frame)
			}
		}
	}
}
