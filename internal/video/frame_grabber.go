package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/antonstocut/personseeker/internal/logger"
)

// ErrGrabberRunning is returned by Start on a grabber that is already pulling.
var ErrGrabberRunning = errors.New("frame grabber already running")

// LivenessChecker reports whether an upstream stream is currently delivering data.
type LivenessChecker interface {
	Healthy() bool
}

// FrameGrabber pulls single frames from an ffmpeg input at a fixed interval
type FrameGrabber struct {
	logger      *logger.Logger
	ffmpeg      *FFmpegWrapper
	frameBuffer chan Frame
	interval    time.Duration
	preprocess  PreprocessConfig
	onFrame     func(Frame)
	liveness    LivenessChecker
	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// PreprocessConfig contains frame preprocessing settings
type PreprocessConfig struct {
	ResizeWidth  int // Target width (0 = no resize)
	ResizeHeight int // Target height (0 = no resize)
	Quality      int // JPEG quality (1-100, default 85)
}

// FrameGrabberConfig contains frame grabber configuration
type FrameGrabberConfig struct {
	BufferSize int
	Interval   time.Duration
	Preprocess PreprocessConfig
	OnFrame    func(Frame)
	Liveness   LivenessChecker // optional; pulls are skipped while it reports unhealthy
}

// NewFrameGrabber creates a new frame grabber
func NewFrameGrabber(ffmpeg *FFmpegWrapper, config FrameGrabberConfig, log *logger.Logger) *FrameGrabber {
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 2
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	preprocess := config.Preprocess
	if preprocess.Quality == 0 {
		preprocess.Quality = 85
	}

	return &FrameGrabber{
		logger:      log,
		ffmpeg:      ffmpeg,
		frameBuffer: make(chan Frame, bufferSize),
		interval:    interval,
		preprocess:  preprocess,
		onFrame:     config.OnFrame,
		liveness:    config.Liveness,
	}
}

// Start validates the input and starts pulling frames from it
func (g *FrameGrabber) Start(ctx context.Context, input string) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return ErrGrabberRunning
	}
	g.running = true
	g.mu.Unlock()

	if err := g.ffmpeg.ValidateInput(ctx, input); err != nil {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		return fmt.Errorf("invalid input: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.mu.Lock()
	g.cancel = cancel
	g.done = done
	g.mu.Unlock()

	go g.grabLoop(runCtx, input, done)

	g.logger.Info("Frame grabber started",
		"input", input,
		"interval", g.interval,
		"hwaccel", g.ffmpeg.HWAccel(),
	)
	return nil
}

// Stop stops pulling frames and waits for the loop to exit
func (g *FrameGrabber) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	cancel()
	<-done
	g.logger.Info("Frame grabber stopped")
}

func (g *FrameGrabber) grabLoop(ctx context.Context, input string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.liveness != nil && !g.liveness.Healthy() {
				g.logger.Debug("Stream stalled, skipping frame pull", "input", input)
				continue
			}
			frame, err := g.grab(ctx, input)
			if err != nil {
				if ctx.Err() == nil {
					g.logger.Warn("Failed to grab frame", "error", err, "input", input)
				}
				continue
			}
			g.deliver(frame)
		}
	}
}

// deliver pushes into the buffer, dropping the oldest frame when full, then
// hands the frame to the callback.
func (g *FrameGrabber) deliver(frame Frame) {
	select {
	case g.frameBuffer <- frame:
	default:
		select {
		case <-g.frameBuffer:
		default:
		}
		select {
		case g.frameBuffer <- frame:
		default:
		}
		g.logger.Debug("Frame buffer full, dropped oldest frame")
	}

	if g.onFrame != nil {
		g.onFrame(frame)
	}
}

func (g *FrameGrabber) grab(ctx context.Context, input string) (Frame, error) {
	cmd := g.ffmpeg.BuildCommand(ctx, g.ffmpeg.SingleFrameArgs(input, g.preprocess.Quality))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Frame{}, fmt.Errorf("ffmpeg failed: %w", err)
	}
	if stdout.Len() == 0 {
		return Frame{}, fmt.Errorf("no frame data extracted")
	}

	frame, err := NewJPEGFrame(stdout.Bytes(), time.Now())
	if err != nil {
		return Frame{}, err
	}
	return g.preprocessFrame(frame)
}

func (g *FrameGrabber) preprocessFrame(frame Frame) (Frame, error) {
	if g.preprocess.ResizeWidth == 0 && g.preprocess.ResizeHeight == 0 {
		return frame, nil
	}
	img, err := frame.Decoded()
	if err != nil {
		return Frame{}, err
	}
	img = resizeImage(img, g.preprocess.ResizeWidth, g.preprocess.ResizeHeight)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: g.preprocess.Quality}); err != nil {
		return Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	b := img.Bounds()
	frame.Data = buf.Bytes()
	frame.Image = img
	frame.Width = b.Dx()
	frame.Height = b.Dy()
	return frame, nil
}

// resizeImage scales with nearest-neighbour sampling, keeping the aspect
// ratio when one side is zero.
func resizeImage(img image.Image, width, height int) image.Image {
	if width == 0 && height == 0 {
		return img
	}
	bounds := img.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	if origWidth == 0 || origHeight == 0 {
		return img
	}
	if width == 0 {
		width = (origWidth * height) / origHeight
	}
	if height == 0 {
		height = (origHeight * width) / origWidth
	}
	if width <= 0 || height <= 0 {
		return img
	}

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + (x*origWidth)/width
			srcY := bounds.Min.Y + (y*origHeight)/height
			resized.Set(x, y, img.At(srcX, srcY))
		}
	}
	return resized
}

// Frames returns the drop-oldest frame buffer
func (g *FrameGrabber) Frames() <-chan Frame {
	return g.frameBuffer
}

// IsRunning returns whether the grabber is running
func (g *FrameGrabber) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Interval returns the pull interval
func (g *FrameGrabber) Interval() time.Duration {
	return g.interval
}
