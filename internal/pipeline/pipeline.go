// Package pipeline runs human detection off the frame-delivery goroutine and
// hands per-frame results to a single presenter that owns the overlay set.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/antonstocut/personseeker/internal/detector"
	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/service"
	"github.com/antonstocut/personseeker/internal/video"
)

var (
	// ErrNotRunning is returned by OnFrame before Start or after Stop.
	ErrNotRunning = errors.New("pipeline not running")
	// ErrPaused is returned by OnFrame while detection is paused.
	ErrPaused = errors.New("detection paused")
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// Config contains pipeline settings
type Config struct {
	Strategy      Strategy
	DetectTimeout time.Duration
	ResultBuffer  int
	StartPaused   bool
	Labels        *overlay.LabelFormatter
}

type job struct {
	frame video.Frame
	epoch uint64
}

// Pipeline is the detection worker. Frames are submitted with OnFrame from
// any goroutine; at most one detector call is in flight and at most one frame
// waits behind it, newer frames replacing the waiting one.
type Pipeline struct {
	*service.ServiceBase

	cfg      Config
	detector detector.Detector
	probe    *probe.Adapter
	viewport *geometry.Viewport

	mu      sync.Mutex
	pending *job
	wake    chan struct{}

	// sendMu orders epoch changes against result delivery so no result
	// from an earlier epoch lands after the matching Clear.
	sendMu  sync.Mutex
	results chan Result

	seq     atomic.Uint64
	epoch   atomic.Uint64
	active  atomic.Bool
	running atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}

	submitted    atomic.Uint64
	dropped      atomic.Uint64
	processed    atomic.Uint64
	failures     atomic.Uint64
	stale        atomic.Uint64
	applied      atomic.Uint64
	latencyTotal atomic.Int64
}

// New creates a pipeline. adapter may be nil, in which case every distance
// is absent.
func New(cfg Config, det detector.Detector, adapter *probe.Adapter, viewport *geometry.Viewport, log *logger.Logger) *Pipeline {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyMulti
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 5 * time.Second
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 4
	}
	if cfg.Labels == nil {
		cfg.Labels = overlay.DefaultLabelFormatter()
	}
	if viewport == nil {
		viewport = geometry.NewViewport(geometry.Size{})
	}

	p := &Pipeline{
		ServiceBase: service.NewServiceBase("pipeline", log),
		cfg:         cfg,
		detector:    det,
		probe:       adapter,
		viewport:    viewport,
		wake:        make(chan struct{}, 1),
		results:     make(chan Result, cfg.ResultBuffer),
	}
	p.active.Store(!cfg.StartPaused)
	return p
}

// Start starts the worker goroutine
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.worker(runCtx, p.done)

	if p.active.Load() {
		p.GetStatus().SetStatus(service.StatusRunning)
	} else {
		p.GetStatus().SetStatus(service.StatusPaused)
	}
	p.LogInfo("Pipeline started",
		"strategy", p.cfg.Strategy,
		"detect_timeout", p.cfg.DetectTimeout,
		"active", p.active.Load(),
	)
	return nil
}

// Stop stops the worker and sends a final Clear
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.GetStatus().SetStatus(service.StatusStopping)

	p.invalidate()
	p.cancel()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.LogWarn("Pipeline worker did not exit before deadline")
	}

	p.GetStatus().SetStatus(service.StatusStopped)
	p.LogInfo("Pipeline stopped")
	return nil
}

// OnFrame submits a frame for detection. It never blocks on the detector.
func (p *Pipeline) OnFrame(frame video.Frame) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	if !p.active.Load() {
		return ErrPaused
	}

	frame.Sequence = p.seq.Add(1)
	p.submitted.Add(1)

	p.mu.Lock()
	if p.pending != nil {
		p.dropped.Add(1)
	}
	p.pending = &job{frame: frame, epoch: p.epoch.Load()}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pause stops accepting frames, discards in-flight work and clears the
// presenter. It reports whether the pipeline was active.
func (p *Pipeline) Pause() bool {
	if !p.active.CompareAndSwap(true, false) {
		return false
	}
	p.invalidate()
	if p.probe != nil {
		p.probe.Reset()
	}
	if p.running.Load() {
		p.GetStatus().SetStatus(service.StatusPaused)
	}
	p.PublishEvent(service.EventTypeDetectionPaused, map[string]interface{}{
		"epoch": p.epoch.Load(),
	})
	p.LogInfo("Detection paused")
	return true
}

// Resume starts accepting frames again. It reports whether the pipeline was
// paused.
func (p *Pipeline) Resume() bool {
	if !p.active.CompareAndSwap(false, true) {
		return false
	}
	if p.running.Load() {
		p.GetStatus().SetStatus(service.StatusRunning)
	}
	p.PublishEvent(service.EventTypeDetectionStarted, map[string]interface{}{
		"epoch": p.epoch.Load(),
	})
	p.LogInfo("Detection resumed")
	return true
}

// Active reports whether frames are being accepted.
func (p *Pipeline) Active() bool { return p.active.Load() }

// Epoch is bumped by every pause and stop; results of older epochs are stale.
func (p *Pipeline) Epoch() uint64 { return p.epoch.Load() }

// Results is the stream consumed by exactly one Presenter.
func (p *Pipeline) Results() <-chan Result { return p.results }

// Viewport returns the shared viewport the worker reads.
func (p *Pipeline) Viewport() *geometry.Viewport { return p.viewport }

// Strategy returns the configured id strategy.
func (p *Pipeline) Strategy() Strategy { return p.cfg.Strategy }

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Processed: p.processed.Load(),
		Failures:  p.failures.Load(),
		Stale:     p.stale.Load(),
		Applied:   p.applied.Load(),
	}
	if s.Processed > 0 {
		s.AvgLatencyMs = float64(time.Duration(p.latencyTotal.Load())/time.Duration(s.Processed)) / float64(time.Millisecond)
	}
	return s
}

// invalidate bumps the epoch, drops the waiting frame and queues a Clear.
func (p *Pipeline) invalidate() {
	p.mu.Lock()
	if p.pending != nil {
		p.dropped.Add(1)
		p.pending = nil
	}
	p.mu.Unlock()

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	epoch := p.epoch.Add(1)
	p.push(Result{Sequence: p.seq.Load(), Epoch: epoch, Clear: true, FrameTime: time.Now()})
}

func (p *Pipeline) worker(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		j := p.pending
		p.pending = nil
		p.mu.Unlock()

		if j != nil {
			p.process(ctx, j)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, j *job) {
	if j.epoch != p.epoch.Load() {
		p.stale.Add(1)
		return
	}
	start := time.Now()

	if p.probe != nil {
		p.probe.ObserveFrame(j.frame)
	}

	res := Result{
		Sequence:  j.frame.Sequence,
		Epoch:     j.epoch,
		FrameTime: j.frame.Timestamp,
	}

	detections, err := p.detect(ctx, j.frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failures.Add(1)
		traced := err
		if len(xerrors.StackTrace(err)) == 0 {
			traced = xerrors.New(err)
		}
		p.LogWarn("Detection failed, treating frame as empty",
			"sequence", j.frame.Sequence,
			"error", err,
			"details", xerrors.Sprint(traced),
		)
		res.Err = err
	} else {
		var prb probe.Probe
		if p.probe != nil {
			prb = p.probe
		}
		set := buildFrameSet(detections, p.cfg.Strategy, p.viewport.Load(), prb, p.cfg.Labels)
		res.Overlays = set.overlays
		res.Count = set.count
		res.Primary = set.primary
	}

	res.Latency = time.Since(start)
	p.processed.Add(1)
	p.latencyTotal.Add(int64(res.Latency))

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if res.Epoch != p.epoch.Load() {
		p.stale.Add(1)
		return
	}
	p.push(res)
}

// detect runs the detector under the per-frame timeout. A panicking
// detector counts as a failed frame.
func (p *Pipeline) detect(ctx context.Context, frame video.Frame) (dets []detector.Detection, err error) {
	if p.detector == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DetectTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			dets, err = nil, xerrors.FromRecover(r)
		}
	}()
	return p.detector.Detect(ctx, frame)
}

// push delivers r, discarding the oldest queued result when the presenter
// has fallen behind. Callers hold sendMu.
func (p *Pipeline) push(r Result) {
	for {
		select {
		case p.results <- r:
			return
		default:
		}
		select {
		case <-p.results:
			p.stale.Add(1)
		default:
		}
	}
}
