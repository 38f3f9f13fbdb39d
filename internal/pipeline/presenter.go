package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/service"
)

// ErrConsumerActive is returned when a second goroutine tries to consume
// results while another one is.
var ErrConsumerActive = errors.New("presenter already consuming results")

// Presenter is the single consumer of pipeline results. It owns the overlay
// reconciler and is the only place sinks are called from. Use Run on a
// dedicated goroutine, or Drain from an existing render loop.
type Presenter struct {
	*service.ServiceBase

	pipeline   *Pipeline
	reconciler *overlay.Reconciler
	sink       Sink
	labels     *overlay.LabelFormatter

	consuming atomic.Bool

	// touched only by the consuming goroutine
	lastSeq     uint64
	lastCount   int
	lastPrimary probe.Estimate
	announced   bool

	mu       sync.RWMutex
	snapshot Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPresenter creates a presenter for p. sink may be nil.
func NewPresenter(p *Pipeline, sink Sink, log *logger.Logger) *Presenter {
	if sink == nil {
		sink = Sinks{}
	}
	return &Presenter{
		ServiceBase: service.NewServiceBase("presenter", log),
		pipeline:    p,
		reconciler:  overlay.NewReconciler(),
		sink:        sink,
		labels:      p.cfg.Labels,
	}
}

// Start runs the presenter on its own goroutine
func (pr *Presenter) Start(ctx context.Context) error {
	if !pr.consuming.CompareAndSwap(false, true) {
		return ErrConsumerActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	pr.cancel = cancel
	pr.done = make(chan struct{})

	go func() {
		defer close(pr.done)
		defer pr.consuming.Store(false)
		pr.loop(runCtx)
	}()

	pr.LogInfo("Presenter started")
	return nil
}

// Stop stops the goroutine started by Start
func (pr *Presenter) Stop(ctx context.Context) error {
	if pr.cancel == nil {
		return nil
	}
	pr.cancel()
	select {
	case <-pr.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	pr.cancel = nil
	pr.LogInfo("Presenter stopped")
	return nil
}

// Run applies results until ctx is done.
func (pr *Presenter) Run(ctx context.Context) error {
	if !pr.consuming.CompareAndSwap(false, true) {
		return ErrConsumerActive
	}
	defer pr.consuming.Store(false)
	pr.loop(ctx)
	return ctx.Err()
}

func (pr *Presenter) loop(ctx context.Context) {
	results := pr.pipeline.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-results:
			pr.apply(res)
		}
	}
}

// Drain applies every queued result without blocking and returns how many
// were applied.
func (pr *Presenter) Drain() (int, error) {
	if !pr.consuming.CompareAndSwap(false, true) {
		return 0, ErrConsumerActive
	}
	defer pr.consuming.Store(false)

	n := 0
	results := pr.pipeline.Results()
	for {
		select {
		case res := <-results:
			if pr.apply(res) {
				n++
			}
		default:
			return n, nil
		}
	}
}

// Snapshot returns the last applied state. Safe from any goroutine.
func (pr *Presenter) Snapshot() Snapshot {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	s := pr.snapshot
	s.Overlays = append([]overlay.Overlay(nil), pr.snapshot.Overlays...)
	return s
}

// apply reconciles one result and notifies sinks. It reports whether the
// result was applied rather than discarded as stale.
func (pr *Presenter) apply(res Result) bool {
	var changes overlay.Changes

	if res.Clear {
		if res.Sequence > pr.lastSeq {
			pr.lastSeq = res.Sequence
		}
		changes = pr.reconciler.ClearAll()
		res.Count = 0
		res.Primary = probe.None()
	} else {
		if res.Sequence <= pr.lastSeq || res.Epoch != pr.pipeline.Epoch() {
			pr.pipeline.stale.Add(1)
			return false
		}
		pr.lastSeq = res.Sequence
		changes = pr.reconciler.Reconcile(res.Overlays)
	}

	if !changes.Empty() {
		pr.sink.OverlaysChanged(changes)
	}
	if !pr.announced || res.Count != pr.lastCount {
		pr.lastCount = res.Count
		pr.sink.CountChanged(res.Count)
	}
	if !pr.announced || res.Primary != pr.lastPrimary {
		pr.lastPrimary = res.Primary
		pr.sink.PrimaryDistanceChanged(res.Primary)
	}
	pr.announced = true

	snap := Snapshot{
		Sequence:     res.Sequence,
		Overlays:     pr.reconciler.Active(),
		Count:        res.Count,
		Primary:      res.Primary,
		PrimaryLabel: pr.labels.Format(res.Primary),
		AppliedAt:    time.Now(),
		LatencyMs:    res.Latency.Milliseconds(),
	}
	if res.Err != nil {
		snap.LastError = res.Err.Error()
	}

	pr.mu.Lock()
	pr.snapshot = snap
	pr.mu.Unlock()

	if !res.Clear {
		pr.pipeline.applied.Add(1)
	}
	if fs, ok := pr.sink.(FrameSink); ok {
		fs.FrameApplied(snap)
	}
	return true
}
