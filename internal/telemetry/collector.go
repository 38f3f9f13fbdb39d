// Package telemetry samples pipeline and process metrics.
package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/antonstocut/personseeker/internal/camera"
	"github.com/antonstocut/personseeker/internal/config"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/service"
)

// StatsSource provides pipeline counters
type StatsSource interface {
	Stats() pipeline.Stats
}

// StreamSource provides RTSP stream counters
type StreamSource interface {
	Stats() camera.StreamStats
}

// MetricStore persists samples
type MetricStore interface {
	RecordMetric(ctx context.Context, name string, value float64, at time.Time) error
}

// Metrics is one telemetry sample
type Metrics struct {
	Timestamp time.Time           `json:"timestamp"`
	Pipeline  pipeline.Stats      `json:"pipeline"`
	System    SystemMetrics       `json:"system"`
	Stream    *camera.StreamStats `json:"stream,omitempty"`
}

// SystemMetrics are Go runtime figures
type SystemMetrics struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

// Collector collects metrics on an interval
type Collector struct {
	*service.ServiceBase
	config *config.TelemetryConfig
	stats  StatsSource
	stream StreamSource
	store  MetricStore
	now    func() time.Time

	mu          sync.RWMutex
	lastMetrics *Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector creates a new telemetry collector. stream and store may be nil.
func NewCollector(cfg *config.TelemetryConfig, stats StatsSource, stream StreamSource, store MetricStore, log *logger.Logger) *Collector {
	return &Collector{
		ServiceBase: service.NewServiceBase("telemetry-collector", log),
		config:      cfg,
		stats:       stats,
		stream:      stream,
		store:       store,
		now:         time.Now,
	}
}

// Start starts the collection loop
func (c *Collector) Start(ctx context.Context) error {
	c.GetStatus().SetStatus(service.StatusRunning)

	if !c.config.Enabled {
		c.LogInfo("Telemetry collection is disabled")
		return nil
	}

	interval := c.config.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.loop(runCtx, interval)

	c.LogInfo("Telemetry collector started", "interval", interval)
	return nil
}

// Stop stops the telemetry collector service
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	c.LogInfo("Telemetry collector stopped")
	c.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (c *Collector) loop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes a sample, logs it, stores it and keeps it as the last sample
func (c *Collector) Collect(ctx context.Context) *Metrics {
	data := &Metrics{
		Timestamp: c.now(),
		Pipeline:  c.stats.Stats(),
		System:    collectSystemMetrics(),
	}
	if c.stream != nil {
		s := c.stream.Stats()
		data.Stream = &s
	}

	c.LogInfo("Pipeline metrics",
		"submitted", data.Pipeline.Submitted,
		"dropped", data.Pipeline.Dropped,
		"processed", data.Pipeline.Processed,
		"failures", data.Pipeline.Failures,
		"stale", data.Pipeline.Stale,
		"applied", data.Pipeline.Applied,
		"avg_latency_ms", data.Pipeline.AvgLatencyMs,
	)

	if c.store != nil {
		for name, value := range data.samples() {
			if err := c.store.RecordMetric(ctx, name, value, data.Timestamp); err != nil {
				c.LogWarn("Failed to store metric", "metric", name, "error", err)
				break
			}
		}
	}

	c.mu.Lock()
	c.lastMetrics = data
	c.mu.Unlock()

	return data
}

// LastMetrics returns the last collected metrics, nil before the first sample
func (c *Collector) LastMetrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (m *Metrics) samples() map[string]float64 {
	out := map[string]float64{
		"pipeline.submitted":      float64(m.Pipeline.Submitted),
		"pipeline.dropped":        float64(m.Pipeline.Dropped),
		"pipeline.processed":      float64(m.Pipeline.Processed),
		"pipeline.failures":       float64(m.Pipeline.Failures),
		"pipeline.stale":          float64(m.Pipeline.Stale),
		"pipeline.applied":        float64(m.Pipeline.Applied),
		"pipeline.avg_latency_ms": m.Pipeline.AvgLatencyMs,
		"system.goroutines":       float64(m.System.Goroutines),
		"system.heap_alloc_bytes": float64(m.System.HeapAllocBytes),
	}
	if m.Stream != nil {
		out["stream.packets"] = float64(m.Stream.Packets)
		out["stream.lost"] = float64(m.Stream.Lost)
	}
	return out
}

func collectSystemMetrics() SystemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemMetrics{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
	}
}
