package health

import (
	"context"
	"fmt"
	"time"

	"github.com/antonstocut/personseeker/internal/service"
)

// Pinger is implemented by the state recorder
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "History disabled"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DetectorHealth is implemented by remote detectors
type DetectorHealth interface {
	HealthCheck(ctx context.Context) error
	ServiceURL() string
}

// DetectorChecker checks the inference service. A down detector degrades
// the system: frames fail and overlays stay as they were.
type DetectorChecker struct {
	detector DetectorHealth
}

func NewDetectorChecker(detector DetectorHealth) *DetectorChecker {
	return &DetectorChecker{detector: detector}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service_url": c.detector.ServiceURL(),
		},
	}

	start := time.Now()
	err := c.detector.HealthCheck(ctx)
	check.Details["response_time_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Detector unavailable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Detector service OK"
	return check
}

// PipelineState is the part of the pipeline the checker reads
type PipelineState interface {
	GetStatus() *service.ServiceStatus
	Active() bool
}

// PipelineChecker checks that the detection pipeline is running
type PipelineChecker struct {
	pipeline PipelineState
}

func NewPipelineChecker(p PipelineState) *PipelineChecker {
	return &PipelineChecker{pipeline: p}
}

func (c *PipelineChecker) Name() string {
	return "pipeline"
}

func (c *PipelineChecker) Check(ctx context.Context) Check {
	status := c.pipeline.GetStatus().GetStatus()
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"status": status,
			"active": c.pipeline.Active(),
		},
	}

	switch status {
	case service.StatusRunning, service.StatusPaused:
		check.Status = StatusHealthy
		check.Message = "Pipeline running"
	case service.StatusStarting:
		check.Status = StatusDegraded
		check.Message = "Pipeline starting"
	default:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Pipeline %s", status)
		if err := c.pipeline.GetStatus().GetError(); err != nil {
			check.Message = fmt.Sprintf("Pipeline %s: %v", status, err)
		}
	}
	return check
}

// Liveness is implemented by stream monitors
type Liveness interface {
	Healthy() bool
}

// SourceChecker reports whether the upstream stream delivers packets
type SourceChecker struct {
	source Liveness
}

func NewSourceChecker(source Liveness) *SourceChecker {
	return &SourceChecker{source: source}
}

func (c *SourceChecker) Name() string {
	return "source"
}

func (c *SourceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}
	if c.source.Healthy() {
		check.Status = StatusHealthy
		check.Message = "Stream live"
	} else {
		check.Status = StatusDegraded
		check.Message = "Stream stalled or disconnected"
	}
	return check
}
