package pipeline

import (
	"time"

	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/probe"
)

// Result is the message the worker hands to the presenter for one frame.
// Clear results carry no overlays; they are sent when detection pauses or the
// pipeline stops.
type Result struct {
	Sequence  uint64
	Epoch     uint64
	Clear     bool
	Overlays  []overlay.Overlay
	Count     int
	Primary   probe.Estimate
	Err       error
	FrameTime time.Time
	Latency   time.Duration
}

// Snapshot is the last applied presentation state.
type Snapshot struct {
	Sequence     uint64            `json:"sequence"`
	Overlays     []overlay.Overlay `json:"overlays"`
	Count        int               `json:"count"`
	Primary      probe.Estimate    `json:"primary_distance"`
	PrimaryLabel string            `json:"primary_label,omitempty"`
	AppliedAt    time.Time         `json:"applied_at"`
	LatencyMs    int64             `json:"latency_ms"`
	LastError    string            `json:"last_error,omitempty"`
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Submitted    uint64  `json:"submitted"`
	Dropped      uint64  `json:"dropped"`
	Processed    uint64  `json:"processed"`
	Failures     uint64  `json:"failures"`
	Stale        uint64  `json:"stale"`
	Applied      uint64  `json:"applied"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
