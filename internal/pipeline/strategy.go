package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antonstocut/personseeker/internal/detector"
	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/probe"
)

// Strategy selects how detections map onto overlay ids.
type Strategy string

const (
	// StrategySingle tracks only the first valid detection under PrimaryID.
	StrategySingle Strategy = "single"
	// StrategyMulti keys overlays by detector ids, synthesizing one per
	// detection when the detector supplies none.
	StrategyMulti Strategy = "multi"
)

// PrimaryID is the fixed overlay id used by the single-slot strategy.
const PrimaryID = "primary"

// ParseStrategy parses a configuration value.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySingle:
		return StrategySingle, nil
	case StrategyMulti, "":
		return StrategyMulti, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want single or multi)", s)
	}
}

// frameSet is the current-frame detection set built on the worker.
type frameSet struct {
	overlays []overlay.Overlay
	count    int
	primary  probe.Estimate
}

// buildFrameSet maps detections to screen space, probes a distance for each
// kept rect and labels it. Count covers every detection with displayable
// geometry; the single strategy keeps only the first of them. A detector id
// repeated within one frame counts once, keeping its first detection.
func buildFrameSet(
	detections []detector.Detection,
	strategy Strategy,
	viewport geometry.Size,
	prb probe.Probe,
	labels *overlay.LabelFormatter,
) frameSet {
	var set frameSet
	seen := make(map[string]struct{}, len(detections))

	for _, d := range detections {
		rect := geometry.ToScreenRect(d.Box.Clamp(), viewport)
		if !rect.Displayable() {
			continue
		}
		if strategy == StrategyMulti && d.ID != "" {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
		}
		set.count++

		if strategy == StrategySingle && len(set.overlays) > 0 {
			continue
		}

		id := d.ID
		switch {
		case strategy == StrategySingle:
			id = PrimaryID
		case id == "":
			id = uuid.NewString()
		}

		dist := probe.None()
		if prb != nil {
			dist = prb.Probe(rect.Center())
		}
		set.overlays = append(set.overlays, overlay.Overlay{
			ID:       id,
			Rect:     rect,
			Label:    labels.Format(dist),
			Distance: dist,
		})
	}

	if len(set.overlays) > 0 {
		set.primary = set.overlays[0].Distance
	}
	return set
}
