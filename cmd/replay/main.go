// Command replay feeds a directory of JPEG frames through the detection
// pipeline and prints what the overlay layer would show. A frame.jpg may have
// a frame.depth.json sibling holding a depth map.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antonstocut/personseeker/internal/detector"
	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/video"
)

func main() {
	dir := flag.String("dir", ".", "Directory of .jpg frames")
	detectorURL := flag.String("detector-url", "", "Detection service URL (empty uses one centered static box)")
	strategy := flag.String("strategy", "multi", "Overlay strategy: single or multi")
	viewportFlag := flag.String("viewport", "1280x720", "Render surface size WxH")
	window := flag.Int("window", 2, "Depth sampling radius in cells")
	wait := flag.Duration("wait", 10*time.Second, "Max time to wait for each frame")
	flag.Parse()

	log, err := logger.New(logger.LogConfig{Level: "warn", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	size, err := parseSize(*viewportFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid viewport: %v\n", err)
		os.Exit(1)
	}
	strat, err := pipeline.ParseStrategy(*strategy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid strategy: %v\n", err)
		os.Exit(1)
	}

	frames, err := listFrames(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list frames: %v\n", err)
		os.Exit(1)
	}
	if len(frames) == 0 {
		fmt.Fprintf(os.Stderr, "No .jpg frames in %s\n", *dir)
		os.Exit(1)
	}

	var det detector.Detector = detector.Static{{
		ID:         "demo",
		Box:        geometry.NormalizedBox{MinX: 0.4, MinY: 0.2, Width: 0.2, Height: 0.6},
		Confidence: 1,
	}}
	if *detectorURL != "" {
		det = detector.NewClient(detector.ClientConfig{ServiceURL: *detectorURL}, log)
	}

	viewport := geometry.NewViewport(size)
	adapter := probe.NewAdapter(probe.NewDepthMapProbe(viewport, *window), viewport)
	p := pipeline.New(pipeline.Config{Strategy: strat}, det, adapter, viewport, log)

	sink := pipeline.SinkFuncs{
		OnOverlays: func(c overlay.Changes) {
			for _, o := range c.Added {
				fmt.Printf("  + %-36s %s %s\n", o.ID, formatRect(o.Rect), o.Label)
			}
			for _, o := range c.Updated {
				fmt.Printf("  ~ %-36s %s %s\n", o.ID, formatRect(o.Rect), o.Label)
			}
			for _, o := range c.Removed {
				fmt.Printf("  - %s\n", o.ID)
			}
		},
		OnCount: func(n int) {
			fmt.Printf("  count: %d\n", n)
		},
		OnDistance: func(e probe.Estimate) {
			if d, ok := e.Value(); ok {
				fmt.Printf("  primary distance: %.2f m\n", d)
			} else {
				fmt.Println("  primary distance: none")
			}
		},
	}
	presenter := pipeline.NewPresenter(p, sink, log)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start pipeline: %v\n", err)
		os.Exit(1)
	}
	defer p.Stop(ctx)

	for _, path := range frames {
		frame, err := loadFrame(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			continue
		}
		fmt.Printf("%s (%dx%d, depth=%t)\n", filepath.Base(path), frame.Width, frame.Height, frame.Depth != nil)

		if err := p.OnFrame(frame); err != nil {
			fmt.Fprintf(os.Stderr, "  submit failed: %v\n", err)
			continue
		}
		target := p.Stats().Submitted
		if !drainUntil(presenter, target, *wait) {
			fmt.Fprintf(os.Stderr, "  timed out waiting for result\n")
		}
		if snap := presenter.Snapshot(); snap.LastError != "" {
			fmt.Printf("  detector error: %s\n", snap.LastError)
		}
	}

	stats := p.Stats()
	fmt.Printf("\nprocessed=%d failures=%d dropped=%d avg_latency=%.1fms\n",
		stats.Processed, stats.Failures, stats.Dropped, stats.AvgLatencyMs)
}

// drainUntil applies results until the snapshot reaches seq
func drainUntil(pr *pipeline.Presenter, seq uint64, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if _, err := pr.Drain(); err != nil {
			return false
		}
		if pr.Snapshot().Sequence >= seq {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if !e.IsDir() && (strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg")) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func loadFrame(path string) (video.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return video.Frame{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return video.Frame{}, err
	}
	frame, err := video.NewJPEGFrame(data, info.ModTime())
	if err != nil {
		return video.Frame{}, err
	}

	depthPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".depth.json"
	raw, err := os.ReadFile(depthPath)
	if os.IsNotExist(err) {
		return frame, nil
	}
	if err != nil {
		return video.Frame{}, err
	}
	var depth video.DepthMap
	if err := json.Unmarshal(raw, &depth); err != nil {
		return video.Frame{}, fmt.Errorf("invalid depth map: %w", err)
	}
	if err := depth.Validate(); err != nil {
		return video.Frame{}, err
	}
	frame.Depth = &depth
	return frame, nil
}

func parseSize(s string) (geometry.Size, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("want WxH, got %q", s)
	}
	w, err := strconv.ParseFloat(ws, 64)
	if err != nil {
		return geometry.Size{}, err
	}
	h, err := strconv.ParseFloat(hs, 64)
	if err != nil {
		return geometry.Size{}, err
	}
	if w <= 0 || h <= 0 {
		return geometry.Size{}, fmt.Errorf("size must be positive: %s", s)
	}
	return geometry.Size{Width: w, Height: h}, nil
}

func formatRect(r geometry.ScreenRect) string {
	return fmt.Sprintf("[%.0f,%.0f %.0fx%.0f]", r.X, r.Y, r.Width, r.Height)
}
