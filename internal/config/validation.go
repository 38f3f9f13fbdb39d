package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("configuration validation failed")

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errs []string
	s := &c.Seeker

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if s.DataDir == "" {
		errs = append(errs, "seeker.data_dir is required")
	}

	switch strings.ToLower(s.Pipeline.Strategy) {
	case "single", "multi":
	default:
		errs = append(errs, fmt.Sprintf("invalid seeker.pipeline.strategy: %s (must be: single or multi)", s.Pipeline.Strategy))
	}
	if s.Pipeline.DetectTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("seeker.pipeline.detect_timeout must be > 0, got: %v", s.Pipeline.DetectTimeout))
	}
	if s.Pipeline.ResultBuffer <= 0 {
		errs = append(errs, fmt.Sprintf("seeker.pipeline.result_buffer must be > 0, got: %d", s.Pipeline.ResultBuffer))
	}
	if s.Pipeline.Viewport.Width < 0 || s.Pipeline.Viewport.Height < 0 {
		errs = append(errs, "seeker.pipeline.viewport dimensions must be >= 0")
	}

	switch s.Detector.Kind {
	case "http":
		if u, err := url.Parse(s.Detector.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("invalid seeker.detector.service_url: %q", s.Detector.ServiceURL))
		}
	case "hog", "static":
	default:
		errs = append(errs, fmt.Sprintf("invalid seeker.detector.kind: %s (must be: http, hog or static)", s.Detector.Kind))
	}
	if s.Detector.ConfidenceThreshold < 0 || s.Detector.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("seeker.detector.confidence_threshold must be between 0 and 1, got: %.2f", s.Detector.ConfidenceThreshold))
	}
	if s.Detector.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("seeker.detector.max_retries must be >= 0, got: %d", s.Detector.MaxRetries))
	}

	if s.Probe.Kind != "depth" && s.Probe.Kind != "none" {
		errs = append(errs, fmt.Sprintf("invalid seeker.probe.kind: %s (must be: depth or none)", s.Probe.Kind))
	}
	if s.Probe.Window < 0 {
		errs = append(errs, fmt.Sprintf("seeker.probe.window must be >= 0, got: %d", s.Probe.Window))
	}

	if s.Overlay.FractionDigits < 0 || s.Overlay.FractionDigits > 6 {
		errs = append(errs, fmt.Sprintf("seeker.overlay.fraction_digits must be between 0 and 6, got: %d", s.Overlay.FractionDigits))
	}
	if _, err := language.Parse(s.Overlay.Locale); err != nil {
		errs = append(errs, fmt.Sprintf("invalid seeker.overlay.locale: %s", s.Overlay.Locale))
	}

	switch s.Source.Kind {
	case "none":
	case "ffmpeg":
		if s.Source.Input == "" {
			errs = append(errs, "seeker.source.input is required for the ffmpeg source")
		}
	case "screen":
		if n := len(s.Source.ScreenArea); n != 0 && n != 4 {
			errs = append(errs, "seeker.source.screen_area must be [x, y, width, height]")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid seeker.source.kind: %s (must be: none, ffmpeg or screen)", s.Source.Kind))
	}
	if s.Source.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("seeker.source.interval must be > 0, got: %v", s.Source.Interval))
	}
	if s.Source.Quality < 1 || s.Source.Quality > 100 {
		errs = append(errs, fmt.Sprintf("seeker.source.quality must be between 1 and 100, got: %d", s.Source.Quality))
	}
	if s.Source.Liveness.Enabled && !strings.HasPrefix(s.Source.Input, "rtsp://") {
		errs = append(errs, "seeker.source.liveness requires an rtsp:// input")
	}

	if s.Web.Enabled && (s.Web.Port <= 0 || s.Web.Port > 65535) {
		errs = append(errs, fmt.Sprintf("seeker.web.port out of range: %d", s.Web.Port))
	}
	if s.GRPC.Enabled && (s.GRPC.Port <= 0 || s.GRPC.Port > 65535) {
		errs = append(errs, fmt.Sprintf("seeker.grpc.port out of range: %d", s.GRPC.Port))
	}
	if s.Web.Enabled && s.GRPC.Enabled && s.Web.Port == s.GRPC.Port {
		errs = append(errs, "seeker.web.port and seeker.grpc.port must differ")
	}

	if s.State.Retention < 0 {
		errs = append(errs, fmt.Sprintf("seeker.state.retention must be >= 0, got: %v", s.State.Retention))
	}
	if s.Telemetry.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("seeker.telemetry.interval must be > 0, got: %v", s.Telemetry.Interval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
