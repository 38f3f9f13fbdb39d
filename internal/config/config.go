package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Seeker SeekerConfig `yaml:"seeker"`
	Log    LogConfig    `yaml:"log,omitempty"`
}

// SeekerConfig contains the detection overlay service configuration
type SeekerConfig struct {
	DataDir   string          `yaml:"data_dir"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Detector  DetectorConfig  `yaml:"detector"`
	Probe     ProbeConfig     `yaml:"probe"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Source    SourceConfig    `yaml:"source"`
	Web       WebConfig       `yaml:"web"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	State     StateConfig     `yaml:"state"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PipelineConfig contains detection pipeline settings
type PipelineConfig struct {
	Strategy      string         `yaml:"strategy"` // single or multi
	DetectTimeout time.Duration  `yaml:"detect_timeout"`
	ResultBuffer  int            `yaml:"result_buffer"`
	StartPaused   bool           `yaml:"start_paused"`
	Viewport      ViewportConfig `yaml:"viewport"` // initial render surface size
}

// ViewportConfig is a render surface size in pixels
type ViewportConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// DetectorConfig contains person detector settings
type DetectorConfig struct {
	Kind                string        `yaml:"kind"` // http, hog or static
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	PersonClasses       []string      `yaml:"person_classes"`
	Track               bool          `yaml:"track"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
}

// ProbeConfig contains distance probe settings
type ProbeConfig struct {
	Kind   string `yaml:"kind"`   // depth or none
	Window int    `yaml:"window"` // sampling radius in depth-map cells
}

// OverlayConfig contains label formatting settings
type OverlayConfig struct {
	FractionDigits int    `yaml:"fraction_digits"`
	Unit           string `yaml:"unit"`
	Locale         string `yaml:"locale"`
}

// SourceConfig contains the built-in frame source settings
type SourceConfig struct {
	Kind         string         `yaml:"kind"` // none, ffmpeg or screen
	Input        string         `yaml:"input"`
	Interval     time.Duration  `yaml:"interval"`
	Quality      int            `yaml:"quality"`
	ResizeWidth  int            `yaml:"resize_width"`
	ResizeHeight int            `yaml:"resize_height"`
	ScreenArea   []int          `yaml:"screen_area"` // x, y, width, height; empty for the whole screen
	Liveness     LivenessConfig `yaml:"liveness"`
}

// LivenessConfig contains RTSP liveness monitor settings
type LivenessConfig struct {
	Enabled           bool          `yaml:"enabled"`
	StallTimeout      time.Duration `yaml:"stall_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GRPCConfig contains the health RPC server configuration
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// StateConfig contains session history settings
type StateConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// TelemetryConfig contains telemetry collection configuration
type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ErrConfigNotFound is returned when an explicitly named file is missing.
var ErrConfigNotFound = errors.New("configuration file not found")

// Load reads and parses the configuration file. With an empty path the
// default locations are searched, and defaults are used if none exists.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		configPath = getDefaultConfigPath()
		if configPath == "" {
			cfg.setDefaults()
			return &cfg, nil
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// getDefaultConfigPath returns the first existing default location, or ""
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/person-seeker/config.yaml",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	s := &c.Seeker
	if s.DataDir == "" {
		s.DataDir = "./data"
	}

	if s.Pipeline.Strategy == "" {
		s.Pipeline.Strategy = "multi"
	}
	if s.Pipeline.DetectTimeout == 0 {
		s.Pipeline.DetectTimeout = 5 * time.Second
	}
	if s.Pipeline.ResultBuffer == 0 {
		s.Pipeline.ResultBuffer = 4
	}

	if s.Detector.Kind == "" {
		s.Detector.Kind = "http"
	}
	if s.Detector.ServiceURL == "" {
		s.Detector.ServiceURL = "http://localhost:8080"
	}
	if s.Detector.Timeout == 0 {
		s.Detector.Timeout = 5 * time.Second
	}
	if s.Detector.ConfidenceThreshold == 0 {
		s.Detector.ConfidenceThreshold = 0.5
	}
	if len(s.Detector.PersonClasses) == 0 {
		s.Detector.PersonClasses = []string{"person"}
	}
	if s.Detector.RetryDelay == 0 {
		s.Detector.RetryDelay = 100 * time.Millisecond
	}

	if s.Probe.Kind == "" {
		s.Probe.Kind = "depth"
	}
	if s.Probe.Window == 0 {
		s.Probe.Window = 2
	}

	if s.Overlay.FractionDigits == 0 {
		s.Overlay.FractionDigits = 2
	}
	if s.Overlay.Unit == "" {
		s.Overlay.Unit = "m"
	}
	if s.Overlay.Locale == "" {
		s.Overlay.Locale = "en"
	}

	if s.Source.Kind == "" {
		s.Source.Kind = "none"
	}
	if s.Source.Interval == 0 {
		s.Source.Interval = 200 * time.Millisecond
	}
	if s.Source.Quality == 0 {
		s.Source.Quality = 85
	}
	if s.Source.Liveness.StallTimeout == 0 {
		s.Source.Liveness.StallTimeout = 5 * time.Second
	}
	if s.Source.Liveness.ReconnectInterval == 0 {
		s.Source.Liveness.ReconnectInterval = 10 * time.Second
	}

	if s.Web.Host == "" {
		s.Web.Host = "0.0.0.0"
	}
	if s.Web.Port == 0 {
		s.Web.Port = 8090
	}
	if s.GRPC.Port == 0 {
		s.GRPC.Port = 50051
	}

	if s.State.Retention == 0 {
		s.State.Retention = 24 * time.Hour
	}
	if s.State.PruneInterval == 0 {
		s.State.PruneInterval = 10 * time.Minute
	}

	if s.Telemetry.Interval == 0 {
		s.Telemetry.Interval = 30 * time.Second
	}
}

// DatabasePath returns the sqlite file used for session history
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Seeker.DataDir, "seeker.db")
}
