package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/antonstocut/personseeker/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	envFiles   []string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads .env files, the configuration file and SEEKER_*
// overrides, then validates the result.
func NewService(configPath string, envFiles []string, log *logger.Logger) (*Service, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	cfg, err := loadWithOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		envFiles:   envFiles,
		logger:     log,
	}, nil
}

// LoadEnvFiles loads dotenv files without overriding variables already set.
// Missing files are skipped; with no arguments ./.env is tried.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

func loadWithOverrides(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Path returns the configuration file path given at construction
func (s *Service) Path() string {
	return s.configPath
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := loadWithOverrides(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	s := &cfg.Seeker

	s.DataDir = GetEnvWithDefault("SEEKER_DATA_DIR", s.DataDir)

	s.Pipeline.Strategy = GetEnvWithDefault("SEEKER_STRATEGY", s.Pipeline.Strategy)
	s.Pipeline.DetectTimeout = GetEnvDuration("SEEKER_DETECT_TIMEOUT", s.Pipeline.DetectTimeout)
	s.Pipeline.StartPaused = GetEnvBool("SEEKER_START_PAUSED", s.Pipeline.StartPaused)

	s.Detector.Kind = GetEnvWithDefault("SEEKER_DETECTOR_KIND", s.Detector.Kind)
	s.Detector.ServiceURL = GetEnvWithDefault("SEEKER_DETECTOR_URL", s.Detector.ServiceURL)
	s.Detector.ConfidenceThreshold = GetEnvFloat64("SEEKER_DETECTOR_CONFIDENCE", s.Detector.ConfidenceThreshold)
	if val := os.Getenv("SEEKER_DETECTOR_CLASSES"); val != "" {
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		s.Detector.PersonClasses = classes
	}

	s.Probe.Kind = GetEnvWithDefault("SEEKER_PROBE_KIND", s.Probe.Kind)

	s.Source.Kind = GetEnvWithDefault("SEEKER_SOURCE_KIND", s.Source.Kind)
	s.Source.Input = GetEnvWithDefault("SEEKER_SOURCE_INPUT", s.Source.Input)
	s.Source.Interval = GetEnvDuration("SEEKER_SOURCE_INTERVAL", s.Source.Interval)

	s.Web.Enabled = GetEnvBool("SEEKER_WEB_ENABLED", s.Web.Enabled)
	s.Web.Port = GetEnvInt("SEEKER_WEB_PORT", s.Web.Port)
	s.GRPC.Enabled = GetEnvBool("SEEKER_GRPC_ENABLED", s.GRPC.Enabled)
	s.GRPC.Port = GetEnvInt("SEEKER_GRPC_PORT", s.GRPC.Port)

	s.State.Enabled = GetEnvBool("SEEKER_STATE_ENABLED", s.State.Enabled)
	s.Telemetry.Enabled = GetEnvBool("SEEKER_TELEMETRY_ENABLED", s.Telemetry.Enabled)
	s.Telemetry.Interval = GetEnvDuration("SEEKER_TELEMETRY_INTERVAL", s.Telemetry.Interval)

	cfg.Log.Level = GetEnvWithDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvWithDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = GetEnvWithDefault("LOG_OUTPUT", cfg.Log.Output)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return defaultValue
	}
	return result
}
