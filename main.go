package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/text/language"

	"github.com/antonstocut/personseeker/internal/camera"
	"github.com/antonstocut/personseeker/internal/config"
	"github.com/antonstocut/personseeker/internal/detector"
	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/grpc"
	"github.com/antonstocut/personseeker/internal/health"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/overlay"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/service"
	"github.com/antonstocut/personseeker/internal/state"
	"github.com/antonstocut/personseeker/internal/telemetry"
	"github.com/antonstocut/personseeker/internal/video"
	"github.com/antonstocut/personseeker/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath, envFiles string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&envFiles, "env", ".env", "Comma-separated .env files to load")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	bootLog, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfgSvc, err := config.NewService(configPath, splitList(envFiles), bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting person seeker",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"config", cfgSvc.Path(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)
	healthMgr := health.NewManager(log.Named("health"), svcMgr)

	viewport := geometry.NewViewport(geometry.Size{
		Width:  cfg.Seeker.Pipeline.Viewport.Width,
		Height: cfg.Seeker.Pipeline.Viewport.Height,
	})

	// Session history
	var recorder *state.Recorder
	if cfg.Seeker.State.Enabled {
		recorder, err = state.NewRecorder(state.RecorderConfig{
			Path:          cfg.DatabasePath(),
			Retention:     cfg.Seeker.State.Retention,
			PruneInterval: cfg.Seeker.State.PruneInterval,
		}, log)
		if err != nil {
			log.Error("Failed to open session history", "error", err)
			os.Exit(1)
		}
		restoreViewport(ctx, recorder, viewport, log)
		healthMgr.RegisterChecker(health.NewDatabaseChecker(recorder))
	}

	det, err := buildDetector(&cfg.Seeker.Detector, log)
	if err != nil {
		log.Error("Failed to create detector", "error", err)
		os.Exit(1)
	}
	if client, ok := det.(*detector.Client); ok {
		healthMgr.RegisterChecker(health.NewDetectorChecker(client))
	}
	if closer, ok := det.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	strategy, err := pipeline.ParseStrategy(cfg.Seeker.Pipeline.Strategy)
	if err != nil {
		log.Error("Invalid pipeline strategy", "error", err)
		os.Exit(1)
	}

	labels := overlay.NewLabelFormatter(
		language.Make(cfg.Seeker.Overlay.Locale),
		cfg.Seeker.Overlay.FractionDigits,
		cfg.Seeker.Overlay.Unit,
	)

	p := pipeline.New(pipeline.Config{
		Strategy:      strategy,
		DetectTimeout: cfg.Seeker.Pipeline.DetectTimeout,
		ResultBuffer:  cfg.Seeker.Pipeline.ResultBuffer,
		StartPaused:   cfg.Seeker.Pipeline.StartPaused,
		Labels:        labels,
	}, det, buildProbe(&cfg.Seeker.Probe, viewport), viewport, log)

	presenter := pipeline.NewPresenter(p, pipeline.NewEventSink(svcMgr.GetEventBus(), "presenter"), log)
	healthMgr.RegisterChecker(health.NewPipelineChecker(p))

	// Registration order is start order; stop runs in reverse
	if recorder != nil {
		svcMgr.Register(recorder)
	}
	svcMgr.Register(p)
	svcMgr.Register(presenter)

	var monitor *camera.RTSPMonitor
	src := &cfg.Seeker.Source
	if src.Kind == "ffmpeg" && src.Liveness.Enabled && strings.HasPrefix(src.Input, "rtsp") {
		monitor = camera.NewRTSPMonitor(camera.RTSPMonitorConfig{
			URL:               src.Input,
			StallTimeout:      src.Liveness.StallTimeout,
			ReconnectInterval: src.Liveness.ReconnectInterval,
		}, log)
		svcMgr.Register(monitor)
		healthMgr.RegisterChecker(health.NewSourceChecker(monitor))
	}

	var stream telemetry.StreamSource
	if monitor != nil {
		stream = monitor
	}
	var store telemetry.MetricStore
	if recorder != nil {
		store = recorder
	}
	collector := telemetry.NewCollector(&cfg.Seeker.Telemetry, p, stream, store, log)
	svcMgr.Register(collector)

	webServer := web.NewServer(&cfg.Seeker.Web, p, presenter, log)
	webServer.SetVersion(version)
	webServer.SetTelemetryDependency(collector)
	webServer.SetHealthManager(healthMgr)
	if recorder != nil {
		webServer.SetHistory(recorder)
	}
	svcMgr.Register(webServer)

	if cfg.Seeker.GRPC.Enabled {
		svcMgr.Register(grpc.NewHealthServer(grpc.HealthServerConfig{
			Port: cfg.Seeker.GRPC.Port,
		}, healthMgr, log))
	}

	source, err := buildSource(src, p, monitor, log)
	if err != nil {
		log.Error("Failed to create frame source", "error", err)
		os.Exit(1)
	}
	if source != nil {
		svcMgr.Register(source)
	}

	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		if oldCfg.Seeker.Pipeline.Viewport != newCfg.Seeker.Pipeline.Viewport {
			viewport.Set(geometry.Size{
				Width:  newCfg.Seeker.Pipeline.Viewport.Width,
				Height: newCfg.Seeker.Pipeline.Viewport.Height,
			})
			log.Info("Viewport updated from configuration",
				"width", newCfg.Seeker.Pipeline.Viewport.Width,
				"height", newCfg.Seeker.Pipeline.Viewport.Height,
			)
		}
		if oldCfg.Seeker.Pipeline.StartPaused != newCfg.Seeker.Pipeline.StartPaused {
			if newCfg.Seeker.Pipeline.StartPaused {
				p.Pause()
			} else {
				p.Resume()
			}
		}
		if oldCfg.Seeker.Detector.ServiceURL != newCfg.Seeker.Detector.ServiceURL {
			log.Warn("Detector settings changed; restart to apply")
		}
		return nil
	})

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func buildDetector(cfg *config.DetectorConfig, log *logger.Logger) (detector.Detector, error) {
	switch cfg.Kind {
	case "http":
		return detector.NewClient(detector.ClientConfig{
			ServiceURL:          cfg.ServiceURL,
			Timeout:             cfg.Timeout,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			PersonClasses:       cfg.PersonClasses,
			Track:               cfg.Track,
			MaxRetries:          cfg.MaxRetries,
			RetryDelay:          cfg.RetryDelay,
		}, log.Named("detector")), nil
	case "hog":
		return detector.NewHOGDetector()
	case "static":
		return detector.Static{}, nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

func buildProbe(cfg *config.ProbeConfig, viewport *geometry.Viewport) *probe.Adapter {
	if cfg.Kind != "depth" {
		return nil
	}
	return probe.NewAdapter(probe.NewDepthMapProbe(viewport, cfg.Window), viewport)
}

func buildSource(cfg *config.SourceConfig, p *pipeline.Pipeline, monitor *camera.RTSPMonitor, log *logger.Logger) (*video.SourceService, error) {
	onFrame := func(frame video.Frame) {
		if err := p.OnFrame(frame); err != nil && !errors.Is(err, pipeline.ErrPaused) {
			log.Debug("Frame not submitted", "error", err)
		}
	}

	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "ffmpeg":
		ffmpeg, err := video.NewFFmpegWrapper(log)
		if err != nil {
			return nil, err
		}
		grabCfg := video.FrameGrabberConfig{
			Interval: cfg.Interval,
			Preprocess: video.PreprocessConfig{
				ResizeWidth:  cfg.ResizeWidth,
				ResizeHeight: cfg.ResizeHeight,
				Quality:      cfg.Quality,
			},
			OnFrame: onFrame,
		}
		if monitor != nil {
			grabCfg.Liveness = monitor
		}
		return video.NewFFmpegSource(video.NewFrameGrabber(ffmpeg, grabCfg, log), cfg.Input, log), nil
	case "screen":
		var area image.Rectangle
		if len(cfg.ScreenArea) == 4 {
			a := cfg.ScreenArea
			area = image.Rect(a[0], a[1], a[0]+a[2], a[1]+a[3])
		}
		g := video.NewScreenGrabber(video.ScreenCapture(area), cfg.Interval, cfg.Quality, onFrame, log)
		return video.NewScreenSource(g, log), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// restoreViewport applies the last viewport reported by a client, if any
func restoreViewport(ctx context.Context, rec *state.Recorder, viewport *geometry.Viewport, log *logger.Logger) {
	raw, err := rec.GetSystemState(ctx, "viewport")
	if err != nil || raw == "" {
		return
	}
	var size geometry.Size
	if err := json.Unmarshal([]byte(raw), &size); err != nil {
		log.Warn("Ignoring stored viewport", "error", err)
		return
	}
	if !size.Empty() {
		viewport.Set(size)
		log.Info("Restored viewport", "width", size.Width, "height", size.Height)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
