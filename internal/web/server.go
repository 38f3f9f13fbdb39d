// Package web serves the presentation API: status, layout and detection
// control, frame ingestion, history and a live websocket stream.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antonstocut/personseeker/internal/config"
	"github.com/antonstocut/personseeker/internal/health"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/service"
	"github.com/antonstocut/personseeker/internal/state"
	"github.com/antonstocut/personseeker/internal/telemetry"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	routesOnce sync.Once
	hub        *Hub
	hubCancel  context.CancelFunc

	pipeline  *pipeline.Pipeline
	presenter *pipeline.Presenter
	history   History            // Optional session history
	telemetry TelemetryCollector // Optional telemetry collector
	health    *health.Manager    // Optional health checks
	version   string
	startTime time.Time
}

// History is the part of the state recorder the API reads and writes
type History interface {
	RecentFrames(ctx context.Context, limit int) ([]state.FrameRecord, error)
	OverlayEvents(ctx context.Context, since time.Time, limit int) ([]state.OverlayEvent, error)
	SaveSystemState(ctx context.Context, key, value string) error
}

// TelemetryCollector interface for accessing telemetry data
type TelemetryCollector interface {
	LastMetrics() *telemetry.Metrics
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, p *pipeline.Pipeline, presenter *pipeline.Presenter, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		pipeline:    p,
		presenter:   presenter,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.hub = NewHub(log, func() interface{} { return s.presenter.Snapshot() })
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetHistory sets the session history store
func (s *Server) SetHistory(h History) {
	s.history = h
}

// SetTelemetryDependency sets dependency for the metrics API
func (s *Server) SetTelemetryDependency(collector TelemetryCollector) {
	s.telemetry = collector
}

// SetHealthManager sets the health checks served under /health
func (s *Server) SetHealthManager(m *health.Manager) {
	s.health = m
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router with all routes installed
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = lis

	// WriteTimeout stays disabled for websocket connections
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	s.hub.Run(hubCtx, s.GetEventBus())

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", lis.Addr().String())
		}
	}()

	s.LogInfo("Web server started", "address", lis.Addr().String())
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	if s.hubCancel != nil {
		s.hubCancel()
	}
	s.hub.Close()
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.health != nil {
		s.router.GET("/health/live", gin.WrapF(s.health.HandleLiveness))
		s.router.GET("/health/ready", gin.WrapF(s.health.HandleReadiness))
	}
	s.router.GET("/ws", s.hub.ServeWS)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/overlays", s.handleOverlays)
		api.POST("/viewport", s.handleSetViewport)

		detection := api.Group("/detection")
		{
			detection.POST("/start", s.handleStartDetection)
			detection.POST("/pause", s.handlePauseDetection)
		}

		api.POST("/frames", s.handleSubmitFrame)
		api.GET("/history", s.handleHistory)
		api.GET("/metrics", s.handleMetrics)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the AR client on another origin to reach the API
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
