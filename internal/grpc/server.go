// Package grpc exposes the standard gRPC health service.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/antonstocut/personseeker/internal/health"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/service"
)

// HealthServer serves grpc.health.v1.Health. The overall status ("") and one
// entry per checker are refreshed from the health manager on an interval.
type HealthServer struct {
	*service.ServiceBase

	addr     string
	interval time.Duration
	checks   *health.Manager

	mu       sync.Mutex
	server   *grpc.Server
	health   *grpchealth.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// HealthServerConfig contains health server configuration
type HealthServerConfig struct {
	Host     string
	Port     int
	Interval time.Duration
}

// NewHealthServer creates a new gRPC health server
func NewHealthServer(cfg HealthServerConfig, checks *health.Manager, log *logger.Logger) *HealthServer {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	return &HealthServer{
		ServiceBase: service.NewServiceBase("grpc-health", log),
		addr:        net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		interval:    cfg.Interval,
		checks:      checks,
	}
}

// Start listens and begins serving
func (s *HealthServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = lis
	s.health = grpchealth.NewServer()
	s.server = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	healthpb.RegisterHealthServer(s.server, s.health)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.refresh(runCtx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			s.LogError("gRPC server error", err)
		}
	}()
	go s.refreshLoop(runCtx)

	s.LogInfo("gRPC health server started", "addr", lis.Addr().String())
	return nil
}

// Stop marks every service NOT_SERVING and stops the server
func (s *HealthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, hs, cancel := s.server, s.health, s.cancel
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	cancel()
	hs.Shutdown()

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		server.Stop()
	}
	s.wg.Wait()

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("gRPC health server stopped")
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *HealthServer) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *HealthServer) refresh(ctx context.Context) {
	report := s.checks.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	s.health.SetServingStatus("", servingStatus(report.Status))
	for name, check := range report.Checks {
		s.health.SetServingStatus(name, servingStatus(check.Status))
	}
}

func servingStatus(st health.Status) healthpb.HealthCheckResponse_ServingStatus {
	if st == health.StatusUnhealthy {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
