package video

import (
	"context"
	"fmt"

	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/service"
)

// Grabber is a frame source that can be started and stopped
type Grabber interface {
	Run(ctx context.Context) error
	Halt()
}

// runOn binds the grabber to input
func (g *FrameGrabber) runOn(input string) Grabber {
	return grabberFuncs{
		run:  func(ctx context.Context) error { return g.Start(ctx, input) },
		halt: g.Stop,
	}
}

type grabberFuncs struct {
	run  func(ctx context.Context) error
	halt func()
}

func (f grabberFuncs) Run(ctx context.Context) error { return f.run(ctx) }
func (f grabberFuncs) Halt()                         { f.halt() }

// SourceService runs a frame grabber under the service manager
type SourceService struct {
	*service.ServiceBase
	grabber Grabber
	input   string
}

// NewFFmpegSource wraps an ffmpeg grabber reading input
func NewFFmpegSource(g *FrameGrabber, input string, log *logger.Logger) *SourceService {
	return &SourceService{
		ServiceBase: service.NewServiceBase("frame-source", log),
		grabber:     g.runOn(input),
		input:       input,
	}
}

// NewScreenSource wraps a screen grabber
func NewScreenSource(g *ScreenGrabber, log *logger.Logger) *SourceService {
	return &SourceService{
		ServiceBase: service.NewServiceBase("frame-source", log),
		grabber: grabberFuncs{
			run:  func(context.Context) error { return g.Start() },
			halt: g.Stop,
		},
		input: "screen",
	}
}

// Start starts delivering frames
func (s *SourceService) Start(ctx context.Context) error {
	if err := s.grabber.Run(ctx); err != nil {
		return fmt.Errorf("failed to start frame source %s: %w", s.input, err)
	}
	s.LogInfo("Frame source started", "input", s.input)
	return nil
}

// Stop stops delivering frames
func (s *SourceService) Stop(ctx context.Context) error {
	s.grabber.Halt()
	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Frame source stopped", "input", s.input)
	return nil
}
