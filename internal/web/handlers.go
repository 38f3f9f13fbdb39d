package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/video"
)

const (
	maxFrameBytes = 16 << 20
	maxDepthBytes = 32 << 20
	historyLimit  = 1000
)

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Version          string            `json:"version"`
	Uptime           string            `json:"uptime"`
	Status           string            `json:"status"`
	Active           bool              `json:"active"`
	Strategy         pipeline.Strategy `json:"strategy"`
	Epoch            uint64            `json:"epoch"`
	Viewport         geometry.Size     `json:"viewport"`
	Snapshot         pipeline.Snapshot `json:"snapshot"`
	Stats            pipeline.Stats    `json:"stats"`
	Metrics          interface{}       `json:"metrics,omitempty"`
	WebsocketClients int               `json:"websocket_clients"`
}

// ViewportRequest is the body of POST /api/viewport
type ViewportRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		s.health.HandleHealth(c.Writer, c.Request)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Version:          s.version,
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		Status:           string(s.pipeline.GetStatus().GetStatus()),
		Active:           s.pipeline.Active(),
		Strategy:         s.pipeline.Strategy(),
		Epoch:            s.pipeline.Epoch(),
		Viewport:         s.pipeline.Viewport().Load(),
		Snapshot:         s.presenter.Snapshot(),
		Stats:            s.pipeline.Stats(),
		WebsocketClients: s.hub.ClientCount(),
	}
	if s.telemetry != nil {
		if m := s.telemetry.LastMetrics(); m != nil {
			resp.Metrics = m
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOverlays(c *gin.Context) {
	snap := s.presenter.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sequence":         snap.Sequence,
		"count":            snap.Count,
		"primary_distance": snap.Primary,
		"primary_label":    snap.PrimaryLabel,
		"overlays":         snap.Overlays,
	})
}

func (s *Server) handleSetViewport(c *gin.Context) {
	var req ViewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !validDimension(req.Width) || !validDimension(req.Height) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width and height must be finite and non-negative"})
		return
	}

	size := geometry.Size{Width: req.Width, Height: req.Height}
	s.pipeline.Viewport().Set(size)
	s.LogDebug("Viewport updated", "width", size.Width, "height", size.Height)

	if s.history != nil {
		if data, err := json.Marshal(size); err == nil {
			if err := s.history.SaveSystemState(c.Request.Context(), "viewport", string(data)); err != nil {
				s.LogWarn("Failed to persist viewport", "error", err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"viewport": size})
}

func validDimension(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func (s *Server) handleStartDetection(c *gin.Context) {
	changed := s.pipeline.Resume()
	c.JSON(http.StatusOK, gin.H{"active": s.pipeline.Active(), "changed": changed})
}

func (s *Server) handlePauseDetection(c *gin.Context) {
	changed := s.pipeline.Pause()
	c.JSON(http.StatusOK, gin.H{"active": s.pipeline.Active(), "changed": changed})
}

// handleSubmitFrame accepts either a raw image/jpeg body or a multipart form
// with a "frame" file and an optional "depth" JSON part.
func (s *Server) handleSubmitFrame(c *gin.Context) {
	frame, err := s.readFrame(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch err := s.pipeline.OnFrame(frame); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "width": frame.Width, "height": frame.Height})
	case errors.Is(err, pipeline.ErrPaused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) readFrame(c *gin.Context) (video.Frame, error) {
	now := time.Now()

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameBytes))
		if err != nil {
			return video.Frame{}, fmt.Errorf("failed to read frame: %w", err)
		}
		return video.NewJPEGFrame(data, now)
	}

	fh, err := c.FormFile("frame")
	if err != nil {
		return video.Frame{}, fmt.Errorf("missing frame part: %w", err)
	}
	data, err := readPart(fh, maxFrameBytes)
	if err != nil {
		return video.Frame{}, err
	}
	frame, err := video.NewJPEGFrame(data, now)
	if err != nil {
		return video.Frame{}, err
	}

	depthJSON, err := depthPart(c)
	if err != nil {
		return video.Frame{}, err
	}
	if len(depthJSON) > 0 {
		var depth video.DepthMap
		if err := json.Unmarshal(depthJSON, &depth); err != nil {
			return video.Frame{}, fmt.Errorf("invalid depth map: %w", err)
		}
		if err := depth.Validate(); err != nil {
			return video.Frame{}, err
		}
		frame.Depth = &depth
	}
	return frame, nil
}

// depthPart returns the depth map either as an uploaded file or a form field.
func depthPart(c *gin.Context) ([]byte, error) {
	if fh, err := c.FormFile("depth"); err == nil {
		return readPart(fh, maxDepthBytes)
	}
	return []byte(c.PostForm("depth")), nil
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return data, nil
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "History is disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, historyLimit)
	}

	var since time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = t
	}

	ctx := c.Request.Context()
	frames, err := s.history.RecentFrames(ctx, limit)
	if err != nil {
		s.LogError("Failed to load frame history", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}
	events, err := s.history.OverlayEvents(ctx, since, limit)
	if err != nil {
		s.LogError("Failed to load overlay history", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"frames":         frames,
		"overlay_events": events,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	resp := gin.H{"pipeline": s.pipeline.Stats()}
	if s.telemetry != nil {
		if m := s.telemetry.LastMetrics(); m != nil {
			resp["telemetry"] = m
		}
	}
	c.JSON(http.StatusOK, resp)
}
