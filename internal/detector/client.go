package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/video"
)

// Client is an HTTP client for a remote person-detection service
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	confidence float64
	classes    map[string]bool
	classList  []string
	track      bool
	maxRetries int
	retryDelay time.Duration
}

// ClientConfig contains configuration for the detection client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	PersonClasses       []string // class names accepted as people; defaults to "person"
	Track               bool
	MaxRetries          int
	RetryDelay          time.Duration
}

// NewClient creates a new detection service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if len(config.PersonClasses) == 0 {
		config.PersonClasses = []string{"person"}
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 100 * time.Millisecond
	}

	classes := make(map[string]bool, len(config.PersonClasses))
	for _, c := range config.PersonClasses {
		classes[strings.ToLower(c)] = true
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log,
		confidence: config.ConfidenceThreshold,
		classes:    classes,
		classList:  config.PersonClasses,
		track:      config.Track,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}
}

// Detect implements Detector
func (c *Client) Detect(ctx context.Context, frame video.Frame) ([]Detection, error) {
	if len(frame.Data) == 0 {
		return nil, ErrNoFrame
	}

	resp, err := c.InferWithRetry(ctx, frame)
	if err != nil {
		return nil, err
	}

	size := geometry.Size{Width: float64(frame.Width), Height: float64(frame.Height)}
	if len(resp.FrameShape) >= 2 && resp.FrameShape[0] > 0 && resp.FrameShape[1] > 0 {
		size = geometry.Size{Width: float64(resp.FrameShape[1]), Height: float64(resp.FrameShape[0])}
	}
	if size.Empty() {
		return nil, ErrUnknownFrameSize
	}

	return c.toDetections(resp.BoundingBoxes, size), nil
}

func (c *Client) toDetections(boxes []BoundingBox, size geometry.Size) []Detection {
	detections := make([]Detection, 0, len(boxes))
	for _, b := range boxes {
		if !c.classes[strings.ToLower(b.ClassName)] {
			continue
		}
		if b.Confidence < c.confidence {
			continue
		}
		d := Detection{
			Box:        geometry.NormalizePixelBox(b.X1, b.Y1, b.X2, b.Y2, size),
			Confidence: b.Confidence,
		}
		if b.TrackID != nil {
			d.ID = strconv.FormatInt(*b.TrackID, 10)
		}
		detections = append(detections, d)
	}
	return detections
}

// Infer performs inference on a single frame
func (c *Client) Infer(ctx context.Context, frame video.Frame) (*InferenceResponse, error) {
	req := InferenceRequest{
		Image:          base64.StdEncoding.EncodeToString(frame.Data),
		EnabledClasses: c.classList,
		Track:          c.track,
	}
	if c.confidence > 0 {
		confidence := c.confidence
		req.ConfidenceThreshold = &confidence
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Inference completed",
		"detection_count", len(inferenceResp.BoundingBoxes),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)
	return &inferenceResp, nil
}

// InferWithRetry performs inference, retrying transient failures
func (c *Client) InferWithRetry(ctx context.Context, frame video.Frame) (*InferenceResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.Infer(ctx, frame)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < c.maxRetries {
			c.logger.Debug("Inference attempt failed", "attempt", attempt+1, "error", err)
		}
	}

	if c.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("inference failed after %d retries: %w", c.maxRetries, lastErr)
}

// HealthCheck checks if the detection service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detection service health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// ServiceURL returns the configured base URL
func (c *Client) ServiceURL() string {
	return c.serviceURL
}
