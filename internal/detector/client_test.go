package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/video"
)

func int64p(v int64) *int64 { return &v }

func setupTestClient(t *testing.T, handler http.HandlerFunc, cfg ClientConfig) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.ServiceURL = server.URL
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return NewClient(cfg, logger.NewNopLogger())
}

func testFrame() video.Frame {
	return video.Frame{Data: []byte("fake jpeg data"), Width: 640, Height: 480, Timestamp: time.Now()}
}

func TestClient_Detect(t *testing.T) {
	var got InferenceRequest
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/inference", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(InferenceResponse{
			BoundingBoxes: []BoundingBox{
				{X1: 100, Y1: 100, X2: 300, Y2: 400, Confidence: 0.9, ClassName: "person", TrackID: int64p(7)},
				{X1: 0, Y1: 0, X2: 50, Y2: 50, Confidence: 0.95, ClassName: "dog"},
				{X1: 0, Y1: 0, X2: 50, Y2: 50, Confidence: 0.2, ClassName: "person"},
				{X1: 400, Y1: 0, X2: 800, Y2: 200, Confidence: 0.6, ClassName: "Person"},
			},
			FrameShape: []int{400, 800},
		})
	}, ClientConfig{ConfidenceThreshold: 0.5, Track: true})

	detections, err := client.Detect(context.Background(), testFrame())
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(got.Image)
	require.NoError(t, err)
	assert.Equal(t, "fake jpeg data", string(data))
	require.NotNil(t, got.ConfidenceThreshold)
	assert.Equal(t, 0.5, *got.ConfidenceThreshold)
	assert.Equal(t, []string{"person"}, got.EnabledClasses)
	assert.True(t, got.Track)

	require.Len(t, detections, 2)

	// frame_shape from the service (800x400) wins over the frame's own size
	assert.Equal(t, "7", detections[0].ID)
	assert.InDelta(t, 0.125, detections[0].Box.MinX, 1e-9)
	assert.InDelta(t, 0.0, detections[0].Box.MinY, 1e-9)
	assert.InDelta(t, 0.25, detections[0].Box.Width, 1e-9)
	assert.InDelta(t, 0.75, detections[0].Box.Height, 1e-9)

	assert.Empty(t, detections[1].ID)
	assert.InDelta(t, 0.5, detections[1].Box.MinY, 1e-9)
}

func TestClient_Detect_UsesFrameSizeWithoutShape(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InferenceResponse{
			BoundingBoxes: []BoundingBox{{X1: 0, Y1: 0, X2: 640, Y2: 480, Confidence: 1, ClassName: "person"}},
		})
	}, ClientConfig{})

	detections, err := client.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.InDelta(t, 1.0, detections[0].Box.Width, 1e-9)
	assert.InDelta(t, 1.0, detections[0].Box.Height, 1e-9)

	frame := testFrame()
	frame.Width, frame.Height = 0, 0
	_, err = client.Detect(context.Background(), frame)
	assert.ErrorIs(t, err, ErrUnknownFrameSize)
}

func TestClient_Detect_NoFrame(t *testing.T) {
	client := NewClient(ClientConfig{ServiceURL: "http://127.0.0.1:1"}, logger.NewNopLogger())

	_, err := client.Detect(context.Background(), video.Frame{})
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestClient_Detect_ServerError(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	}, ClientConfig{})

	_, err := client.Detect(context.Background(), testFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_InferWithRetry(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(InferenceResponse{})
	}, ClientConfig{MaxRetries: 2, RetryDelay: time.Millisecond})

	_, err := client.InferWithRetry(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_InferWithRetry_Exhausted(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, ClientConfig{MaxRetries: 1, RetryDelay: time.Millisecond})

	_, err := client.InferWithRetry(context.Background(), testFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 retries")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Detect_ContextCancelled(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client disconnects; otherwise server.Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}, ClientConfig{MaxRetries: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Detect(ctx, testFrame())
	assert.Error(t, err)
}

func TestClient_HealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}, ClientConfig{})

	assert.NoError(t, client.HealthCheck(context.Background()))
	healthy.Store(false)
	assert.Error(t, client.HealthCheck(context.Background()))
}
