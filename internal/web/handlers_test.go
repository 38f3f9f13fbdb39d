package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonstocut/personseeker/internal/geometry"
	"github.com/antonstocut/personseeker/internal/health"
	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/pipeline"
	"github.com/antonstocut/personseeker/internal/probe"
	"github.com/antonstocut/personseeker/internal/state"
	"github.com/antonstocut/personseeker/internal/telemetry"
	"github.com/antonstocut/personseeker/internal/video"
)

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

func frameFromJPEG(data []byte) (video.Frame, error) {
	return video.NewJPEGFrame(data, time.Now())
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type fakeHistory struct {
	mu     sync.Mutex
	frames []state.FrameRecord
	events []state.OverlayEvent
	saved  map[string]string
	err    error
	since  time.Time
	limit  int
}

func (f *fakeHistory) RecentFrames(ctx context.Context, limit int) ([]state.FrameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.frames, f.err
}

func (f *fakeHistory) OverlayEvents(ctx context.Context, since time.Time, limit int) ([]state.OverlayEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.events, f.err
}

func (f *fakeHistory) SaveSystemState(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[key] = value
	return nil
}

type fixedMetrics struct{ m *telemetry.Metrics }

func (f fixedMetrics) LastMetrics() *telemetry.Metrics { return f.m }

func TestHandleHealth_Default(t *testing.T) {
	env := setupTestServer(t, nil)
	w := serve(env.server, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestHandleHealth_UsesHealthManager(t *testing.T) {
	env := setupTestServer(t, nil)
	m := health.NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(health.NewPipelineChecker(env.pipeline))
	env.server.SetHealthManager(m)

	w := serve(env.server, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["checks"], "pipeline")

	w = serve(env.server, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStatus(t *testing.T) {
	env := setupTestServer(t, nil)
	env.server.SetVersion("1.2.3")
	env.server.SetTelemetryDependency(fixedMetrics{m: &telemetry.Metrics{Pipeline: pipeline.Stats{Applied: 4}}})

	w := serve(env.server, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.True(t, resp.Active)
	assert.Equal(t, pipeline.StrategyMulti, resp.Strategy)
	assert.Equal(t, geometry.Size{Width: 1000, Height: 1000}, resp.Viewport)
	assert.Equal(t, 0, resp.Snapshot.Count)
	assert.False(t, resp.Snapshot.Primary.Valid())
	assert.NotNil(t, resp.Metrics)
}

func TestHandleOverlays(t *testing.T) {
	env := setupTestServer(t, nil)
	w := serve(env.server, httptest.NewRequest(http.MethodGet, "/api/overlays", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["primary_distance"])
	assert.Equal(t, float64(0), body["count"])
}

func TestHandleSetViewport(t *testing.T) {
	env := setupTestServer(t, nil)
	hist := &fakeHistory{}
	env.server.SetHistory(hist)

	req := httptest.NewRequest(http.MethodPost, "/api/viewport", bytes.NewBufferString(`{"width":390,"height":844}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(env.server, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, geometry.Size{Width: 390, Height: 844}, env.pipeline.Viewport().Load())
	assert.JSONEq(t, `{"width":390,"height":844}`, hist.saved["viewport"])
}

func TestHandleSetViewport_Invalid(t *testing.T) {
	env := setupTestServer(t, nil)

	for _, body := range []string{`{"width":-1,"height":10}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/viewport", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := serve(env.server, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, geometry.Size{Width: 1000, Height: 1000}, env.pipeline.Viewport().Load())
}

func TestHandleDetectionToggle(t *testing.T) {
	env := setupTestServer(t, nil)

	w := serve(env.server, httptest.NewRequest(http.MethodPost, "/api/detection/pause", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, true, body["changed"])

	w = serve(env.server, httptest.NewRequest(http.MethodPost, "/api/detection/pause", nil))
	assert.Equal(t, false, decode(t, w)["changed"])

	w = serve(env.server, httptest.NewRequest(http.MethodPost, "/api/detection/start", nil))
	body = decode(t, w)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, true, body["changed"])
}

func TestHandleSubmitFrame_RawJPEG(t *testing.T) {
	env := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/frames", bytes.NewReader(jpegBytes(t, 32, 24)))
	req.Header.Set("Content-Type", "image/jpeg")
	w := serve(env.server, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(32), body["width"])
	assert.Equal(t, float64(24), body["height"])
	assert.Equal(t, uint64(1), env.pipeline.Stats().Submitted)
}

func TestHandleSubmitFrame_Rejections(t *testing.T) {
	env := setupTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/frames", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "image/jpeg")
	assert.Equal(t, http.StatusBadRequest, serve(env.server, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/frames", bytes.NewBufferString("not a jpeg"))
	req.Header.Set("Content-Type", "image/jpeg")
	assert.Equal(t, http.StatusBadRequest, serve(env.server, req).Code)

	env.pipeline.Pause()
	req = httptest.NewRequest(http.MethodPost, "/api/frames", bytes.NewReader(jpegBytes(t, 8, 8)))
	req.Header.Set("Content-Type", "image/jpeg")
	assert.Equal(t, http.StatusConflict, serve(env.server, req).Code)

	env.pipeline.Resume()
	require.NoError(t, env.pipeline.Stop(context.Background()))
	req = httptest.NewRequest(http.MethodPost, "/api/frames", bytes.NewReader(jpegBytes(t, 8, 8)))
	req.Header.Set("Content-Type", "image/jpeg")
	assert.Equal(t, http.StatusServiceUnavailable, serve(env.server, req).Code)
}

func multipartFrame(t *testing.T, jpg []byte, depth string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("frame", "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write(jpg)
	require.NoError(t, err)
	if depth != "" {
		require.NoError(t, mw.WriteField("depth", depth))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/frames", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleSubmitFrame_MultipartWithDepth(t *testing.T) {
	env := setupTestServer(t, nil)

	w := serve(env.server, multipartFrame(t, jpegBytes(t, 16, 16), `{"width":2,"height":1,"values":[1.5,2.5]}`))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(env.server, multipartFrame(t, jpegBytes(t, 16, 16), `{"width":2,"height":2,"values":[1.5]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(env.server, multipartFrame(t, jpegBytes(t, 16, 16), `{bad`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHistory(t *testing.T) {
	env := setupTestServer(t, nil)

	w := serve(env.server, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	hist := &fakeHistory{
		frames: []state.FrameRecord{{Sequence: 3, Count: 1, PrimaryDistance: probe.Meters(2)}},
		events: []state.OverlayEvent{{OverlayID: "a", Kind: state.OverlayAdded}},
	}
	env.server.SetHistory(hist)

	w = serve(env.server, httptest.NewRequest(http.MethodGet, "/api/history?limit=5000&since=2026-01-02T03:04:05Z", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, historyLimit, hist.limit)
	assert.True(t, hist.since.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	var body struct {
		Frames        []state.FrameRecord  `json:"frames"`
		OverlayEvents []state.OverlayEvent `json:"overlay_events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Frames, 1)
	assert.Equal(t, uint64(3), body.Frames[0].Sequence)
	require.Len(t, body.OverlayEvents, 1)

	w = serve(env.server, httptest.NewRequest(http.MethodGet, "/api/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(env.server, httptest.NewRequest(http.MethodGet, "/api/history?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	hist.err = errors.New("db closed")
	w = serve(env.server, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleMetrics(t *testing.T) {
	env := setupTestServer(t, nil)

	w := serve(env.server, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "pipeline")
	assert.NotContains(t, body, "telemetry")
}
