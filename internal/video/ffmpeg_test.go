package video

import (
	"context"
	"testing"

	"github.com/antonstocut/personseeker/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	t.Helper()
	ffmpeg, err := NewFFmpegWrapper(logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	if ffmpeg.ffmpegPath == "" {
		t.Error("FFmpeg path should be set")
	}
}

func TestFFmpegWrapper_GetVersion(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	version, err := ffmpeg.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFFmpegWrapper_ValidateInput_Missing(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	if err := ffmpeg.ValidateInput(context.Background(), "/nonexistent/input.mp4"); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestPickHWAccel(t *testing.T) {
	tests := []struct {
		listing string
		want    string
	}{
		{"Hardware acceleration methods:\nvdpau\ncuda\nvaapi\n", "vaapi"},
		{"Hardware acceleration methods:\ncuda\n", "cuda"},
		{"Hardware acceleration methods:\n", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := pickHWAccel(tt.listing); got != tt.want {
			t.Errorf("pickHWAccel(%q) = %q, want %q", tt.listing, got, tt.want)
		}
	}
}

func TestSingleFrameArgs(t *testing.T) {
	f := &FFmpegWrapper{ffmpegPath: "ffmpeg", hwaccel: "vaapi"}

	args := f.SingleFrameArgs("rtsp://cam/stream", 85)

	want := map[string]string{
		"-rtsp_transport": "tcp",
		"-hwaccel":        "vaapi",
		"-i":              "rtsp://cam/stream",
		"-frames:v":       "1",
		"-vcodec":         "mjpeg",
		"-q:v":            "7",
	}
	for i := 0; i < len(args)-1; i++ {
		if v, ok := want[args[i]]; ok {
			if args[i+1] != v {
				t.Errorf("%s = %q, want %q", args[i], args[i+1], v)
			}
			delete(want, args[i])
		}
	}
	for k := range want {
		t.Errorf("missing argument %s", k)
	}
	if args[len(args)-1] != "-" {
		t.Errorf("output should be stdout, got %q", args[len(args)-1])
	}
}

func TestSingleFrameArgs_FileInput(t *testing.T) {
	f := &FFmpegWrapper{ffmpegPath: "ffmpeg"}

	for _, a := range f.SingleFrameArgs("/tmp/clip.mp4", 85) {
		if a == "-rtsp_transport" || a == "-hwaccel" {
			t.Errorf("unexpected argument %s for software file decode", a)
		}
	}
}

func TestQScale(t *testing.T) {
	if got := qscale(100); got != 2 {
		t.Errorf("qscale(100) = %d, want 2", got)
	}
	if got := qscale(1); got != 31 {
		t.Errorf("qscale(1) = %d, want 31", got)
	}
	if got := qscale(0); got != qscale(85) {
		t.Errorf("qscale(0) should fall back to default quality")
	}
}
