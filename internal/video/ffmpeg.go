package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/antonstocut/personseeker/internal/logger"
)

// FFmpegWrapper wraps the ffmpeg binary used to pull frames
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
	hwaccel    string // "" when decoding in software
}

// NewFFmpegWrapper locates ffmpeg and picks a hardware decoder if one works
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{logger: log, ffmpegPath: "ffmpeg"}

	path, err := detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = path
	wrapper.hwaccel = wrapper.detectHardwareDecoder()

	log.Info("FFmpeg wrapper initialized",
		"path", wrapper.ffmpegPath,
		"hwaccel", wrapper.hwaccel,
	)
	return wrapper, nil
}

func detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	for _, path := range paths {
		if err := exec.Command(path, "-version").Run(); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// detectHardwareDecoder asks ffmpeg which -hwaccel methods it was built with
// and prefers vaapi, then cuda.
func (f *FFmpegWrapper) detectHardwareDecoder() string {
	out, err := exec.Command(f.ffmpegPath, "-hide_banner", "-hwaccels").Output()
	if err != nil {
		return ""
	}
	return pickHWAccel(string(out))
}

func pickHWAccel(listing string) string {
	available := make(map[string]bool)
	for _, line := range strings.Split(listing, "\n") {
		available[strings.TrimSpace(line)] = true
	}
	for _, candidate := range []string{"vaapi", "cuda"} {
		if available[candidate] {
			return candidate
		}
	}
	return ""
}

// HWAccel returns the hardware decode method in use, "" for software
func (f *FFmpegWrapper) HWAccel() string {
	return f.hwaccel
}

// BuildCommand builds an FFmpeg command
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// SingleFrameArgs returns the arguments that pull one MJPEG frame from input
// to stdout.
func (f *FFmpegWrapper) SingleFrameArgs(input string, quality int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(input, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	if f.hwaccel != "" {
		args = append(args, "-hwaccel", f.hwaccel)
	}
	return append(args,
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprintf("%d", qscale(quality)),
		"-",
	)
}

// qscale maps a 1-100 JPEG quality onto ffmpeg's 2-31 mjpeg scale (lower is better).
func qscale(quality int) int {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	q := 31 - (quality*29)/100
	if q < 2 {
		q = 2
	}
	return q
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

// ValidateInput probes an input source (RTSP URL, device or file)
func (f *FFmpegWrapper) ValidateInput(ctx context.Context, input string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-probesize", "32",
		"-analyzeduration", "1000000",
		"-i", input,
		"-frames:v", "1",
		"-f", "null",
		"-",
	}
	output, err := f.BuildCommand(ctx, args).CombinedOutput()
	if err != nil {
		text := string(output)
		if strings.Contains(text, "Connection refused") ||
			strings.Contains(text, "No such file") ||
			strings.Contains(text, "Invalid data found") {
			return fmt.Errorf("invalid input: %s: %w", strings.TrimSpace(text), err)
		}
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}
