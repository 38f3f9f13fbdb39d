package video

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonstocut/personseeker/internal/logger"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func TestNewJPEGFrame(t *testing.T) {
	ts := time.Now()
	frame, err := NewJPEGFrame(testJPEG(t, 64, 48), ts)
	require.NoError(t, err)

	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)
	assert.Equal(t, ts, frame.Timestamp)
	assert.Nil(t, frame.Image)

	img, err := frame.Decoded()
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestNewJPEGFrame_Invalid(t *testing.T) {
	_, err := NewJPEGFrame(nil, time.Now())
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = NewJPEGFrame([]byte("not a jpeg"), time.Now())
	assert.Error(t, err)
}

func TestNewImageFrame(t *testing.T) {
	frame, err := NewImageFrame(testImage(32, 16), 90, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 32, frame.Width)
	assert.Equal(t, 16, frame.Height)
	assert.NotEmpty(t, frame.Data)
	assert.NotNil(t, frame.Image)

	_, err = NewImageFrame(nil, 90, time.Now())
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDepthMap(t *testing.T) {
	d := &DepthMap{
		Width:  2,
		Height: 2,
		Values: []float32{1.5, 0, float32(math.NaN()), -1},
	}
	require.NoError(t, d.Validate())

	v, ok := d.At(0, 0)
	assert.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-6)

	for _, p := range [][2]int{{1, 0}, {0, 1}, {1, 1}, {2, 0}, {-1, 0}} {
		_, ok := d.At(p[0], p[1])
		assert.False(t, ok, "cell %v", p)
	}

	var nilMap *DepthMap
	_, ok = nilMap.At(0, 0)
	assert.False(t, ok)
	assert.Error(t, nilMap.Validate())

	assert.Error(t, (&DepthMap{Width: 2, Height: 2, Values: []float32{1}}).Validate())
	assert.Error(t, (&DepthMap{Width: 0, Height: 2}).Validate())
}

func TestResizeImage(t *testing.T) {
	img := testImage(100, 50)

	out := resizeImage(img, 50, 0)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())

	out = resizeImage(img, 0, 0)
	assert.Same(t, img, out)
}

func TestFrameGrabber_DeliverDropsOldest(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	g := NewFrameGrabber(&FFmpegWrapper{ffmpegPath: "ffmpeg"}, FrameGrabberConfig{
		BufferSize: 2,
		OnFrame: func(f Frame) {
			mu.Lock()
			seen = append(seen, f.Width)
			mu.Unlock()
		},
	}, logger.NewNopLogger())

	for i := 1; i <= 3; i++ {
		g.deliver(Frame{Width: i})
	}

	assert.Equal(t, []int{1, 2, 3}, seen)
	first := <-g.Frames()
	second := <-g.Frames()
	assert.Equal(t, 2, first.Width)
	assert.Equal(t, 3, second.Width)
	assert.False(t, g.IsRunning())
	assert.Equal(t, 100*time.Millisecond, g.Interval())
}

func TestScreenGrabber_CaptureNow(t *testing.T) {
	g := NewScreenGrabber(func() (image.Image, error) {
		return testImage(20, 10), nil
	}, time.Second, 0, nil, logger.NewNopLogger())

	frame, err := g.CaptureNow()
	require.NoError(t, err)
	assert.Equal(t, 20, frame.Width)
	assert.Equal(t, 10, frame.Height)
}

func TestScreenGrabber_Loop(t *testing.T) {
	frames := make(chan Frame, 4)
	calls := 0
	g := NewScreenGrabber(func() (image.Image, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("display unavailable")
		}
		return testImage(8, 8), nil
	}, 5*time.Millisecond, 70, func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	}, logger.NewNopLogger())

	require.NoError(t, g.Start())
	assert.ErrorIs(t, g.Start(), ErrGrabberRunning)

	select {
	case f := <-frames:
		assert.Equal(t, 8, f.Width)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	g.Stop()
	g.Stop()
}
