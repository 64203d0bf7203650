package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

var small = display.Geometry{Width: 32, Height: 8, DPI: 96}

func TestPatternFrameFillsEveryPixel(t *testing.T) {
	buf := make([]byte, FrameSize(small))
	PatternFrame(small, 30, 0, buf)

	for i := 3; i < len(buf); i += BytesPerPixel {
		require.Equal(t, byte(0xFF), buf[i], "alpha at %d", i)
	}
	// The bar starts at x=0 on frame 0.
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, buf[:4])

	next := make([]byte, len(buf))
	PatternFrame(small, 30, 15, next)
	assert.False(t, bytes.Equal(buf, next), "pattern must change over time")
}

func TestPumpFramesWritesWholeFrames(t *testing.T) {
	frame := FrameSize(small)
	src := bytes.NewReader(make([]byte, frame*3+frame/2))
	var dst bytes.Buffer

	frames, err := pumpFrames(context.Background(), src, &dst, frame)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int64(3), frames)
	assert.Equal(t, frame*3, dst.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPumpFramesReportsWriteFailure(t *testing.T) {
	frame := FrameSize(small)
	_, err := pumpFrames(context.Background(), bytes.NewReader(make([]byte, frame)), failingWriter{}, frame)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "write frame"))
}

type syncBuffer struct {
	mu sync.Mutex
	n  int
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.n += len(p)
	b.mu.Unlock()
	return len(p), nil
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func TestPatternProjectionStreamsUntilReleased(t *testing.T) {
	p := NewPattern(100, nil, nil)
	sink := &syncBuffer{}

	vd, err := p.CreateVirtualDisplay("ScreenRecorder", small, sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.Len() >= 2*FrameSize(small) }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sink.Len()%FrameSize(small))

	require.NoError(t, vd.Release())
	require.NoError(t, vd.Release())
	<-vd.(*patternDisplay).done

	stopped := sink.Len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, sink.Len())
	require.NoError(t, p.Stop())
}

func TestPatternProjectionRevokesOnSinkFailure(t *testing.T) {
	var revoked atomic.Bool
	p := NewPattern(100, func() { revoked.Store(true) }, nil)

	_, err := p.CreateVirtualDisplay("ScreenRecorder", small, failingWriter{})
	require.NoError(t, err)

	require.Eventually(t, revoked.Load, 2*time.Second, 10*time.Millisecond)
}

func TestX11GrabArgs(t *testing.T) {
	p := NewX11(X11Options{Display: ":1.0", FrameRate: 30, DrawMouse: true}, nil, nil)
	args := strings.Join(p.grabArgs(display.Geometry{Width: 1920, Height: 1080, DPI: 96}), " ")

	assert.Contains(t, args, "-f x11grab")
	assert.Contains(t, args, "-draw_mouse 1")
	assert.Contains(t, args, "-framerate 30")
	assert.Contains(t, args, "-video_size 1920x1080")
	assert.Contains(t, args, "-i :1.0")
	assert.Contains(t, args, "-pix_fmt bgra pipe:1")
}
