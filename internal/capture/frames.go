// Package capture provides screen capture projections for the grant package:
// an X11 screen grab driven by ffmpeg and a synthetic test pattern.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

// BytesPerPixel is the size of one BGRA pixel, the raw format written to sinks.
const BytesPerPixel = 4

// PixelFormat is the ffmpeg name of the raw frame format.
const PixelFormat = "bgra"

// FrameSize returns the size in bytes of one raw frame.
func FrameSize(g display.Geometry) int {
	return g.Width * g.Height * BytesPerPixel
}

// pumpFrames copies whole frames from r to w until ctx is cancelled or
// either side fails. Partial frames are never written.
func pumpFrames(ctx context.Context, r io.Reader, w io.Writer, frameSize int) (int64, error) {
	buf := make([]byte, frameSize)
	var frames int64
	for {
		select {
		case <-ctx.Done():
			return frames, nil
		default:
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return frames, io.EOF
			}
			return frames, fmt.Errorf("read frame: %w", err)
		}
		if _, err := w.Write(buf); err != nil {
			return frames, fmt.Errorf("write frame: %w", err)
		}
		frames++
	}
}
