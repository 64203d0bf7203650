// Package encoder owns the video/audio encoder that compresses captured
// frames and microphone audio into an MPEG-4 file.
package encoder

import (
	"fmt"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

// Fixed encoding parameters.
const (
	FrameRate       = 30
	VideoBitrate    = 6_000_000
	AudioBitrate    = 128_000
	AudioSampleRate = 44100
	MimeType        = "video/mp4"
)

// Config is the immutable encoder configuration for one session.
type Config struct {
	Width           int
	Height          int
	DPI             int
	FrameRate       int
	VideoBitrate    int
	AudioBitrate    int
	AudioSampleRate int
}

// ConfigFor derives the session configuration from display geometry.
// Dimensions are rounded down to even values as required by 4:2:0 H.264.
func ConfigFor(g display.Geometry) Config {
	return Config{
		Width:           g.Width &^ 1,
		Height:          g.Height &^ 1,
		DPI:             g.DPI,
		FrameRate:       FrameRate,
		VideoBitrate:    VideoBitrate,
		AudioBitrate:    AudioBitrate,
		AudioSampleRate: AudioSampleRate,
	}
}

// Geometry returns the capture geometry matching the encoded frame size.
func (c Config) Geometry() display.Geometry {
	return display.Geometry{Width: c.Width, Height: c.Height, DPI: c.DPI}
}

// Validate rejects configurations no encoder can accept.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	case c.FrameRate <= 0:
		return fmt.Errorf("invalid frame rate %d", c.FrameRate)
	case c.VideoBitrate <= 0 || c.AudioBitrate <= 0:
		return fmt.Errorf("invalid bitrate video=%d audio=%d", c.VideoBitrate, c.AudioBitrate)
	case c.AudioSampleRate <= 0:
		return fmt.Errorf("invalid audio sample rate %d", c.AudioSampleRate)
	}
	return nil
}
