// Package compositor binds the live screen image of a capture grant to an
// encoder's writable surface.
package compositor

import (
	"fmt"
	"io"
	"sync"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
)

// DisplayName is the name given to the virtual display feeding the encoder.
const DisplayName = "ScreenRecorder"

// Binder is the part of a capture grant the sink needs.
type Binder interface {
	CreateVirtualDisplay(name string, geom display.Geometry, sink io.Writer) (grant.VirtualDisplay, error)
}

// Sink is a live binding between a grant and an encoder surface.
type Sink struct {
	geom display.Geometry

	mu       sync.Mutex
	vd       grant.VirtualDisplay
	released bool
}

// Bind creates the virtual display that streams frames into surface.
func Bind(b Binder, surface io.Writer, geom display.Geometry) (*Sink, error) {
	if surface == nil {
		return nil, fmt.Errorf("bind compositing sink: nil surface")
	}
	vd, err := b.CreateVirtualDisplay(DisplayName, geom, surface)
	if err != nil {
		return nil, fmt.Errorf("bind compositing sink: %w", err)
	}
	return &Sink{geom: geom, vd: vd}, nil
}

// Geometry returns the bound geometry.
func (s *Sink) Geometry() display.Geometry { return s.geom }

// releaseReporter is implemented by displays that can be released behind
// the sink's back, such as the tracked displays of a grant.
type releaseReporter interface {
	Released() bool
}

// Bound reports whether frames can still reach the surface: the sink has
// not been released and neither has its display.
func (s *Sink) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	if r, ok := s.vd.(releaseReporter); ok && r.Released() {
		return false
	}
	return true
}

// Release detaches the display. Releasing twice is a no-op.
func (s *Sink) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	vd := s.vd
	s.vd = nil
	s.mu.Unlock()

	return vd.Release()
}
