package grant

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/mainloop"
)

type fakeDisplay struct {
	mu       sync.Mutex
	released int
}

func (d *fakeDisplay) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

type fakeProjection struct {
	mu       sync.Mutex
	displays []*fakeDisplay
	stops    int
	stopErr  error
}

func (p *fakeProjection) CreateVirtualDisplay(string, display.Geometry, io.Writer) (VirtualDisplay, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := &fakeDisplay{}
	p.displays = append(p.displays, d)
	return d, nil
}

func (p *fakeProjection) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return p.stopErr
}

var geom = display.Geometry{Width: 64, Height: 32, DPI: 96}

func TestRevokeDeliversCallbackOnceAndReleasesDisplays(t *testing.T) {
	proj := &fakeProjection{}
	g := New("tok", proj, nil)

	calls := 0
	require.NoError(t, g.RegisterCallback(func() { calls++ }, mainloop.Inline{}))

	vd, err := g.CreateVirtualDisplay("ScreenRecorder", geom, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 1, g.LiveDisplays())

	g.Revoke()
	g.Revoke()

	assert.Equal(t, 1, calls)
	assert.Equal(t, Revoked, g.Status())
	assert.Equal(t, 0, g.LiveDisplays())
	assert.Equal(t, 1, proj.displays[0].released)

	// Releasing through the handle after revocation does not release twice.
	require.NoError(t, vd.Release())
	assert.Equal(t, 1, proj.displays[0].released)
}

func TestRegisterOnRevokedGrantFails(t *testing.T) {
	g := New("tok", &fakeProjection{}, nil)
	g.Revoke()

	err := g.RegisterCallback(func() {}, mainloop.Inline{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = g.CreateVirtualDisplay("ScreenRecorder", geom, io.Discard)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStopIsIdempotentAndSilent(t *testing.T) {
	proj := &fakeProjection{}
	g := New("tok", proj, nil)

	calls := 0
	require.NoError(t, g.RegisterCallback(func() { calls++ }, mainloop.Inline{}))

	require.NoError(t, g.Stop())
	require.NoError(t, g.Stop())
	g.Revoke()

	assert.Equal(t, 0, calls, "owner-initiated stop must not call the revocation callback")
	assert.Equal(t, 1, proj.stops)
	assert.False(t, g.Active())
}

func TestStopReportsProjectionError(t *testing.T) {
	proj := &fakeProjection{stopErr: errors.New("binder died")}
	g := New("tok", proj, nil)
	assert.Error(t, g.Stop())
	assert.NoError(t, g.Stop())
}

func TestUnregisteredCallbackNotCalled(t *testing.T) {
	g := New("tok", &fakeProjection{}, nil)
	calls := 0
	require.NoError(t, g.RegisterCallback(func() { calls++ }, mainloop.Inline{}))
	g.UnregisterCallback()
	g.Revoke()
	assert.Equal(t, 0, calls)
}
