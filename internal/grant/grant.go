// Package grant models the single-use authorization that permits screen
// capture for one recording session.
package grant

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/mainloop"
	"github.com/RenatoCabral2022/xrecorder/internal/metrics"
)

var (
	// ErrUnavailable is returned when a grant is missing, denied, consumed or revoked.
	ErrUnavailable = errors.New("capture grant unavailable")
	// ErrUnknownToken is returned for consent tokens the broker never issued.
	ErrUnknownToken = errors.New("unknown consent token")
)

// Status is the validity of a grant.
type Status int

const (
	Active Status = iota
	Revoked
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Revoked:
		return "revoked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// VirtualDisplay mirrors the screen into a sink until released.
type VirtualDisplay interface {
	Release() error
}

// Projection is the platform capture primitive behind a grant.
type Projection interface {
	// CreateVirtualDisplay starts writing raw frames of the given geometry into sink.
	CreateVirtualDisplay(name string, geom display.Geometry, sink io.Writer) (VirtualDisplay, error)
	// Stop ends the projection and frees platform resources.
	Stop() error
}

// Grant is a capture authorization owned by one session. The platform may
// revoke it at any time through Revoke; the owner ends it with Stop.
type Grant struct {
	token string
	proj  Projection
	log   *zap.Logger

	mu          sync.Mutex
	status      Status
	callback    func()
	exec        mainloop.Executor
	displays    map[*trackedDisplay]struct{}
	projStopped bool
}

// New wraps an already-authorized projection.
func New(token string, proj Projection, logger *zap.Logger) *Grant {
	g := newGrant(token, logger)
	g.proj = proj
	return g
}

func newGrant(token string, logger *zap.Logger) *Grant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grant{
		token:    token,
		log:      logger.With(zap.String("grant", token)),
		status:   Active,
		displays: make(map[*trackedDisplay]struct{}),
	}
}

// Token returns the consent token this grant was issued for.
func (g *Grant) Token() string { return g.token }

// Status returns the current validity.
func (g *Grant) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Active reports whether the grant still authorizes capture. A nil grant
// is never active.
func (g *Grant) Active() bool { return g != nil && g.Status() == Active }

// RegisterCallback arranges for cb to run on exec when the platform revokes
// the grant. It fails if the grant is already revoked, so a revocation that
// races registration is reported instead of lost.
func (g *Grant) RegisterCallback(cb func(), exec mainloop.Executor) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != Active {
		return ErrUnavailable
	}
	g.callback = cb
	g.exec = exec
	return nil
}

// UnregisterCallback drops the revocation callback. Safe to call repeatedly.
func (g *Grant) UnregisterCallback() {
	g.mu.Lock()
	g.callback = nil
	g.exec = nil
	g.mu.Unlock()
}

// Revoke is invoked by the platform when capture permission is withdrawn.
// Every virtual display created through the grant is released and the
// registered callback, if any, is posted exactly once.
func (g *Grant) Revoke() {
	g.mu.Lock()
	if g.status == Revoked {
		g.mu.Unlock()
		return
	}
	g.status = Revoked
	cb, exec := g.callback, g.exec
	g.callback, g.exec = nil, nil
	displays := g.takeDisplaysLocked()
	g.mu.Unlock()

	g.log.Info("capture grant revoked")
	releaseAll(displays, g.log)

	if cb != nil && exec != nil {
		if !exec.Post(cb) {
			g.log.Warn("revocation callback dropped: executor closed")
		}
	}
}

// Stop ends the grant from the owner's side. The revocation callback is not
// invoked. Calling Stop on an already stopped grant is a no-op.
func (g *Grant) Stop() error {
	g.mu.Lock()
	g.status = Revoked
	g.callback, g.exec = nil, nil
	displays := g.takeDisplaysLocked()
	stopProj := !g.projStopped && g.proj != nil
	g.projStopped = true
	g.mu.Unlock()

	releaseAll(displays, g.log)
	if !stopProj {
		return nil
	}
	if err := g.proj.Stop(); err != nil {
		return fmt.Errorf("stop projection: %w", err)
	}
	return nil
}

// CreateVirtualDisplay binds the live screen to sink. The returned display is
// released automatically when the grant is revoked or stopped.
func (g *Grant) CreateVirtualDisplay(name string, geom display.Geometry, sink io.Writer) (VirtualDisplay, error) {
	if !g.Active() {
		return nil, ErrUnavailable
	}

	vd, err := g.proj.CreateVirtualDisplay(name, geom, sink)
	if err != nil {
		return nil, err
	}

	td := &trackedDisplay{grant: g, inner: vd}
	g.mu.Lock()
	if g.status != Active {
		g.mu.Unlock()
		_ = vd.Release()
		return nil, ErrUnavailable
	}
	g.displays[td] = struct{}{}
	g.mu.Unlock()
	metrics.LiveDisplays.Inc()
	return td, nil
}

// LiveDisplays returns how many virtual displays are currently bound.
func (g *Grant) LiveDisplays() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.displays)
}

func (g *Grant) takeDisplaysLocked() []*trackedDisplay {
	out := make([]*trackedDisplay, 0, len(g.displays))
	for d := range g.displays {
		out = append(out, d)
	}
	g.displays = make(map[*trackedDisplay]struct{})
	return out
}

func releaseAll(displays []*trackedDisplay, log *zap.Logger) {
	for _, d := range displays {
		if err := d.release(); err != nil {
			log.Warn("release virtual display", zap.Error(err))
		}
	}
}

type trackedDisplay struct {
	grant    *Grant
	inner    VirtualDisplay
	once     sync.Once
	err      error
	released atomic.Bool
}

func (d *trackedDisplay) Release() error {
	d.grant.mu.Lock()
	delete(d.grant.displays, d)
	d.grant.mu.Unlock()
	return d.release()
}

// Released reports whether the display was released, by its owner or
// because the grant ended.
func (d *trackedDisplay) Released() bool { return d.released.Load() }

func (d *trackedDisplay) release() error {
	d.once.Do(func() {
		d.released.Store(true)
		d.err = d.inner.Release()
		metrics.LiveDisplays.Dec()
	})
	return d.err
}
