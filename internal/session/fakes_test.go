package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/encoder"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
	"github.com/RenatoCabral2022/xrecorder/internal/mainloop"
	"github.com/RenatoCabral2022/xrecorder/internal/session"
)

var errInjected = errors.New("injected failure")

// recorder collects the ordered resource events of one test and checks the
// lifecycle invariants as they happen.
type recorder struct {
	mu         sync.Mutex
	events     []string
	violations []string
	live       int
	encState   string
	slotClosed bool
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) violate(format string, args ...any) {
	r.mu.Lock()
	r.violations = append(r.violations, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

func (r *recorder) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Count returns how many times ev was recorded.
func (r *recorder) Count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *recorder) Has(ev string) bool {
	for _, e := range r.Events() {
		if e == ev {
			return true
		}
	}
	return false
}

// fakeProjection stands in for the platform capture primitive.
type fakeProjection struct {
	rec       *recorder
	createErr error
}

func (p *fakeProjection) CreateVirtualDisplay(name string, g display.Geometry, sink io.Writer) (grant.VirtualDisplay, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.rec.mu.Lock()
	if p.rec.encState != "prepared" && p.rec.encState != "writing" {
		p.rec.violations = append(p.rec.violations, "display created without a prepared encoder")
	}
	p.rec.live++
	p.rec.events = append(p.rec.events, "display.create")
	p.rec.mu.Unlock()
	return &fakeDisplay{rec: p.rec}, nil
}

func (p *fakeProjection) Stop() error {
	p.rec.add("projection.stop")
	return nil
}

type fakeDisplay struct {
	rec  *recorder
	once sync.Once
}

func (d *fakeDisplay) Release() error {
	d.once.Do(func() {
		d.rec.mu.Lock()
		d.rec.live--
		d.rec.events = append(d.rec.events, "display.release")
		d.rec.mu.Unlock()
	})
	return nil
}

// recordingGrant is a real grant that also logs owner-side calls.
type recordingGrant struct {
	*grant.Grant
	rec     *recorder
	stopErr error

	mu      sync.Mutex
	savedCb func()
}

func newGrant(rec *recorder, proj *fakeProjection) *recordingGrant {
	if proj == nil {
		proj = &fakeProjection{rec: rec}
	}
	return &recordingGrant{Grant: grant.New("token", proj, zap.NewNop()), rec: rec}
}

func (g *recordingGrant) RegisterCallback(cb func(), exec mainloop.Executor) error {
	g.rec.add("grant.register")
	g.mu.Lock()
	g.savedCb = cb
	g.mu.Unlock()
	return g.Grant.RegisterCallback(cb, exec)
}

// Callback returns the last registered revocation callback, even after it
// was unregistered.
func (g *recordingGrant) Callback() func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.savedCb
}

func (g *recordingGrant) UnregisterCallback() {
	g.rec.add("grant.unregister")
	g.Grant.UnregisterCallback()
}

func (g *recordingGrant) Stop() error {
	g.rec.add("grant.stop")
	if err := g.Grant.Stop(); err != nil {
		return err
	}
	return g.stopErr
}

// fakeEncoder follows the encoder pipeline state machine.
type fakeEncoder struct {
	rec *recorder

	prepareErr error
	surfaceErr error
	startErr   error
	stopErr    error
	releaseErr error
	stopPanic  bool
	stopGate   chan struct{}

	surfaceTaken bool
	stops        atomic.Int32
	releases     atomic.Int32
}

func (e *fakeEncoder) set(state string) {
	e.rec.mu.Lock()
	e.rec.encState = state
	e.rec.mu.Unlock()
}

func (e *fakeEncoder) Prepare(cfg encoder.Config, out *os.File) error {
	e.rec.add("encoder.prepare")
	if out == nil {
		e.rec.violate("prepare without output descriptor")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if e.prepareErr != nil {
		return e.prepareErr
	}
	e.set("prepared")
	return nil
}

func (e *fakeEncoder) Surface() (io.WriteCloser, error) {
	e.rec.add("encoder.surface")
	if e.surfaceErr != nil {
		return nil, e.surfaceErr
	}
	if e.surfaceTaken {
		return nil, encoder.ErrSurfaceUnavailable
	}
	e.surfaceTaken = true
	return &fakeSurface{rec: e.rec}, nil
}

func (e *fakeEncoder) Start() error {
	e.rec.add("encoder.start")
	if e.startErr != nil {
		return e.startErr
	}
	e.set("writing")
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.rec.add("encoder.stop")
	if e.stops.Add(1) > 1 {
		e.rec.violate("encoder stopped twice")
	}
	if e.stopGate != nil {
		<-e.stopGate
	}
	if n := e.rec.Live(); n != 0 {
		e.rec.violate("encoder stopped with %d live sink(s)", n)
	}
	e.set("stopped")
	if e.stopPanic {
		panic("encoder crashed")
	}
	return e.stopErr
}

func (e *fakeEncoder) Release() error {
	e.rec.add("encoder.release")
	if e.releases.Add(1) > 1 {
		e.rec.violate("encoder released twice")
	}
	if n := e.rec.Live(); n != 0 {
		e.rec.violate("encoder released with %d live sink(s)", n)
	}
	e.set("released")
	return e.releaseErr
}

type fakeSurface struct {
	rec *recorder
}

func (s *fakeSurface) Write(p []byte) (int, error) { return len(p), nil }

func (s *fakeSurface) Close() error {
	s.rec.add("surface.close")
	return nil
}

// fakeSlot is an output slot backed by a temp file.
type fakeSlot struct {
	rec        *recorder
	id         string
	file       *os.File
	publishErr error

	mu        sync.Mutex
	closed    bool
	publishes int
	visible   bool
	discarded bool
}

func (s *fakeSlot) ID() string            { return s.id }
func (s *fakeSlot) Descriptor() *os.File { return s.file }

func (s *fakeSlot) Close() error {
	s.rec.add("slot.close")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.rec.mu.Lock()
	s.rec.slotClosed = true
	s.rec.mu.Unlock()
	return s.file.Close()
}

func (s *fakeSlot) Publish(ctx context.Context) error {
	s.rec.add("slot.publish")
	s.rec.mu.Lock()
	state := s.rec.encState
	s.rec.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.rec.violate("published with open descriptor")
	}
	if state != "stopped" && state != "released" {
		s.rec.violate("published while encoder %s", state)
	}
	s.publishes++
	if s.publishes > 1 {
		s.rec.violate("slot %s published twice", s.id)
	}
	if s.publishErr != nil {
		return s.publishErr
	}
	s.visible = true
	return nil
}

func (s *fakeSlot) Discard(ctx context.Context) error {
	s.rec.add("slot.discard")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
	if !s.closed {
		s.closed = true
		return s.file.Close()
	}
	return nil
}

func (s *fakeSlot) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *fakeSlot) Discarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

type fakeStore struct {
	t         *testing.T
	rec       *recorder
	createErr error
	publish   error

	mu    sync.Mutex
	slots []*fakeSlot
	names []string
}

func (s *fakeStore) CreateSlot(ctx context.Context, displayName, mimeType string) (session.OutputSlot, error) {
	s.rec.add("slot.create")
	if s.createErr != nil {
		return nil, s.createErr
	}
	f, err := os.Create(filepath.Join(s.t.TempDir(), displayName))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := &fakeSlot{rec: s.rec, id: fmt.Sprintf("slot-%d", len(s.slots)+1), file: f, publishErr: s.publish}
	s.slots = append(s.slots, slot)
	s.names = append(s.names, displayName)
	return slot, nil
}

func (s *fakeStore) Last() *fakeSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.slots) == 0 {
		return nil
	}
	return s.slots[len(s.slots)-1]
}

func (s *fakeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// loopExecutor runs a real main loop and records whether a task is
// currently executing on it.
type loopExecutor struct {
	loop    *mainloop.Loop
	running atomic.Bool
}

func newLoopExecutor(t *testing.T) *loopExecutor {
	t.Helper()
	e := &loopExecutor{loop: mainloop.New()}
	go e.loop.Run(context.Background())
	t.Cleanup(func() {
		e.loop.Close()
		<-e.loop.Done()
	})
	return e
}

func (e *loopExecutor) Post(fn func()) bool {
	return e.loop.Post(func() {
		e.running.Store(true)
		defer e.running.Store(false)
		fn()
	})
}

// Sync waits until every task posted so far has run.
func (e *loopExecutor) Sync() {
	done := make(chan struct{})
	if e.loop.Post(func() { close(done) }) {
		<-done
	}
}

type announcement struct {
	active bool
	label  string
}

type fakeAnnouncer struct {
	rec  *recorder
	exec *loopExecutor

	mu    sync.Mutex
	calls []announcement
}

func (a *fakeAnnouncer) Announce(active bool, label string) {
	a.rec.add(fmt.Sprintf("announce(%t)", active))
	if a.exec != nil && !a.exec.running.Load() {
		a.rec.violate("announce %t outside the main loop", active)
	}
	a.mu.Lock()
	a.calls = append(a.calls, announcement{active, label})
	a.mu.Unlock()
}

func (a *fakeAnnouncer) Calls() []announcement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]announcement(nil), a.calls...)
}

// harness wires a controller to fakes.
type harness struct {
	rec       *recorder
	exec      *loopExecutor
	store     *fakeStore
	announcer *fakeAnnouncer
	encoders  []*fakeEncoder
	newEnc    func(*fakeEncoder)
	states    []session.State
	statesMu  sync.Mutex
	ctrl      *session.Controller
}

func newHarness(t *testing.T, opts ...session.Option) *harness {
	t.Helper()
	rec := &recorder{encState: "unconfigured"}
	exec := newLoopExecutor(t)
	h := &harness{
		rec:       rec,
		exec:      exec,
		store:     &fakeStore{t: t, rec: rec},
		announcer: &fakeAnnouncer{rec: rec, exec: exec},
	}
	opts = append([]session.Option{session.WithObserver(func(s session.State) {
		h.statesMu.Lock()
		h.states = append(h.states, s)
		h.statesMu.Unlock()
	})}, opts...)
	h.ctrl = session.NewController(exec, h.store, h.encoder, h.announcer, zap.NewNop(), opts...)
	return h
}

func (h *harness) encoder() session.Encoder {
	e := &fakeEncoder{rec: h.rec}
	if h.newEnc != nil {
		h.newEnc(e)
	}
	h.encoders = append(h.encoders, e)
	return e
}

func (h *harness) States() []session.State {
	h.statesMu.Lock()
	defer h.statesMu.Unlock()
	return append([]session.State(nil), h.states...)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.ctrl.WaitIdle(ctx); err != nil {
		t.Fatalf("controller did not become idle: %v (state %s)", err, h.ctrl.State())
	}
}

var geom = display.Geometry{Width: 1920, Height: 1080, DPI: 96}
