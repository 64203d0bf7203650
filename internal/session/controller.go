// Package session runs the recording session lifecycle. A Controller
// acquires the output slot, encoder and compositing sink for a capture
// grant in order, keeps them wired while the grant may be revoked, and
// tears them down in reverse order off the caller's goroutine so the
// output file is always finalized last.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/compositor"
	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/encoder"
	"github.com/RenatoCabral2022/xrecorder/internal/mainloop"
	"github.com/RenatoCabral2022/xrecorder/internal/metrics"
)

// Announcer labels.
const (
	LabelRecording = "Recording screen…"
	LabelSaved     = "Recording saved"
	LabelRevoked   = "Screen capture permission revoked"
	LabelNotSaved  = "Recording could not be saved"
)

const (
	fileTimeLayout = "20060102_150405"
	shutdownPoll   = 20 * time.Millisecond
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State
	SessionID string
	StartedAt time.Time
	OutputID  string
	LastError error
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers fn to be called on every state transition. fn runs
// with the controller's lock held and must not call back into it.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the single recording state machine of the process.
type Controller struct {
	log        *zap.Logger
	exec       mainloop.Executor
	slots      SlotStore
	newEncoder EncoderFactory
	announcer  Announcer
	now        func() time.Time
	observer   func(State)
	afterStep  func(startStep)

	mu            sync.Mutex
	state         State
	gen           uint64
	res           *resources
	stopRequested bool
	sessionID     string
	startedAt     time.Time
	outputID      string
	lastErr       error
	idle          chan struct{}
}

// resources are owned by exactly one of Start, the controller, or the
// teardown worker at any time.
type resources struct {
	gen        uint64
	log        *zap.Logger
	grant      CaptureGrant
	slot       OutputSlot
	enc        Encoder
	surface    io.WriteCloser
	sink       *compositor.Sink
	encStarted bool
}

// startStep numbers the acquisition steps of Start.
type startStep int

const (
	stepSlotCreated startStep = iota + 2
	stepEncoderPrepared
	stepSurfaceTaken
	stepCallbackRegistered
	stepSinkBound
	stepEncoderStarted
)

// NewController creates an idle controller. Revocation callbacks and
// announcer changes run on exec.
func NewController(exec mainloop.Executor, slots SlotStore, newEncoder EncoderFactory, announcer Announcer, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	c := &Controller{
		log:        logger,
		exec:       exec,
		slots:      slots,
		newEncoder: newEncoder,
		announcer:  announcer,
		now:        time.Now,
		idle:       idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current state with details of the latest session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		SessionID: c.sessionID,
		StartedAt: c.startedAt,
		OutputID:  c.outputID,
		LastError: c.lastErr,
	}
}

// Start begins recording under g at the given geometry.
//
// If a session is already in progress the call is ignored whatever the
// state of g: g is stopped, a Recording session is stopped as well, and nil
// is returned. Otherwise a nil or revoked g fails with ErrGrantUnavailable
// before anything is acquired. On any failure everything acquired so far is
// released, the output entry is discarded, and the controller is Idle again
// when Start returns.
func (c *Controller) Start(ctx context.Context, g CaptureGrant, geom display.Geometry) error {
	active := g != nil && g.Active()

	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		var stale *resources
		if state == Recording {
			stale = c.beginStopLocked()
		}
		c.mu.Unlock()

		metrics.StartIgnoredTotal.Inc()
		c.log.Warn("start ignored: session in progress", zap.Stringer("state", state))
		if stale != nil {
			go c.finish(stale, LabelSaved)
		}
		if g != nil {
			if err := g.Stop(); err != nil {
				c.log.Warn("stop unused grant", zap.Error(err))
			}
		}
		return nil
	}
	if !active {
		c.mu.Unlock()
		metrics.StartFailuresTotal.WithLabelValues("grant_unavailable").Inc()
		if g != nil {
			_ = g.Stop()
		}
		return fmt.Errorf("%w: missing or revoked", ErrGrantUnavailable)
	}
	c.gen++
	gen := c.gen
	id := uuid.NewString()
	c.stopRequested = false
	c.sessionID = id
	c.startedAt = time.Time{}
	c.outputID = ""
	c.idle = make(chan struct{})
	c.setStateLocked(Starting)
	c.mu.Unlock()

	res := &resources{
		gen:   gen,
		grant: g,
		log:   c.log.With(zap.String("session", id), zap.String("grant", g.Token())),
	}
	cfg := encoder.ConfigFor(geom)
	res.log.Info("session starting", zap.Stringer("geometry", cfg.Geometry()))

	if reason, err := c.acquire(ctx, res, cfg); err != nil {
		return c.abortStart(res, reason, err)
	}

	c.mu.Lock()
	if c.stopRequested || !g.Active() {
		c.mu.Unlock()
		return c.abortStart(res, "grant_unavailable", fmt.Errorf("%w: revoked while starting", ErrGrantUnavailable))
	}
	c.res = res
	c.startedAt = c.now()
	c.outputID = res.slot.ID()
	c.setStateLocked(Recording)
	// Posted under the lock so a teardown cannot announce ahead of it.
	if !c.exec.Post(func() { c.announcer.Announce(true, LabelRecording) }) {
		res.log.Warn("announce dropped: main loop closed")
	}
	c.mu.Unlock()

	metrics.SessionsStartedTotal.Inc()
	metrics.SessionActive.Set(1)
	res.log.Info("recording", zap.String("output", res.slot.ID()))
	return nil
}

// acquire runs the acquisition steps in order. On failure it returns the
// metric reason and the wrapped error; res holds whatever was acquired.
func (c *Controller) acquire(ctx context.Context, res *resources, cfg encoder.Config) (string, error) {
	name := fmt.Sprintf("recording_%s.mp4", c.now().Format(fileTimeLayout))
	slot, err := c.slots.CreateSlot(ctx, name, encoder.MimeType)
	if err != nil {
		return "slot_create", wrap(ErrOutputSlotCreateFailed, err)
	}
	res.slot = slot
	c.hook(stepSlotCreated)

	res.enc = c.newEncoder()
	if err := res.enc.Prepare(cfg, slot.Descriptor()); err != nil {
		return "encoder_prepare", wrap(ErrEncoderPrepareFailed, err)
	}
	c.hook(stepEncoderPrepared)

	surface, err := res.enc.Surface()
	if err != nil {
		return "encoder_prepare", wrap(ErrEncoderPrepareFailed, err)
	}
	res.surface = surface
	c.hook(stepSurfaceTaken)

	gen := res.gen
	if err := res.grant.RegisterCallback(func() { c.onRevoked(gen) }, c.exec); err != nil {
		return "grant_unavailable", wrap(ErrGrantUnavailable, err)
	}
	c.hook(stepCallbackRegistered)

	sink, err := compositor.Bind(res.grant, surface, cfg.Geometry())
	if err != nil {
		if !res.grant.Active() {
			return "grant_unavailable", wrap(ErrGrantUnavailable, err)
		}
		return "sink_bind", wrap(ErrSinkBindFailed, err)
	}
	res.sink = sink
	c.hook(stepSinkBound)

	if err := res.enc.Start(); err != nil {
		return "encoder_start", wrap(ErrEncoderStartFailed, err)
	}
	res.encStarted = true
	c.hook(stepEncoderStarted)
	return "", nil
}

func (c *Controller) hook(s startStep) {
	if c.afterStep != nil {
		c.afterStep(s)
	}
}

// abortStart rolls back a failed start synchronously and returns err.
func (c *Controller) abortStart(res *resources, reason string, err error) error {
	metrics.StartFailuresTotal.WithLabelValues(reason).Inc()
	res.log.Warn("session start failed", zap.Error(err))

	if terr := c.teardown(res, false); terr != nil {
		res.log.Warn("rollback incomplete", zap.Error(terr))
	}

	c.mu.Lock()
	c.lastErr = err
	c.setIdleLocked()
	c.mu.Unlock()
	return err
}

// Stop ends the current recording. It only acts in Recording and returns
// before teardown completes; use WaitIdle to wait for the output to be
// finalized. It reports whether a stop was initiated.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if c.state != Recording {
		state := c.state
		c.mu.Unlock()
		c.log.Debug("stop ignored", zap.Stringer("state", state))
		return false
	}
	res := c.beginStopLocked()
	c.mu.Unlock()

	go c.finish(res, LabelSaved)
	return true
}

// WaitIdle blocks until the controller is Idle or ctx is done.
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops any recording and waits for its output to be finalized.
// A session that is still starting is waited for as well.
func (c *Controller) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for {
		c.Stop()
		c.mu.Lock()
		state, idle := c.state, c.idle
		c.mu.Unlock()
		if state == Idle {
			return nil
		}
		// A starting session only becomes stoppable once it is Recording.
		select {
		case <-idle:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// onRevoked runs on the main loop when the grant of session gen is revoked.
func (c *Controller) onRevoked(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug("stale revocation ignored", zap.Uint64("generation", gen))
		return
	}
	switch c.state {
	case Starting:
		c.stopRequested = true
		c.mu.Unlock()
		metrics.RevocationsTotal.Inc()
		c.log.Info("capture revoked while starting")
	case Recording:
		res := c.beginStopLocked()
		c.mu.Unlock()
		metrics.RevocationsTotal.Inc()
		res.log.Info("capture revoked; stopping")
		go c.finish(res, LabelRevoked)
	default:
		c.mu.Unlock()
	}
}

func (c *Controller) beginStopLocked() *resources {
	res := c.res
	c.res = nil
	c.setStateLocked(Stopping)
	return res
}

// finish is the teardown worker for a session that reached Recording.
func (c *Controller) finish(res *resources, label string) {
	began := time.Now()
	c.mu.Lock()
	startedAt := c.startedAt
	c.mu.Unlock()

	res.log.Info("session stopping", zap.String("reason", label))
	if err := c.teardown(res, true); err != nil {
		res.log.Warn("teardown completed with errors", zap.Error(err))
		if errors.Is(err, ErrFinalizeFailed) {
			label = LabelNotSaved
		}
	}

	metrics.TeardownLatency.Observe(float64(time.Since(began).Milliseconds()))
	if !startedAt.IsZero() {
		metrics.SessionDuration.Observe(c.now().Sub(startedAt).Seconds())
	}
	metrics.SessionActive.Set(0)

	done := func() {
		c.announcer.Announce(false, label)
		c.mu.Lock()
		if res.gen == c.gen {
			c.setIdleLocked()
		}
		c.mu.Unlock()
		res.log.Info("session idle")
	}
	if !c.exec.Post(done) {
		res.log.Warn("main loop closed; finishing on teardown worker")
		done()
	}
}

// teardown releases res in reverse acquisition order. Every step runs even
// if an earlier one fails. With publish set the output entry is made
// visible last; otherwise it is discarded. Only a publish failure is
// recorded on the controller.
func (c *Controller) teardown(res *resources, publish bool) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"release_sink", func() error {
			if res.sink == nil {
				return nil
			}
			return res.sink.Release()
		}},
		{"stop_encoder", func() error {
			if res.enc == nil || !res.encStarted {
				return nil
			}
			return res.enc.Stop()
		}},
		{"release_encoder", func() error {
			if res.enc == nil {
				return nil
			}
			return res.enc.Release()
		}},
		{"close_surface", func() error {
			if res.surface == nil {
				return nil
			}
			return res.surface.Close()
		}},
		{"stop_grant", func() error {
			res.grant.UnregisterCallback()
			return res.grant.Stop()
		}},
		{"close_slot", func() error {
			if res.slot == nil {
				return nil
			}
			return res.slot.Close()
		}},
	}

	var errs error
	for _, s := range steps {
		if err := safeCall(s.fn); err != nil {
			errs = multierr.Append(errs, c.stepFailed(res, s.name, err))
		}
	}

	if res.slot == nil {
		return errs
	}
	if !publish {
		if err := safeCall(func() error { return res.slot.Discard(context.Background()) }); err != nil {
			errs = multierr.Append(errs, c.stepFailed(res, "discard_slot", err))
		}
		return errs
	}

	if err := safeCall(func() error { return res.slot.Publish(context.Background()) }); err != nil {
		ferr := wrap(ErrFinalizeFailed, err)
		metrics.FinalizeFailuresTotal.Inc()
		res.log.Error("recording not finalized", zap.String("output", res.slot.ID()), zap.Error(ferr))
		c.mu.Lock()
		if res.gen == c.gen {
			c.lastErr = ferr
		}
		c.mu.Unlock()
		errs = multierr.Append(errs, ferr)
		return errs
	}
	res.log.Info("recording finalized", zap.String("output", res.slot.ID()))
	return errs
}

func (c *Controller) stepFailed(res *resources, step string, err error) error {
	metrics.TeardownStepFailuresTotal.WithLabelValues(step).Inc()
	res.log.Warn("teardown step failed", zap.String("step", step), zap.Error(err))
	return &StepError{Step: step, Err: err}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	if c.observer != nil {
		c.observer(s)
	}
}

func (c *Controller) setIdleLocked() {
	c.setStateLocked(Idle)
	select {
	case <-c.idle:
	default:
		close(c.idle)
	}
}
