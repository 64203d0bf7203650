package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
	"github.com/RenatoCabral2022/xrecorder/internal/session"
)

func TestDispatchRoutesByType(t *testing.T) {
	r := NewRouter(nil)
	var got string
	r.Register("ping", func(ctx context.Context, requestID string, payload json.RawMessage) (*Envelope, error) {
		got = requestID
		return Reply("pong", requestID, map[string]string{"ok": "yes"})
	})

	raw, err := Encode("ping", "req-1", nil)
	require.NoError(t, err)

	reply, err := r.Dispatch(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got)
	assert.Equal(t, "pong", reply.Type)
	assert.Equal(t, "req-1", reply.RequestID)
	assert.JSONEq(t, `{"ok":"yes"}`, string(reply.Payload))
}

func TestDispatchErrors(t *testing.T) {
	r := NewRouter(nil)

	_, err := r.Dispatch(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = r.Dispatch(context.Background(), []byte(`{"type":"record.rewind"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

type nopProjection struct{}

func (nopProjection) CreateVirtualDisplay(string, display.Geometry, io.Writer) (grant.VirtualDisplay, error) {
	return nil, errors.New("not used")
}
func (nopProjection) Stop() error { return nil }

type fakeGrants struct {
	tokens map[string]bool
}

func (f *fakeGrants) Acquire(token string) (*grant.Grant, error) {
	if !f.tokens[token] {
		return nil, grant.ErrUnknownToken
	}
	delete(f.tokens, token)
	return grant.New(token, nopProjection{}, nil), nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	state    session.State
	startErr error
	geom     display.Geometry
	grants   []session.CaptureGrant
}

func (f *fakeRecorder) Start(ctx context.Context, g session.CaptureGrant, geom display.Geometry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, g)
	if f.startErr != nil {
		return f.startErr
	}
	if f.state != session.Idle {
		return nil
	}
	f.geom = geom
	f.state = session.Recording
	return nil
}

func (f *fakeRecorder) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.Recording {
		return false
	}
	f.state = session.Stopping
	return true
}

func (f *fakeRecorder) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := session.Status{State: f.state}
	if f.state != session.Idle {
		st.SessionID = "sess-1"
		st.OutputID = "out-1"
		st.StartedAt = time.UnixMilli(1000)
	}
	return st
}

func newRecorderRouter(rec *fakeRecorder, tokens ...string) *Router {
	grants := &fakeGrants{tokens: map[string]bool{}}
	for _, tok := range tokens {
		grants.tokens[tok] = true
	}
	r := NewRouter(nil)
	RegisterRecorder(r, grants, rec, func(context.Context) display.Geometry {
		return display.Geometry{Width: 1280, Height: 720, DPI: 96}
	}, nil)
	return r
}

func dispatch(t *testing.T, r *Router, msgType string, payload any) (*Envelope, error) {
	t.Helper()
	raw, err := Encode(msgType, "req", payload)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), raw)
}

func TestStartCommand(t *testing.T) {
	rec := &fakeRecorder{}
	r := newRecorderRouter(rec, "tok")

	reply, err := dispatch(t, r, TypeStart, CommandStart{GrantToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, TypeStarted, reply.Type)

	var ev EventStarted
	require.NoError(t, json.Unmarshal(reply.Payload, &ev))
	assert.Equal(t, EventStarted{SessionID: "sess-1", OutputID: "out-1", State: "recording"}, ev)
	assert.Equal(t, display.Geometry{Width: 1280, Height: 720, DPI: 96}, rec.geom)
}

func TestStartCommandExplicitGeometry(t *testing.T) {
	rec := &fakeRecorder{}
	r := newRecorderRouter(rec, "tok")

	geom := display.Geometry{Width: 800, Height: 600, DPI: 120}
	_, err := dispatch(t, r, TypeStart, CommandStart{GrantToken: "tok", Geometry: &geom})
	require.NoError(t, err)
	assert.Equal(t, geom, rec.geom)
}

func TestStartCommandIgnoredWhileRecording(t *testing.T) {
	rec := &fakeRecorder{state: session.Recording}
	r := newRecorderRouter(rec, "tok")

	reply, err := dispatch(t, r, TypeStart, CommandStart{GrantToken: "tok"})
	require.NoError(t, err)

	var ev EventStarted
	require.NoError(t, json.Unmarshal(reply.Payload, &ev))
	assert.True(t, ev.Ignored)
	assert.Empty(t, ev.SessionID)
}

func TestStartCommandErrors(t *testing.T) {
	rec := &fakeRecorder{}
	r := newRecorderRouter(rec, "tok")

	_, err := dispatch(t, r, TypeStart, CommandStart{})
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = dispatch(t, r, TypeStart, CommandStart{GrantToken: "other"})
	assert.ErrorIs(t, err, session.ErrGrantUnavailable)
	assert.ErrorIs(t, err, grant.ErrUnknownToken)

	rec.startErr = session.ErrEncoderStartFailed
	_, err = dispatch(t, r, TypeStart, CommandStart{GrantToken: "tok"})
	assert.ErrorIs(t, err, session.ErrEncoderStartFailed)
	assert.Len(t, rec.grants, 1)

	// consent tokens are single use
	rec.startErr = nil
	_, err = dispatch(t, r, TypeStart, CommandStart{GrantToken: "tok"})
	assert.ErrorIs(t, err, session.ErrGrantUnavailable)
}

func TestStopAndStatusCommands(t *testing.T) {
	rec := &fakeRecorder{state: session.Recording}
	r := newRecorderRouter(rec)

	reply, err := dispatch(t, r, TypeStatus, nil)
	require.NoError(t, err)
	var st EventStatus
	require.NoError(t, json.Unmarshal(reply.Payload, &st))
	assert.Equal(t, EventStatus{State: "recording", SessionID: "sess-1", OutputID: "out-1", StartedAt: 1000}, st)

	reply, err = dispatch(t, r, TypeStop, nil)
	require.NoError(t, err)
	var ev EventStopped
	require.NoError(t, json.Unmarshal(reply.Payload, &ev))
	assert.Equal(t, EventStopped{Stopping: true, State: "stopping"}, ev)

	reply, err = dispatch(t, r, TypeStop, nil)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reply.Payload, &ev))
	assert.False(t, ev.Stopping)
}
