package command

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
	"github.com/RenatoCabral2022/xrecorder/internal/session"
)

// Grants hands out acquired capture grants.
type Grants interface {
	Acquire(token string) (*grant.Grant, error)
}

// Recorder is the session controller surface the commands drive.
type Recorder interface {
	Start(ctx context.Context, g session.CaptureGrant, geom display.Geometry) error
	Stop() bool
	Status() session.Status
}

// GeometryFunc returns the geometry to record at when a start command does
// not name one.
type GeometryFunc func(ctx context.Context) display.Geometry

// RegisterRecorder wires the record.* commands to rec.
func RegisterRecorder(r *Router, grants Grants, rec Recorder, geometry GeometryFunc, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r.Register(TypeStart, func(ctx context.Context, requestID string, payload json.RawMessage) (*Envelope, error) {
		var cmd CommandStart
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		if cmd.GrantToken == "" {
			return nil, fmt.Errorf("%w: grantToken is required", ErrBadPayload)
		}

		g, err := grants.Acquire(cmd.GrantToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", session.ErrGrantUnavailable, err)
		}

		geom := geometry(ctx)
		if cmd.Geometry != nil {
			geom = *cmd.Geometry
		}

		before := rec.Status()
		if err := rec.Start(ctx, g, geom); err != nil {
			return nil, err
		}
		st := rec.Status()
		ev := EventStarted{State: st.State.String()}
		if before.State != session.Idle {
			ev.Ignored = true
			logger.Info("start ignored", zap.String("request", requestID), zap.Stringer("state", before.State))
		} else {
			ev.SessionID = st.SessionID
			ev.OutputID = st.OutputID
		}
		return Reply(TypeStarted, requestID, ev)
	})

	r.Register(TypeStop, func(ctx context.Context, requestID string, payload json.RawMessage) (*Envelope, error) {
		stopping := rec.Stop()
		return Reply(TypeStopped, requestID, EventStopped{
			Stopping: stopping,
			State:    rec.Status().State.String(),
		})
	})

	r.Register(TypeStatus, func(ctx context.Context, requestID string, payload json.RawMessage) (*Envelope, error) {
		return Reply(TypeStatus, requestID, StatusEvent(rec.Status()))
	})
}

// StatusEvent converts a controller status for the wire.
func StatusEvent(st session.Status) EventStatus {
	ev := EventStatus{
		State:     st.State.String(),
		SessionID: st.SessionID,
		OutputID:  st.OutputID,
	}
	if !st.StartedAt.IsZero() {
		ev.StartedAt = st.StartedAt.UnixMilli()
	}
	if st.LastError != nil {
		ev.LastError = st.LastError.Error()
	}
	return ev
}
