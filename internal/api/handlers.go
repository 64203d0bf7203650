// Package api serves the local HTTP control surface of the recorder daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/announce"
	"github.com/RenatoCabral2022/xrecorder/internal/command"
	"github.com/RenatoCabral2022/xrecorder/internal/grant"
	"github.com/RenatoCabral2022/xrecorder/internal/mediastore"
	"github.com/RenatoCabral2022/xrecorder/internal/session"
)

const maxCommandBytes = 64 << 10

// Grants is the consent side of the grant broker.
type Grants interface {
	Request() string
	Resolve(token string, granted bool) error
	Revoke(token string) error
	State(token string) (grant.RequestState, error)
}

// Recordings lists the media collection.
type Recordings interface {
	List(ctx context.Context, opts mediastore.ListOptions) ([]mediastore.Entry, error)
	Get(ctx context.Context, id string) (mediastore.Entry, error)
	Path(e mediastore.Entry) string
}

// Recorder reports the session state.
type Recorder interface {
	Status() session.Status
}

// Dispatcher executes control messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) (*command.Envelope, error)
}

// Announcements exposes what the user is shown and the stop action.
type Announcements interface {
	Current() announce.Snapshot
	RequestStop() bool
	Subscribe() (<-chan announce.Snapshot, func())
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Grants        Grants
	Recordings    Recordings
	Recorder      Recorder
	Commands      Dispatcher
	Announcements Announcements
	Logger        *zap.Logger
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateGrant handles POST /v1/grants. It opens a consent request that the
// user answers through ResolveGrant.
func (h *Handlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	token := h.Grants.Request()
	writeJSON(w, http.StatusCreated, CreateGrantResponse{Token: token, State: string(grant.RequestPending)})
}

// GetGrant handles GET /v1/grants/{token}.
func (h *Handlers) GetGrant(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	state, err := h.Grants.State(token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GrantStateResponse{Token: token, State: string(state)})
}

// ResolveGrant handles POST /v1/grants/{token}/resolve.
func (h *Handlers) ResolveGrant(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req ResolveGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := h.Grants.Resolve(token, req.Granted); err != nil {
		h.fail(w, r, err)
		return
	}
	state, _ := h.Grants.State(token)
	writeJSON(w, http.StatusOK, GrantStateResponse{Token: token, State: string(state)})
}

// RevokeGrant handles POST /v1/grants/{token}/revoke, the system side
// withdrawing capture permission.
func (h *Handlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.Grants.Revoke(token); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostCommand handles POST /v1/commands with a command envelope body.
func (h *Handlers) PostCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "read body failed")
		return
	}
	reply, err := h.Commands.Dispatch(r.Context(), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reply.RequestID == "" {
		reply.RequestID = RequestIDFrom(r.Context())
	}
	writeJSON(w, http.StatusOK, reply)
}

// GetSession handles GET /v1/session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	st := h.Recorder.Status()
	resp := SessionResponse{
		State:     st.State.String(),
		SessionID: st.SessionID,
		OutputID:  st.OutputID,
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt
		resp.StartedAt = &t
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	if h.Announcements != nil {
		snap := h.Announcements.Current()
		resp.Label = snap.Label
		resp.Announced = snap.Active
	}
	writeJSON(w, http.StatusOK, resp)
}

// StopFromAnnouncement handles POST /v1/session/stop, the stop action
// attached to the recording announcement.
func (h *Handlers) StopFromAnnouncement(w http.ResponseWriter, r *http.Request) {
	if h.Announcements == nil || !h.Announcements.RequestStop() {
		writeError(w, http.StatusConflict, "not_recording", "no recording is announced")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SessionEvents handles GET /v1/session/events. It streams the current
// announcement and every later change as server-sent events until the
// client goes away.
func (h *Handlers) SessionEvents(w http.ResponseWriter, r *http.Request) {
	if h.Announcements == nil {
		writeError(w, http.StatusNotFound, "not_found", "announcements unavailable")
		return
	}
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	ch, cancel := h.Announcements.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(snap announce.Snapshot) bool {
		data, err := json.Marshal(snap)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: announce\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(h.Announcements.Current()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-ch:
			if !send(snap) {
				return
			}
		}
	}
}

// ListRecordings handles GET /v1/recordings. Entries never finalized are
// only included with ?pending=true.
func (h *Handlers) ListRecordings(w http.ResponseWriter, r *http.Request) {
	opts := mediastore.ListOptions{}
	if v := r.URL.Query().Get("pending"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "pending must be a boolean")
			return
		}
		opts.IncludePending = b
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	entries, err := h.Recordings.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := ListRecordingsResponse{Recordings: make([]Recording, 0, len(entries))}
	for _, e := range entries {
		resp.Recordings = append(resp.Recordings, h.recording(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecording handles GET /v1/recordings/{id}.
func (h *Handlers) GetRecording(w http.ResponseWriter, r *http.Request) {
	e, err := h.Recordings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.recording(e))
}

func (h *Handlers) recording(e mediastore.Entry) Recording {
	return Recording{Entry: e, Pending: e.Pending(), Path: h.Recordings.Path(e)}
}

// fail maps domain errors onto HTTP statuses.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, command.ErrBadPayload):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, command.ErrUnknownType):
		status, code = http.StatusBadRequest, "unknown_type"
	case errors.Is(err, session.ErrGrantUnavailable), errors.Is(err, grant.ErrUnavailable):
		status, code = http.StatusConflict, "grant_unavailable"
	case errors.Is(err, grant.ErrUnknownToken):
		status, code = http.StatusNotFound, "unknown_token"
	case errors.Is(err, grant.ErrAlreadyResolved):
		status, code = http.StatusConflict, "already_resolved"
	case errors.Is(err, mediastore.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrOutputSlotCreateFailed),
		errors.Is(err, session.ErrEncoderPrepareFailed),
		errors.Is(err, session.ErrEncoderStartFailed),
		errors.Is(err, session.ErrSinkBindFailed):
		code = "start_failed"
	}
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request", RequestIDFrom(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}
