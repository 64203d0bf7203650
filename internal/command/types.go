package command

import (
	"encoding/json"

	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

// Message types.
const (
	TypeStart  = "record.start"
	TypeStop   = "record.stop"
	TypeStatus = "record.status"

	TypeStarted = "record.started"
	TypeStopped = "record.stopped"
	TypeError   = "error"
)

// Envelope is the top-level wrapper for all control messages.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CommandStart is the payload for record.start messages.
type CommandStart struct {
	GrantToken string           `json:"grantToken"`
	Geometry   *display.Geometry `json:"geometry,omitempty"`
}

// EventStarted is the payload for record.started replies.
type EventStarted struct {
	SessionID string `json:"sessionId,omitempty"`
	OutputID  string `json:"outputId,omitempty"`
	State     string `json:"state"`
	// Ignored is set when a session was already in progress.
	Ignored bool `json:"ignored,omitempty"`
}

// EventStopped is the payload for record.stopped replies.
type EventStopped struct {
	Stopping bool   `json:"stopping"`
	State    string `json:"state"`
}

// EventStatus is the payload for record.status replies.
type EventStatus struct {
	State     string `json:"state"`
	SessionID string `json:"sessionId,omitempty"`
	StartedAt int64  `json:"startedAt,omitempty"`
	OutputID  string `json:"outputId,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// EventError is the payload for error replies.
type EventError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}
