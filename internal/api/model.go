package api

import (
	"time"

	"github.com/RenatoCabral2022/xrecorder/internal/mediastore"
)

type CreateGrantResponse struct {
	Token string `json:"token"`
	State string `json:"state"`
}

type ResolveGrantRequest struct {
	Granted bool `json:"granted"`
}

type GrantStateResponse struct {
	Token string `json:"token"`
	State string `json:"state"`
}

type SessionResponse struct {
	State     string     `json:"state"`
	SessionID string     `json:"sessionId,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	OutputID  string     `json:"outputId,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Label     string     `json:"label,omitempty"`
	Announced bool       `json:"announced"`
}

type Recording struct {
	mediastore.Entry
	Pending bool   `json:"pending"`
	Path    string `json:"path,omitempty"`
}

type ListRecordingsResponse struct {
	Recordings []Recording `json:"recordings"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
