// Package command decodes control messages and routes them to handlers.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/xrecorder/internal/metrics"
)

var (
	// ErrUnknownType is returned for message types with no handler.
	ErrUnknownType = errors.New("unknown message type")
	// ErrBadPayload is returned when a payload cannot be decoded.
	ErrBadPayload = errors.New("bad payload")
)

// Handler processes a specific command type and returns the reply.
type Handler func(ctx context.Context, requestID string, payload json.RawMessage) (*Envelope, error)

// Router dispatches incoming control messages to registered handlers.
type Router struct {
	handlers map[string]Handler
	log      *zap.Logger
}

// NewRouter creates a new message router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{handlers: make(map[string]Handler), log: logger}
}

// Register adds a handler for a specific message type.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// Dispatch parses a raw message and routes it to the appropriate handler.
func (r *Router) Dispatch(ctx context.Context, raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		return nil, fmt.Errorf("%w: unmarshal envelope: %w", ErrBadPayload, err)
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		r.log.Warn("unknown message type", zap.String("type", env.Type))
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	reply, err := h(ctx, env.RequestID, env.Payload)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(env.Type, "error").Inc()
		return nil, err
	}
	metrics.CommandsTotal.WithLabelValues(env.Type, "ok").Inc()
	return reply, nil
}

// Reply builds an envelope carrying payload.
func Reply(msgType, requestID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return &Envelope{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}

// Encode builds a raw message, as a client would send it.
func Encode(msgType, requestID string, payload any) ([]byte, error) {
	env, err := Reply(msgType, requestID, payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		env.Payload = nil
	}
	return json.Marshal(env)
}
