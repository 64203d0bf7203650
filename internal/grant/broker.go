package grant

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxSettled bounds how many finished requests are remembered for State.
const maxSettled = 256

// ErrAlreadyResolved is returned when a consent token is resolved twice.
var ErrAlreadyResolved = errors.New("consent already resolved")

// ProjectionFactory opens the platform projection for a granted token.
// onRevoke must be called if the platform withdraws the permission.
type ProjectionFactory func(onRevoke func()) (Projection, error)

// RequestState is the position of a consent token in the request/response flow.
type RequestState string

const (
	RequestPending  RequestState = "pending"
	RequestGranted  RequestState = "granted"
	RequestDenied   RequestState = "denied"
	RequestConsumed RequestState = "consumed"
	RequestRevoked  RequestState = "revoked"
)

type request struct {
	state RequestState
	grant *Grant
}

// Broker issues consent tokens, records the user's decision and hands out
// each granted token as a Grant at most once.
type Broker struct {
	factory ProjectionFactory
	log     *zap.Logger

	mu         sync.Mutex
	requests   map[string]*request
	settled    []string // tokens in a terminal state, oldest first
	settledCap int
}

// NewBroker creates a Broker that opens projections with factory.
func NewBroker(factory ProjectionFactory, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		factory:    factory,
		log:        logger,
		requests:   make(map[string]*request),
		settledCap: maxSettled,
	}
}

// Request starts a consent request and returns its pending token.
func (b *Broker) Request() string {
	token := uuid.NewString()
	b.mu.Lock()
	b.requests[token] = &request{state: RequestPending}
	b.mu.Unlock()
	b.log.Info("capture consent requested", zap.String("grant", token))
	return token
}

// Resolve records the outcome of a pending request.
func (b *Broker) Resolve(token string, granted bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.requests[token]
	if !ok {
		return ErrUnknownToken
	}
	if req.state != RequestPending {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, req.state)
	}
	if granted {
		req.state = RequestGranted
	} else {
		req.state = RequestDenied
		b.settleLocked(token)
	}
	b.log.Info("capture consent resolved", zap.String("grant", token), zap.Bool("granted", granted))
	return nil
}

// Acquire converts a granted token into a live Grant. A token can be
// acquired once; every later call fails with ErrUnavailable.
func (b *Broker) Acquire(token string) (*Grant, error) {
	b.mu.Lock()
	req, ok := b.requests[token]
	if !ok {
		b.mu.Unlock()
		return nil, ErrUnknownToken
	}
	if req.state != RequestGranted {
		state := req.state
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: consent %s", ErrUnavailable, state)
	}
	req.state = RequestConsumed
	g := newGrant(token, b.log)
	req.grant = g
	b.settleLocked(token)
	b.mu.Unlock()

	proj, err := b.factory(g.Revoke)
	if err != nil {
		g.Revoke()
		return nil, fmt.Errorf("%w: open projection: %w", ErrUnavailable, err)
	}
	g.mu.Lock()
	g.proj = proj
	g.mu.Unlock()
	return g, nil
}

// Revoke withdraws a token from the platform side. A live grant is revoked;
// a granted but unused token can no longer be acquired.
func (b *Broker) Revoke(token string) error {
	b.mu.Lock()
	req, ok := b.requests[token]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownToken
	}
	g := req.grant
	switch req.state {
	case RequestPending, RequestGranted:
		b.settleLocked(token)
	}
	req.state = RequestRevoked
	b.mu.Unlock()

	if g != nil {
		g.Revoke()
	}
	return nil
}

// State returns the request state of token.
func (b *Broker) State(token string) (RequestState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return req.state, nil
}

// settleLocked queues a token that reached a terminal state and forgets the
// oldest settled tokens beyond the cap. A consumed token whose grant is still
// active is kept so the platform can revoke it.
func (b *Broker) settleLocked(token string) {
	b.settled = append(b.settled, token)
	excess := len(b.settled) - b.settledCap
	if excess <= 0 {
		return
	}
	kept := b.settled[:0]
	for _, t := range b.settled {
		if excess > 0 {
			if req, ok := b.requests[t]; !ok || !req.grant.Active() {
				delete(b.requests, t)
				excess--
				continue
			}
		}
		kept = append(kept, t)
	}
	b.settled = kept
}
