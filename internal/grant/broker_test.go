package grant

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker() (*Broker, *[]func()) {
	var hooks []func()
	b := NewBroker(func(onRevoke func()) (Projection, error) {
		hooks = append(hooks, onRevoke)
		return &fakeProjection{}, nil
	}, nil)
	return b, &hooks
}

func TestBrokerRequestResolveAcquire(t *testing.T) {
	b, _ := newTestBroker()

	token := b.Request()
	state, err := b.State(token)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, state)

	_, err = b.Acquire(token)
	assert.ErrorIs(t, err, ErrUnavailable, "pending consent cannot be acquired")

	require.NoError(t, b.Resolve(token, true))
	assert.ErrorIs(t, b.Resolve(token, true), ErrAlreadyResolved)

	g, err := b.Acquire(token)
	require.NoError(t, err)
	assert.True(t, g.Active())
	assert.Equal(t, token, g.Token())

	_, err = b.Acquire(token)
	assert.ErrorIs(t, err, ErrUnavailable, "tokens are single use")
}

func TestBrokerDeniedAndUnknown(t *testing.T) {
	b, _ := newTestBroker()

	token := b.Request()
	require.NoError(t, b.Resolve(token, false))
	_, err := b.Acquire(token)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = b.Acquire("nope")
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.ErrorIs(t, b.Resolve("nope", true), ErrUnknownToken)
	assert.ErrorIs(t, b.Revoke("nope"), ErrUnknownToken)
}

func TestBrokerRevokeLiveGrant(t *testing.T) {
	b, _ := newTestBroker()
	token := b.Request()
	require.NoError(t, b.Resolve(token, true))
	g, err := b.Acquire(token)
	require.NoError(t, err)

	require.NoError(t, b.Revoke(token))
	assert.False(t, g.Active())
	state, _ := b.State(token)
	assert.Equal(t, RequestRevoked, state)
}

func TestBrokerRevokeBeforeAcquire(t *testing.T) {
	b, _ := newTestBroker()
	token := b.Request()
	require.NoError(t, b.Resolve(token, true))
	require.NoError(t, b.Revoke(token))

	_, err := b.Acquire(token)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBrokerPlatformRevocationHook(t *testing.T) {
	b, hooks := newTestBroker()
	token := b.Request()
	require.NoError(t, b.Resolve(token, true))
	g, err := b.Acquire(token)
	require.NoError(t, err)
	require.Len(t, *hooks, 1)

	(*hooks)[0]()
	assert.False(t, g.Active())
}

func TestBrokerFactoryFailure(t *testing.T) {
	b := NewBroker(func(func()) (Projection, error) {
		return nil, errors.New("no display server")
	}, nil)
	token := b.Request()
	require.NoError(t, b.Resolve(token, true))
	_, err := b.Acquire(token)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBrokerForgetsOldSettledTokens(t *testing.T) {
	b, _ := newTestBroker()
	b.settledCap = 2

	denied := b.Request()
	require.NoError(t, b.Resolve(denied, false))

	live := b.Request()
	require.NoError(t, b.Resolve(live, true))
	g, err := b.Acquire(live)
	require.NoError(t, err)

	revoked := b.Request()
	require.NoError(t, b.Revoke(revoked))

	_, err = b.State(denied)
	assert.ErrorIs(t, err, ErrUnknownToken, "oldest settled token is forgotten")

	// A live grant survives pruning and can still be revoked.
	for i := 0; i < 4; i++ {
		tok := b.Request()
		require.NoError(t, b.Resolve(tok, false))
	}
	require.NoError(t, b.Revoke(live))
	assert.False(t, g.Active())

	pending := b.Request()
	state, err := b.State(pending)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, state)
	assert.LessOrEqual(t, len(b.requests), 1+2+1, "pending plus cap plus the live grant")
}
