package engine

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

func TestManagerRegistry(t *testing.T) {
	m := NewManager(SessionDeps{
		Gateway: newFakeGateway(domain.AuctionState{}),
		Auth:    newFakeAuth(),
		Clock:   clockwork.NewFakeClock(),
	}, discardLogger())

	_, err := m.Add(SessionConfig{AuctionID: "b"})
	require.NoError(t, err)
	_, err = m.Add(SessionConfig{AuctionID: "a", DefaultCountdown: 90})
	require.NoError(t, err)
	_, err = m.Add(SessionConfig{AuctionID: "a"})
	require.Error(t, err)
	_, err = m.Add(SessionConfig{})
	require.Error(t, err)

	views := m.List()
	require.Len(t, views, 2)
	assert.Equal(t, "b", views[0].AuctionID)
	assert.Equal(t, 30, views[0].RemainingSeconds)
	assert.Equal(t, "a", views[1].AuctionID)
	assert.Equal(t, "1m 30s remaining", views[1].RemainingLabel)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManagerAuthorizeRejected(t *testing.T) {
	auth := newFakeAuth()
	m := NewManager(SessionDeps{Gateway: newFakeGateway(domain.AuctionState{}), Auth: auth}, discardLogger())

	ok, err := m.Authorize(context.Background(), self, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.IsAuthorized(context.Background(), self))

	ok, err = m.Authorize(context.Background(), self, "ok")
	require.NoError(t, err)
	assert.True(t, ok)
	a, err := m.Authorization(context.Background(), self)
	require.NoError(t, err)
	assert.Equal(t, self, a.Identity)
}
