package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

func TestSettlementStore(t *testing.T) {
	ctx := context.Background()
	s := NewSettlementStore()

	_, err := s.Get(ctx, "a1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := domain.SettlementRecord{
		AuctionID: "a1",
		WinnerID:  "0xabc",
		Amount:    decimal.RequireFromString("1.5"),
		Stage:     domain.StagePaying,
		TxRefs:    []domain.TxRef{{Stage: domain.StagePaying, Ref: "tx-1"}},
		CreatedAt: t0,
	}
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Save(ctx, domain.SettlementRecord{AuctionID: "a0", Stage: domain.StageAuthorizing, CreatedAt: t0.Add(-time.Hour)}))
	require.NoError(t, s.Save(ctx, domain.SettlementRecord{AuctionID: "done", Stage: domain.StageComplete, CreatedAt: t0}))

	// Mutating the caller's slice must not leak into the store.
	rec.TxRefs[0].Ref = "mutated"
	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", got.TxRefs[0].Ref)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1.5")))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a0", pending[0].AuctionID)
	assert.Equal(t, "a1", pending[1].AuctionID)
}

func TestAuditStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	for _, ev := range []string{"one", "two", "three"} {
		require.NoError(t, s.Log(ctx, ev, map[string]any{"k": ev}))
	}

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "three", all[0].Event)

	page, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Event)
}

func TestAuditStoreFilterByAuction(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "settlement.transition", map[string]any{"auction_id": "a1", "stage": "paying"}))
	require.NoError(t, s.Log(ctx, "settlement.transition", map[string]any{"auction_id": "a2", "stage": "paying"}))
	require.NoError(t, s.Log(ctx, "settlement.transition", map[string]any{"auction_id": "a1", "stage": "registering"}))

	got, err := s.List(ctx, domain.ListOpts{AuctionID: "a1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "registering", got[0].Detail["stage"])
}
