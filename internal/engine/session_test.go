package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
	"github.com/AMRITESH240304/AgentMint/internal/store/memory"
)

const (
	waitFor = 2 * time.Second
	every   = 5 * time.Millisecond
)

type sessionFixture struct {
	gw        *fakeGateway
	auth      *fakeAuth
	authority *fakeAuthority
	store     *memory.SettlementStore
	clock     *clockwork.FakeClock
	manager   *Manager
	session   *Session
}

func startSession(t *testing.T, gw *fakeGateway, auth *fakeAuth, mutate func(*SessionConfig)) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		gw:        gw,
		auth:      auth,
		authority: &fakeAuthority{},
		store:     memory.NewSettlementStore(),
		clock:     clockwork.NewFakeClock(),
	}
	pipeline := NewSettlementPipeline(SettlementDeps{
		Store:     f.store,
		Authority: f.authority,
		Auth:      auth,
		Clock:     f.clock,
	}, SettlementConfig{StageAttempts: 1}, discardLogger())

	f.manager = NewManager(SessionDeps{
		Gateway:  gw,
		Auth:     auth,
		Pipeline: pipeline,
		Clock:    f.clock,
	}, discardLogger())

	cfg := SessionConfig{
		AuctionID:    "a1",
		Identity:     self,
		Asset:        domain.AssetDescriptor{TokenID: "7"},
		PollInterval: 5 * time.Second,
		GraceWindow:  10 * time.Second,
		AutoSettle:   true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := f.manager.Add(cfg)
	require.NoError(t, err)
	f.session = s

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.manager.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return f
}

func (f *sessionFixture) view() domain.AuctionView { return f.session.View() }

func TestSessionBidScenario(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("1.0"),
		HighestBidderID:        rival,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(120),
	})
	gw.onBid = func(g *fakeGateway, bid domain.BidCandidate) (domain.BidAck, error) {
		g.state.HighestBid = bid.Amount
		g.state.HighestBidderID = bid.BidderID
		return domain.BidAck{BidID: bid.ID, Amount: bid.Amount}, nil
	}
	f := startSession(t, gw, newFakeAuth(self), nil)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return f.view().HighestBid.Equal(dec("1.0"))
	}, waitFor, every)
	assert.False(t, f.view().IsWinner)
	assert.Equal(t, 120, f.view().RemainingSeconds)

	_, err := f.session.SubmitBid(ctx, dec("1.0"))
	require.ErrorIs(t, err, domain.ErrBelowHighest)
	assert.Zero(t, gw.bidCount())

	ack, err := f.session.SubmitBid(ctx, dec("1.5"))
	require.NoError(t, err)
	assert.True(t, ack.Amount.Equal(dec("1.5")))

	require.Eventually(t, func() bool {
		v := f.view()
		return v.IsWinner && v.HighestBid.Equal(dec("1.5")) && v.HighestBidderID == self
	}, waitFor, every)
}

func TestSessionBlockedWhenWinnerNotAuthorized(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("2"),
		HighestBidderID:        self,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(1),
	})
	f := startSession(t, gw, newFakeAuth(), nil)

	require.Eventually(t, func() bool {
		v := f.view()
		return v.IsWinner && v.RemainingSeconds == 1
	}, waitFor, every)

	gw.setState(domain.AuctionState{HighestBid: dec("2"), HighestBidderID: self, Status: domain.AuctionStatusEnded})
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		v := f.view()
		return v.Settlement != nil && v.Settlement.Blocked && !v.Provisional
	}, waitFor, every)
	v := f.view()
	assert.Equal(t, domain.AuctionStatusEnded, v.Status)
	assert.Equal(t, domain.StageAuthorizing, v.Settlement.Stage)

	rec, err := f.store.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAuthorizing, rec.Stage)
	assert.NotEqual(t, domain.StageFailed, rec.Stage)
	assert.Empty(t, f.authority.callLog())

	// Authorizing the winner resumes settlement without a manual retry.
	ok, err := f.manager.Authorize(context.Background(), self, "ok")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		v := f.view()
		return v.Settlement != nil && v.Settlement.Stage == domain.StageComplete
	}, waitFor, every)
	assert.Equal(t, []string{"pay", "register", "license"}, f.authority.callLog())
	assert.Len(t, f.view().Settlement.TxRefs, 3)
}

func TestSessionResumesAfterAuthorizationFromSharedStore(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:      dec("2"),
		HighestBidderID: self,
		Status:          domain.AuctionStatusEnded,
	})
	auth := newFakeAuth()
	f := startSession(t, gw, auth, nil)

	require.Eventually(t, func() bool {
		v := f.view()
		return v.Settlement != nil && v.Settlement.Blocked
	}, waitFor, every)

	// Another process authorizes the winner; this session is never told.
	ok, err := auth.Authorize(context.Background(), self, "ok")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		v := f.view()
		return v.Settlement != nil && v.Settlement.Stage == domain.StageComplete
	}, waitFor, every)
	assert.False(t, f.view().Settlement.Blocked)
	assert.Equal(t, 1, f.authority.count("pay"))
}

func TestSessionResumesWhenAuthorizedDuringRun(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("2"),
		HighestBidderID:        self,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(1),
	})
	auth := newFakeAuth()
	f := startSession(t, gw, auth, nil)

	require.Eventually(t, func() bool { return f.view().IsWinner }, waitFor, every)

	// The authorization lands just after the run checked for it.
	auth.setGrantAfterDenial()
	gw.setState(domain.AuctionState{HighestBid: dec("2"), HighestBidderID: self, Status: domain.AuctionStatusEnded})
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		v := f.view()
		return v.Settlement != nil && v.Settlement.Stage == domain.StageComplete
	}, waitFor, every)
	assert.Equal(t, []string{"pay", "register", "license"}, f.authority.callLog())
}

func TestSessionRetryWaitsForGraceWindow(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("4"),
		HighestBidderID:        self,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(1),
	})
	f := startSession(t, gw, newFakeAuth(self), func(c *SessionConfig) { c.AutoSettle = false })

	require.Eventually(t, func() bool {
		v := f.view()
		return v.IsWinner && v.RemainingSeconds == 1
	}, waitFor, every)
	gw.setFail(domain.ErrNetworkFailure)
	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return f.view().Provisional }, waitFor, every)

	assert.ErrorIs(t, f.session.RetrySettlement(context.Background()), domain.ErrSettlementNotReady)
	f.clock.Advance(5 * time.Second)
	assert.ErrorIs(t, f.session.RetrySettlement(context.Background()), domain.ErrSettlementNotReady)
	assert.Zero(t, f.authority.count("pay"))

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.session.RetrySettlement(context.Background()))
	require.Eventually(t, func() bool {
		v := f.view()
		return v.Settlement != nil && v.Settlement.Stage == domain.StageComplete
	}, waitFor, every)
	assert.Equal(t, 1, f.authority.count("pay"))
}

func TestSessionResumesWhenLedgerStillActive(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("2"),
		HighestBidderID:        rival,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(1),
	})
	f := startSession(t, gw, newFakeAuth(self), nil)

	require.Eventually(t, func() bool { return f.view().RemainingSeconds == 1 }, waitFor, every)

	gw.setState(domain.AuctionState{
		HighestBid:             dec("3"),
		HighestBidderID:        rival,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(12),
	})
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		v := f.view()
		return v.RemainingSeconds == 12 && v.Status == domain.AuctionStatusActive && !v.Provisional
	}, waitFor, every)
	assert.True(t, f.view().HighestBid.Equal(dec("3")))
}

func TestSessionProvisionalSettlementAfterGrace(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("4"),
		HighestBidderID:        self,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(1),
	})
	f := startSession(t, gw, newFakeAuth(self), nil)

	require.Eventually(t, func() bool { return f.view().RemainingSeconds == 1 }, waitFor, every)
	gw.setFail(domain.ErrNetworkFailure)

	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		v := f.view()
		return v.Settlement != nil && v.Settlement.Stage == domain.StageComplete
	}, waitFor, every)

	v := f.view()
	assert.True(t, v.Provisional)
	assert.Equal(t, domain.AuctionStatusEnded, v.Status)
	assert.NotEmpty(t, v.LastError)
	assert.Equal(t, "Auction ended", v.RemainingLabel)
}

func TestSessionConcurrentRetryRunsOnce(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:      dec("5"),
		HighestBidderID: self,
		Status:          domain.AuctionStatusEnded,
	})
	f := startSession(t, gw, newFakeAuth(self), func(c *SessionConfig) { c.AutoSettle = false })
	f.authority.payGate = make(chan struct{})

	require.Eventually(t, func() bool {
		v := f.view()
		return v.IsWinner && v.Status == domain.AuctionStatusEnded
	}, waitFor, every)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.session.RetrySettlement(context.Background())
		}()
	}
	wg.Wait()

	var started int
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		require.ErrorIs(t, err, domain.ErrSettlementInFlight)
	}
	assert.Equal(t, 1, started)

	close(f.authority.payGate)
	require.Eventually(t, func() bool {
		v := f.view()
		return v.Settlement != nil && v.Settlement.Stage == domain.StageComplete
	}, waitFor, every)
	assert.Equal(t, 1, f.authority.count("pay"))

	require.NoError(t, f.session.RetrySettlement(context.Background()))
	require.Eventually(t, func() bool { return !f.sessionSettling() }, waitFor, every)
	assert.Equal(t, 1, f.authority.count("pay"), "completed stages never re-run")
}

func (f *sessionFixture) sessionSettling() bool {
	var settling bool
	_ = f.session.call(context.Background(), func(context.Context) error {
		settling = f.session.settling
		return nil
	})
	return settling
}

func TestSessionRetryNotReadyForLoser(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:      dec("5"),
		HighestBidderID: rival,
		Status:          domain.AuctionStatusEnded,
	})
	f := startSession(t, gw, newFakeAuth(self), nil)
	require.Eventually(t, func() bool { return f.view().Status == domain.AuctionStatusEnded }, waitFor, every)

	assert.ErrorIs(t, f.session.RetrySettlement(context.Background()), domain.ErrSettlementNotReady)
	_, err := f.session.SubmitBid(context.Background(), dec("10"))
	assert.ErrorIs(t, err, domain.ErrAuctionEnded)
}

func TestSessionDisposeDropsLateResults(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("1"),
		HighestBidderID:        rival,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(60),
	})
	gw.gate = make(chan struct{})
	f := startSession(t, gw, newFakeAuth(self), nil)

	before := f.view()
	f.session.Dispose()
	f.session.Dispose()
	select {
	case <-f.session.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	close(gw.gate)

	_, err := f.session.SubmitBid(context.Background(), dec("2"))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, f.session.Refresh(context.Background()), domain.ErrSessionClosed)
	assert.True(t, f.view().HighestBid.Equal(before.HighestBid))
	assert.Zero(t, gw.bidCount())
}

func TestSessionRefreshWhileInFlightIsDeferred(t *testing.T) {
	gw := newFakeGateway(domain.AuctionState{
		HighestBid:             dec("1"),
		HighestBidderID:        rival,
		Status:                 domain.AuctionStatusActive,
		ServerRemainingSeconds: secs(60),
	})
	gw.gate = make(chan struct{})
	f := startSession(t, gw, newFakeAuth(self), nil)

	// The initial poll is blocked; refreshes pile into one deferred poll.
	require.NoError(t, f.session.Refresh(context.Background()))
	require.NoError(t, f.session.Refresh(context.Background()))
	close(gw.gate)

	require.Eventually(t, func() bool { return gw.fetchCount() == 2 }, waitFor, every)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, gw.fetchCount())
}
