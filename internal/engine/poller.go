package engine

import (
	"context"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// PollOutcome is the result of completing one fetch.
type PollOutcome struct {
	State    domain.AuctionState
	Accepted bool  // State replaced the latest snapshot
	Stale    bool  // State regressed and was dropped
	Err      error // fetch failed; the previous snapshot is kept
	// Refresh is set when a forced refresh was deferred while this fetch
	// was in flight and should be issued now.
	Refresh bool
}

// AuctionPoller tracks fetches of one auction's state. It never lets two
// fetches overlap and never lets the observed highest bid go backwards.
// Begin and Complete must be called from the owning goroutine; Fetch may run
// anywhere.
type AuctionPoller struct {
	gateway   domain.AuctionGateway
	auctionID string

	inFlight       bool
	refreshPending bool
	disposed       bool
	latest         *domain.AuctionState
	lastErr        error
}

// NewAuctionPoller creates a poller for auctionID.
func NewAuctionPoller(gateway domain.AuctionGateway, auctionID string) *AuctionPoller {
	return &AuctionPoller{gateway: gateway, auctionID: auctionID}
}

// Begin reports whether a fetch should start now. A scheduled poll while one
// is in flight is skipped; a forced one is deferred until it completes.
func (p *AuctionPoller) Begin(forced bool) bool {
	if p.disposed {
		return false
	}
	if p.inFlight {
		if forced {
			p.refreshPending = true
		}
		return false
	}
	p.inFlight = true
	return true
}

// Fetch performs the network call for a fetch started with Begin.
func (p *AuctionPoller) Fetch(ctx context.Context) (domain.AuctionState, error) {
	return p.gateway.FetchState(ctx, p.auctionID)
}

// Complete records the result of a fetch.
func (p *AuctionPoller) Complete(state domain.AuctionState, err error) PollOutcome {
	if p.disposed {
		return PollOutcome{}
	}
	p.inFlight = false
	out := PollOutcome{State: state}
	if p.refreshPending {
		p.refreshPending = false
		out.Refresh = true
	}

	if err != nil {
		p.lastErr = err
		out.Err = err
		return out
	}
	p.lastErr = nil

	if p.regresses(state) {
		out.Stale = true
		return out
	}
	p.latest = &state
	out.Accepted = true
	return out
}

// regresses reports whether state is older than the latest snapshot: a lower
// highest bid, or an Active status after the ledger already reported Ended.
func (p *AuctionPoller) regresses(state domain.AuctionState) bool {
	if p.latest == nil {
		return false
	}
	if state.HighestBid.LessThan(p.latest.HighestBid) {
		return true
	}
	return p.latest.Status == domain.AuctionStatusEnded && state.Status != domain.AuctionStatusEnded
}

// Latest returns the most recent accepted snapshot, if any.
func (p *AuctionPoller) Latest() (domain.AuctionState, bool) {
	if p.latest == nil {
		return domain.AuctionState{}, false
	}
	return *p.latest, true
}

// LastError returns the error of the most recent fetch, nil if it succeeded.
func (p *AuctionPoller) LastError() error { return p.lastErr }

// InFlight reports whether a fetch is outstanding.
func (p *AuctionPoller) InFlight() bool { return p.inFlight }

// Dispose stops the poller. Later Begin calls return false and later results
// are discarded.
func (p *AuctionPoller) Dispose() {
	p.disposed = true
	p.refreshPending = false
}
