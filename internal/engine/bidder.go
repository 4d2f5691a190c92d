package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// BidContext is what the bidder knows about the auction when a bid is made.
type BidContext struct {
	AuctionID  string
	HighestBid decimal.Decimal
	Ended      bool
}

// BidSubmitter validates bids locally and forwards the valid ones to the
// ledger.
type BidSubmitter struct {
	gateway domain.AuctionGateway
	auth    domain.AuthorizationStore
	clock   clockwork.Clock
}

// NewBidSubmitter creates a BidSubmitter.
func NewBidSubmitter(gateway domain.AuctionGateway, auth domain.AuthorizationStore, clock clockwork.Clock) *BidSubmitter {
	return &BidSubmitter{gateway: gateway, auth: auth, clock: clock}
}

// Validate checks authorization, the auction's end and the amount, in that
// order, without touching the ledger.
func (b *BidSubmitter) Validate(ctx context.Context, bc BidContext, amount decimal.Decimal, bidderID string) (domain.BidCandidate, error) {
	if bidderID == "" || !b.auth.IsAuthorized(ctx, bidderID) {
		return domain.BidCandidate{}, domain.ErrNotAuthorized
	}
	if bc.Ended {
		return domain.BidCandidate{}, domain.ErrAuctionEnded
	}
	if !amount.GreaterThan(bc.HighestBid) {
		return domain.BidCandidate{}, &domain.RejectedError{
			Kind:   domain.RejectBelowHighest,
			Reason: fmt.Sprintf("bid %s must exceed current highest bid %s", amount, bc.HighestBid),
		}
	}
	return domain.BidCandidate{
		ID:          uuid.NewString(),
		AuctionID:   bc.AuctionID,
		BidderID:    crypto.NormalizeIdentity(bidderID),
		Amount:      amount,
		SubmittedAt: b.clock.Now().UTC(),
	}, nil
}

// Send submits a validated candidate. Rejections come back verbatim.
func (b *BidSubmitter) Send(ctx context.Context, cand domain.BidCandidate) (domain.BidAck, error) {
	ack, err := b.gateway.SubmitBid(ctx, cand)
	if err != nil {
		return domain.BidAck{}, err
	}
	if ack.BidID == "" {
		ack.BidID = cand.ID
	}
	if ack.AuctionID == "" {
		ack.AuctionID = cand.AuctionID
	}
	if ack.Amount.IsZero() {
		ack.Amount = cand.Amount
	}
	if ack.AcceptedAt.IsZero() {
		ack.AcceptedAt = b.clock.Now().UTC()
	}
	return ack, nil
}

// Submit validates then sends.
func (b *BidSubmitter) Submit(ctx context.Context, bc BidContext, amount decimal.Decimal, bidderID string) (domain.BidAck, error) {
	cand, err := b.Validate(ctx, bc, amount, bidderID)
	if err != nil {
		return domain.BidAck{}, err
	}
	return b.Send(ctx, cand)
}
