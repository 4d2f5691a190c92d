package ledger

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// maxRemainingSeconds caps time_left_seconds so the conversion to int never
// wraps.
const maxRemainingSeconds = math.MaxInt32

// APIAuction is the ledger's auction document.
type APIAuction struct {
	NFTID           string          `json:"nft_id"`
	HighestBid      decimal.Decimal `json:"highest_bid"`
	HighestBidder   *string         `json:"highest_bidder"`
	Status          string          `json:"status"`
	TimeLeftSeconds *float64        `json:"time_left_seconds,omitempty"`
	EndTime         string          `json:"end_time,omitempty"`
}

// ToDomain converts the document to an AuctionState. A missing status means
// active and a missing highest bid means zero.
func (a APIAuction) ToDomain(auctionID string, fetchedAt time.Time) domain.AuctionState {
	st := domain.AuctionState{
		AuctionID:  auctionID,
		HighestBid: a.HighestBid,
		Status:     domain.AuctionStatusActive,
		FetchedAt:  fetchedAt,
	}
	if a.NFTID != "" {
		st.AuctionID = a.NFTID
	}
	if a.HighestBidder != nil {
		st.HighestBidderID = strings.TrimSpace(*a.HighestBidder)
	}
	if strings.EqualFold(a.Status, string(domain.AuctionStatusEnded)) {
		st.Status = domain.AuctionStatusEnded
	}
	if a.TimeLeftSeconds != nil {
		secs := int(math.Min(math.Max(0, math.Floor(*a.TimeLeftSeconds)), maxRemainingSeconds))
		st.ServerRemainingSeconds = &secs
	}
	if st.HighestBid.IsNegative() {
		st.HighestBid = decimal.Zero
	}
	return st
}

// PlaceBidRequest is the body of POST /place-bid.
type PlaceBidRequest struct {
	NFTID        string      `json:"nftId"`
	BidderWallet string      `json:"bidderWallet"`
	Amount       json.Number `json:"amount"`
	Timestamp    string      `json:"timestamp"`
}

// PlaceBidResponse is the success body of POST /place-bid. Every field is
// optional.
type PlaceBidResponse struct {
	Message string `json:"message"`
	BidID   string `json:"bid_id"`
}

// errorBody is the ledger's error envelope. Detail is usually a string but
// validation failures send a list.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// reason extracts a human-readable rejection reason.
func (e errorBody) reason() string {
	if len(e.Detail) == 0 || string(e.Detail) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return string(e.Detail)
}
