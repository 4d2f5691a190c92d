package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the ledger's view of an auction's lifecycle.
type AuctionStatus string

const (
	AuctionStatusActive AuctionStatus = "active"
	AuctionStatusEnded  AuctionStatus = "ended"
)

// AuctionState is one authoritative snapshot from the ledger. It is replaced
// wholesale on every successful poll and never mutated.
type AuctionState struct {
	AuctionID              string
	HighestBid             decimal.Decimal
	HighestBidderID        string // empty when no bid has been placed
	Status                 AuctionStatus
	ServerRemainingSeconds *int
	FetchedAt              time.Time
}

// HasBidder reports whether anyone holds the highest bid.
func (s AuctionState) HasBidder() bool { return s.HighestBidderID != "" }

// LocalClock is the locally ticking countdown between polls.
type LocalClock struct {
	RemainingSeconds int
	LastSyncedAt     time.Time
}

// BidCandidate is a bid the local bidder intends to place.
type BidCandidate struct {
	ID          string
	AuctionID   string
	BidderID    string
	Amount      decimal.Decimal
	SubmittedAt time.Time
}

// BidAck is the ledger's acceptance of a bid.
type BidAck struct {
	BidID      string
	AuctionID  string
	Amount     decimal.Decimal
	Message    string
	AcceptedAt time.Time
}

// WalletAuthorization records that an identity proved control of its wallet.
// The proof itself is never kept, only a short preview for display.
type WalletAuthorization struct {
	Identity     string
	AuthorizedAt time.Time
	ProofPreview string
}

// AuctionView is the read model published to observers on every tick and
// poll.
type AuctionView struct {
	AuctionID        string          `json:"auctionId"`
	RemainingSeconds int             `json:"remainingSeconds"`
	RemainingLabel   string          `json:"remainingLabel"`
	HighestBid       decimal.Decimal `json:"highestBid"`
	HighestBidderID  string          `json:"highestBidderId,omitempty"`
	IsWinner         bool            `json:"isWinner"`
	Status           AuctionStatus   `json:"status"`
	Provisional      bool            `json:"provisional"`
	LastError        string          `json:"lastError,omitempty"`
	Settlement       *SettlementView `json:"settlement,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// SettlementView is the settlement part of the read model.
type SettlementView struct {
	Stage     SettlementStage `json:"stage"`
	Blocked   bool            `json:"blocked"`
	TxRefs    []TxRef         `json:"txRefs"`
	AssetRef  string          `json:"assetRef,omitempty"`
	LastError string          `json:"lastError,omitempty"`
}
