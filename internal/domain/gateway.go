package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AuctionGateway is the remote auction ledger. Implementations do not retry
// or cache; network problems wrap ErrNetworkFailure and semantic refusals are
// returned as *RejectedError.
type AuctionGateway interface {
	FetchState(ctx context.Context, auctionID string) (AuctionState, error)
	SubmitBid(ctx context.Context, bid BidCandidate) (BidAck, error)
}

// SettlementAuthority executes the remote side of each settlement stage.
type SettlementAuthority interface {
	// Pay is idempotent per auctionID.
	Pay(ctx context.Context, auctionID, payerID string, amount decimal.Decimal) (string, error)
	RegisterAsset(ctx context.Context, asset AssetDescriptor, ownerID string) (AssetRegistration, error)
	SetLicenseTerms(ctx context.Context, assetRef string, terms LicenseTerms) (string, error)
}

// MetadataPublisher stores asset metadata and fills in its URI and hash.
type MetadataPublisher interface {
	Publish(ctx context.Context, auctionID string, asset AssetDescriptor, ownerID string) (AssetDescriptor, error)
}

// Notifier sends settlement milestones to operators.
type Notifier interface {
	Notify(ctx context.Context, ev SettlementEvent) error
}
