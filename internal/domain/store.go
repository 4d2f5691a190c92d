package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit     int
	Offset    int
	Since     *time.Time
	Until     *time.Time
	AuctionID string // audit entries whose detail carries this auction_id
}

// SettlementStore persists settlement progress keyed by auction id.
type SettlementStore interface {
	// Get returns ErrNotFound when no record exists for auctionID.
	Get(ctx context.Context, auctionID string) (SettlementRecord, error)
	Save(ctx context.Context, rec SettlementRecord) error
	ListPending(ctx context.Context) ([]SettlementRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuthorizationStore holds wallet authorizations for the process.
type AuthorizationStore interface {
	// Authorize verifies proof for identity and records the authorization.
	// It reports false with a nil error when the proof is rejected.
	Authorize(ctx context.Context, identity, proof string) (bool, error)
	IsAuthorized(ctx context.Context, identity string) bool
	Get(ctx context.Context, identity string) (WalletAuthorization, error)
}

// ProofVerifier checks that proof demonstrates control of identity.
type ProofVerifier interface {
	Verify(identity, proof string) error
}
