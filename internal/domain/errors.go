package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	// ErrNetworkFailure marks a transient transport problem. Polls absorb it
	// and retry on the next interval.
	ErrNetworkFailure = errors.New("network failure")

	// ErrAuthorizationRequired blocks settlement until the winner authorizes
	// their wallet. It is not a settlement failure.
	ErrAuthorizationRequired = errors.New("wallet authorization required")

	ErrSettlementInFlight = errors.New("settlement already in flight")
	ErrSettlementNotReady = errors.New("settlement not started")
	ErrSessionClosed      = errors.New("auction session closed")
	ErrInvalidProof       = errors.New("invalid authorization proof")
)

// RejectKind classifies a semantic bid rejection.
type RejectKind string

const (
	RejectBelowHighest  RejectKind = "below_highest"
	RejectAuctionEnded  RejectKind = "auction_ended"
	RejectNotAuthorized RejectKind = "not_authorized"
	RejectRemote        RejectKind = "remote"
)

// RejectedError is a semantic refusal of a bid. Remote rejections carry the
// ledger's reason verbatim.
type RejectedError struct {
	Kind   RejectKind
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("bid rejected: %s", e.Kind)
	}
	return fmt.Sprintf("bid rejected: %s", e.Reason)
}

// Is matches on Kind so callers can test errors.Is(err, ErrBelowHighest).
func (e *RejectedError) Is(target error) bool {
	t, ok := target.(*RejectedError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrBelowHighest  = &RejectedError{Kind: RejectBelowHighest}
	ErrAuctionEnded  = &RejectedError{Kind: RejectAuctionEnded}
	ErrNotAuthorized = &RejectedError{Kind: RejectNotAuthorized}
)

// Rejected builds a remote rejection carrying reason verbatim.
func Rejected(reason string) *RejectedError {
	return &RejectedError{Kind: RejectRemote, Reason: reason}
}

// SettlementError reports the stage a settlement run stopped at.
type SettlementError struct {
	Stage SettlementStage
	Err   error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s: %v", e.Stage, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }
