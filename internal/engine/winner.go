package engine

import (
	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// IsWinner reports whether identity currently holds the highest bid.
func IsWinner(state domain.AuctionState, identity string) bool {
	return state.HasBidder() && crypto.SameIdentity(state.HighestBidderID, identity)
}
