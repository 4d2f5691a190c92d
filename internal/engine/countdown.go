// Package engine coordinates a bidder's view of remote auctions: polling the
// ledger, reconciling the local countdown, placing bids and driving
// settlement for auctions the local bidder wins.
package engine

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Transition reports what changed in the countdown after Tick or Apply.
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionExpired means the local countdown just reached zero. The
	// auction is provisionally ended until the ledger confirms it.
	TransitionExpired
	// TransitionConfirmed means the ledger reported the auction ended. It is
	// returned exactly once.
	TransitionConfirmed
	// TransitionResumed means a provisional end was reversed because the
	// ledger still reports time left.
	TransitionResumed
)

func (t Transition) String() string {
	switch t {
	case TransitionExpired:
		return "expired"
	case TransitionConfirmed:
		return "confirmed"
	case TransitionResumed:
		return "resumed"
	default:
		return "none"
	}
}

// CountdownReconciler anchors the local countdown to the ledger's remaining
// time and ticks it down between polls. It is owned by a single goroutine.
type CountdownReconciler struct {
	clock        clockwork.Clock
	remaining    int
	lastSyncedAt time.Time
	expiredAt    time.Time // zero while time remains
	confirmed    bool
}

// NewCountdownReconciler starts a countdown at initial seconds, used until
// the first poll reports the ledger's value.
func NewCountdownReconciler(clock clockwork.Clock, initial int) *CountdownReconciler {
	if initial < 0 {
		initial = 0
	}
	c := &CountdownReconciler{clock: clock, remaining: initial}
	if initial == 0 {
		c.expiredAt = clock.Now()
	}
	return c
}

// Tick decrements the countdown by one second, flooring at zero.
func (c *CountdownReconciler) Tick() Transition {
	if c.confirmed || c.remaining == 0 {
		return TransitionNone
	}
	c.remaining--
	if c.remaining == 0 {
		c.expiredAt = c.clock.Now()
		return TransitionExpired
	}
	return TransitionNone
}

// Apply corrects the countdown from a poll result. The tick phase is left
// alone; only the value changes. Once the ledger confirms the end, later
// states are ignored.
func (c *CountdownReconciler) Apply(state domain.AuctionState) Transition {
	if c.confirmed {
		return TransitionNone
	}
	if state.Status == domain.AuctionStatusEnded {
		c.confirmed = true
		c.remaining = 0
		c.lastSyncedAt = state.FetchedAt
		if c.expiredAt.IsZero() {
			c.expiredAt = c.clock.Now()
		}
		return TransitionConfirmed
	}

	wasExpired := !c.expiredAt.IsZero()
	if state.ServerRemainingSeconds != nil {
		c.remaining = max(*state.ServerRemainingSeconds, 0)
		c.lastSyncedAt = state.FetchedAt
	}
	switch {
	case wasExpired && c.remaining > 0:
		c.expiredAt = time.Time{}
		return TransitionResumed
	case !wasExpired && c.remaining == 0:
		c.expiredAt = c.clock.Now()
		return TransitionExpired
	}
	return TransitionNone
}

// Lift raises the remaining time to floor when it is below it. It reports
// whether the countdown changed. A confirmed end is never lifted.
func (c *CountdownReconciler) Lift(floor int) bool {
	if c.confirmed || floor <= 0 || c.remaining >= floor {
		return false
	}
	c.remaining = floor
	c.expiredAt = time.Time{}
	return true
}

// Remaining returns the seconds left on the local countdown.
func (c *CountdownReconciler) Remaining() int { return c.remaining }

// LocallyExpired reports whether the countdown has reached zero.
func (c *CountdownReconciler) LocallyExpired() bool { return !c.expiredAt.IsZero() }

// Confirmed reports whether the ledger has reported the auction ended.
func (c *CountdownReconciler) Confirmed() bool { return c.confirmed }

// Provisional reports whether the countdown has expired without the ledger
// confirming it.
func (c *CountdownReconciler) Provisional() bool { return c.LocallyExpired() && !c.confirmed }

// Ended reports whether the auction may be treated as ended: the ledger
// confirmed it, or the local countdown expired at least grace ago.
func (c *CountdownReconciler) Ended(grace time.Duration) bool {
	if c.confirmed {
		return true
	}
	if c.expiredAt.IsZero() {
		return false
	}
	return c.clock.Since(c.expiredAt) >= grace
}

// Clock returns a snapshot of the local clock.
func (c *CountdownReconciler) Clock() domain.LocalClock {
	return domain.LocalClock{RemainingSeconds: c.remaining, LastSyncedAt: c.lastSyncedAt}
}
