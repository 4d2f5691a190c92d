package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

const (
	self  = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	rival = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func secs(n int) *int { return &n }

type fetchReply struct {
	state domain.AuctionState
	err   error
}

// fakeGateway serves a mutable state. Scripted replies are consumed first.
type fakeGateway struct {
	mu      sync.Mutex
	state   domain.AuctionState
	script  []fetchReply
	fail    error
	gate    chan struct{}
	fetches int
	bids    []domain.BidCandidate
	onBid   func(*fakeGateway, domain.BidCandidate) (domain.BidAck, error)
}

func newFakeGateway(state domain.AuctionState) *fakeGateway {
	return &fakeGateway{state: state}
}

func (g *fakeGateway) FetchState(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.AuctionState{}, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, ctx.Err())
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if len(g.script) > 0 {
		r := g.script[0]
		g.script = g.script[1:]
		return r.state, r.err
	}
	if g.fail != nil {
		return domain.AuctionState{}, g.fail
	}
	st := g.state
	st.AuctionID = auctionID
	return st, nil
}

func (g *fakeGateway) SubmitBid(_ context.Context, bid domain.BidCandidate) (domain.BidAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bids = append(g.bids, bid)
	if g.onBid != nil {
		return g.onBid(g, bid)
	}
	return domain.BidAck{BidID: bid.ID, Amount: bid.Amount}, nil
}

func (g *fakeGateway) setState(st domain.AuctionState) {
	g.mu.Lock()
	g.state = st
	g.mu.Unlock()
}

func (g *fakeGateway) setFail(err error) {
	g.mu.Lock()
	g.fail = err
	g.mu.Unlock()
}

func (g *fakeGateway) bidCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bids)
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

// fakeAuth accepts the proof "ok". With grantAfterDenial set, the first
// negative answer authorizes the identity right after it is given.
type fakeAuth struct {
	mu               sync.Mutex
	auth             map[string]bool
	grantAfterDenial bool
}

func newFakeAuth(authorized ...string) *fakeAuth {
	a := &fakeAuth{auth: make(map[string]bool)}
	for _, id := range authorized {
		a.auth[crypto.NormalizeIdentity(id)] = true
	}
	return a
}

func (a *fakeAuth) Authorize(_ context.Context, identity, proof string) (bool, error) {
	if proof != "ok" {
		return false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auth[crypto.NormalizeIdentity(identity)] = true
	return true, nil
}

func (a *fakeAuth) IsAuthorized(_ context.Context, identity string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := crypto.NormalizeIdentity(identity)
	ok := a.auth[id]
	if !ok && a.grantAfterDenial {
		a.grantAfterDenial = false
		a.auth[id] = true
	}
	return ok
}

func (a *fakeAuth) setGrantAfterDenial() {
	a.mu.Lock()
	a.grantAfterDenial = true
	a.mu.Unlock()
}

func (a *fakeAuth) Get(_ context.Context, identity string) (domain.WalletAuthorization, error) {
	if !a.IsAuthorized(context.Background(), identity) {
		return domain.WalletAuthorization{}, domain.ErrNotFound
	}
	return domain.WalletAuthorization{Identity: crypto.NormalizeIdentity(identity)}, nil
}

// fakeAuthority records calls in order. Per-stage error queues are consumed
// one per call.
type fakeAuthority struct {
	mu           sync.Mutex
	calls        []string
	payErrs      []error
	registerErrs []error
	licenseErrs  []error
	payGate      chan struct{}
	payStarted   chan struct{}
	registered   []domain.AssetDescriptor
	terms        []domain.LicenseTerms
	payKeys      []string
}

func (f *fakeAuthority) Pay(ctx context.Context, auctionID, payerID string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "pay")
	f.payKeys = append(f.payKeys, auctionID)
	gate, started := f.payGate, f.payStarted
	err := pop(&f.payErrs)
	n := len(f.calls)
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pay-%s-%d", auctionID, n), nil
}

func (f *fakeAuthority) RegisterAsset(_ context.Context, asset domain.AssetDescriptor, ownerID string) (domain.AssetRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "register")
	if err := pop(&f.registerErrs); err != nil {
		return domain.AssetRegistration{}, err
	}
	f.registered = append(f.registered, asset)
	return domain.AssetRegistration{TxRef: "reg-tx", AssetRef: "ip-" + asset.TokenID}, nil
}

func (f *fakeAuthority) SetLicenseTerms(_ context.Context, assetRef string, terms domain.LicenseTerms) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "license")
	if err := pop(&f.licenseErrs); err != nil {
		return "", err
	}
	f.terms = append(f.terms, terms)
	return "lic-" + assetRef, nil
}

func (f *fakeAuthority) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAuthority) count(name string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == name {
			n++
		}
	}
	return n
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.SettlementEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}
