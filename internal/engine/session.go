package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// ChannelPrefix prefixes the bus channel carrying an auction's read model.
const ChannelPrefix = "auction:"

// ChannelFor returns the bus channel for auctionID.
func ChannelFor(auctionID string) string { return ChannelPrefix + auctionID }

// SessionConfig configures one followed auction.
type SessionConfig struct {
	AuctionID string
	// Identity is the local bidder. Empty means watch only: no bids and no
	// settlement.
	Identity string
	Asset    domain.AssetDescriptor
	Terms    *domain.LicenseTerms

	TickInterval     time.Duration
	PollInterval     time.Duration
	DefaultCountdown int // seconds, used until the first poll
	GraceWindow      time.Duration
	ExtensionFloor   int // seconds; 0 disables
	AutoSettle       bool
}

func (c *SessionConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.DefaultCountdown <= 0 {
		c.DefaultCountdown = 30
	}
	if c.GraceWindow < 0 {
		c.GraceWindow = 0
	}
}

// SessionDeps are shared by every session of a process. Pipeline, Bus and
// Notifier are optional.
type SessionDeps struct {
	Gateway  domain.AuctionGateway
	Auth     domain.AuthorizationStore
	Pipeline *SettlementPipeline
	Bus      domain.SignalBus
	Notifier domain.Notifier
	Clock    clockwork.Clock
}

type pollResult struct {
	state domain.AuctionState
	err   error
}

type settleResult struct {
	rec domain.SettlementRecord
	err error
}

// Session owns one auction's state. A single goroutine (Run) applies ticks,
// poll results, settlement results and commands in order; network calls run
// in helper goroutines that post their results back. Results arriving after
// Dispose are dropped.
type Session struct {
	cfg    SessionConfig
	deps   SessionDeps
	logger *slog.Logger

	countdown *CountdownReconciler
	poller    *AuctionPoller
	bidder    *BidSubmitter

	cmds       chan func(context.Context)
	pollDone   chan pollResult
	settleDone chan settleResult
	outbox     chan []byte
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	view atomic.Pointer[domain.AuctionView]

	// Owned by the Run goroutine.
	settlement   *domain.SettlementRecord
	settling     bool
	settleCancel context.CancelFunc
	autoStarted  bool
	wonNotified  bool
}

// NewSession creates a session. Call Run to start it.
func NewSession(cfg SessionConfig, deps SessionDeps, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With(slog.String("component", "auction_session"), slog.String("auction_id", cfg.AuctionID)),
		countdown:  NewCountdownReconciler(deps.Clock, cfg.DefaultCountdown),
		poller:     NewAuctionPoller(deps.Gateway, cfg.AuctionID),
		bidder:     NewBidSubmitter(deps.Gateway, deps.Auth, deps.Clock),
		cmds:       make(chan func(context.Context)),
		pollDone:   make(chan pollResult),
		settleDone: make(chan settleResult),
		outbox:     make(chan []byte, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	v := s.buildView()
	s.view.Store(&v)
	return s
}

// AuctionID returns the followed auction.
func (s *Session) AuctionID() string { return s.cfg.AuctionID }

// Run drives the session until ctx is cancelled or Dispose is called.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.loadSettlement(ctx)
	if s.deps.Bus != nil {
		go s.forward(ctx)
	}

	tick := s.deps.Clock.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	poll := s.deps.Clock.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	s.logger.Info("auction session started",
		slog.String("identity", s.cfg.Identity),
		slog.Duration("poll_interval", s.cfg.PollInterval),
	)
	s.startPoll(ctx, true)
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.stop:
			s.shutdown()
			return nil
		case <-tick.Chan():
			s.onTick(ctx)
		case <-poll.Chan():
			s.startPoll(ctx, false)
		case r := <-s.pollDone:
			s.onPoll(ctx, r)
		case r := <-s.settleDone:
			s.onSettled(ctx, r)
		case fn := <-s.cmds:
			fn(ctx)
		}
	}
}

// Dispose stops the session. It is safe to call more than once.
func (s *Session) Dispose() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// View returns the latest read model.
func (s *Session) View() domain.AuctionView {
	return *s.view.Load()
}

// SubmitBid places a bid for the local identity. Local rejections happen
// before any ledger call; on acceptance the session refreshes immediately.
func (s *Session) SubmitBid(ctx context.Context, amount decimal.Decimal) (domain.BidAck, error) {
	var bc BidContext
	err := s.call(ctx, func(context.Context) error {
		bc = s.bidContext()
		return nil
	})
	if err != nil {
		return domain.BidAck{}, err
	}

	ack, err := s.bidder.Submit(ctx, bc, amount, s.cfg.Identity)
	if err != nil {
		if errors.Is(err, domain.ErrNetworkFailure) {
			s.logger.Warn("bid submission failed", slog.String("amount", amount.String()), slog.String("error", err.Error()))
		}
		return domain.BidAck{}, err
	}
	s.logger.Info("bid accepted", slog.String("amount", amount.String()), slog.String("bid_id", ack.BidID))

	_ = s.call(ctx, func(loopCtx context.Context) error {
		s.onBidAcked(loopCtx)
		return nil
	})
	return ack, nil
}

// Refresh polls the ledger now, or right after the poll in flight.
func (s *Session) Refresh(ctx context.Context) error {
	return s.call(ctx, func(loopCtx context.Context) error {
		s.startPoll(loopCtx, true)
		return nil
	})
}

// RetrySettlement re-runs settlement from its recorded stage. It returns
// domain.ErrSettlementInFlight when a run is already going and
// domain.ErrSettlementNotReady unless the local identity won an auction that
// the ledger confirmed ended or whose grace window has passed.
func (s *Session) RetrySettlement(ctx context.Context) error {
	return s.call(ctx, func(loopCtx context.Context) error {
		latest, ok := s.poller.Latest()
		if !ok || s.cfg.Identity == "" || !IsWinner(latest, s.cfg.Identity) {
			return domain.ErrSettlementNotReady
		}
		if !s.countdown.Ended(s.cfg.GraceWindow) {
			return domain.ErrSettlementNotReady
		}
		return s.startSettlement(loopCtx, latest.HighestBid)
	})
}

// NotifyAuthorized resumes a settlement blocked on identity's wallet
// authorization. A run still in flight is re-checked when it finishes.
func (s *Session) NotifyAuthorized(ctx context.Context, identity string) error {
	return s.call(ctx, func(loopCtx context.Context) error {
		rec := s.settlement
		if rec == nil || !rec.Blocked || s.settling || !crypto.SameIdentity(rec.WinnerID, identity) {
			return nil
		}
		s.logger.Info("wallet authorized, resuming settlement")
		return s.startSettlement(loopCtx, rec.Amount)
	})
}

// Settlement returns the stored settlement record for this auction.
func (s *Session) Settlement(ctx context.Context) (domain.SettlementRecord, error) {
	if s.deps.Pipeline == nil {
		return domain.SettlementRecord{}, domain.ErrNotFound
	}
	return s.deps.Pipeline.Record(ctx, s.cfg.AuctionID)
}

// call runs fn on the session goroutine and returns its error.
func (s *Session) call(ctx context.Context, fn func(context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- func(loopCtx context.Context) { reply <- fn(loopCtx) }:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-s.stop:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

func (s *Session) bidContext() BidContext {
	bc := BidContext{
		AuctionID: s.cfg.AuctionID,
		Ended:     s.countdown.LocallyExpired() || s.countdown.Confirmed(),
	}
	if latest, ok := s.poller.Latest(); ok {
		bc.HighestBid = latest.HighestBid
	}
	return bc
}

func (s *Session) startPoll(ctx context.Context, forced bool) {
	if !s.poller.Begin(forced) {
		return
	}
	go func() {
		state, err := s.poller.Fetch(ctx)
		deliver(s.pollDone, pollResult{state: state, err: err}, s.done)
	}()
}

func (s *Session) onTick(ctx context.Context) {
	s.onTransition(ctx, s.countdown.Tick())
	s.evaluate(ctx)
	s.publish()
}

func (s *Session) onPoll(ctx context.Context, r pollResult) {
	out := s.poller.Complete(r.state, r.err)
	switch {
	case out.Err != nil:
		if ctx.Err() == nil {
			s.logger.Warn("poll failed", slog.String("error", out.Err.Error()))
		}
	case out.Stale:
		s.logger.Debug("stale poll dropped", slog.String("highest_bid", out.State.HighestBid.String()))
	case out.Accepted:
		s.onTransition(ctx, s.countdown.Apply(out.State))
	}
	s.evaluate(ctx)
	s.publish()
	if out.Refresh {
		s.startPoll(ctx, true)
	}
}

func (s *Session) onTransition(ctx context.Context, tr Transition) {
	switch tr {
	case TransitionExpired:
		s.logger.Info("countdown expired, confirming with ledger")
		s.startPoll(ctx, true)
	case TransitionConfirmed:
		s.logger.Info("auction ended")
	case TransitionResumed:
		s.logger.Info("auction resumed", slog.Int("remaining_seconds", s.countdown.Remaining()))
		s.autoStarted = false
		s.cancelSettlement("auction resumed")
	}
}

// evaluate recomputes the winner and starts settlement once the local
// identity has won an ended auction.
func (s *Session) evaluate(ctx context.Context) {
	latest, ok := s.poller.Latest()
	if !ok || s.cfg.Identity == "" {
		return
	}
	if !IsWinner(latest, s.cfg.Identity) {
		s.cancelSettlement("no longer highest bidder")
		return
	}
	if !s.countdown.Ended(s.cfg.GraceWindow) {
		return
	}
	if !s.wonNotified {
		s.wonNotified = true
		s.logger.Info("auction won",
			slog.String("amount", latest.HighestBid.String()),
			slog.Bool("provisional", !s.countdown.Confirmed()),
		)
		s.notifyAsync(ctx, domain.SettlementEvent{
			Kind:      domain.EventAuctionWon,
			AuctionID: s.cfg.AuctionID,
			WinnerID:  s.cfg.Identity,
			Amount:    latest.HighestBid,
			At:        s.deps.Clock.Now().UTC(),
		})
	}
	if s.resumeBlocked(ctx) {
		return
	}
	if !s.cfg.AutoSettle || s.autoStarted || s.deps.Pipeline == nil {
		return
	}
	s.autoStarted = true
	if s.settlement != nil && s.settlement.Terminal() {
		return
	}
	if err := s.startSettlement(ctx, latest.HighestBid); err != nil && !errors.Is(err, domain.ErrSettlementInFlight) {
		s.logger.Warn("settlement not started", slog.String("error", err.Error()))
	}
}

func (s *Session) startSettlement(ctx context.Context, amount decimal.Decimal) error {
	if s.deps.Pipeline == nil {
		return domain.ErrSettlementNotReady
	}
	if s.settling {
		return domain.ErrSettlementInFlight
	}
	job := SettlementJob{
		AuctionID: s.cfg.AuctionID,
		WinnerID:  s.cfg.Identity,
		Amount:    amount,
		Asset:     s.cfg.Asset,
		Terms:     s.cfg.Terms,
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.settling = true
	s.settleCancel = cancel
	go func() {
		rec, err := s.deps.Pipeline.Run(runCtx, job)
		deliver(s.settleDone, settleResult{rec: rec, err: err}, s.done)
	}()
	return nil
}

// resumeBlocked restarts a settlement blocked on wallet authorization once
// the winner shows up as authorized, including authorizations written to a
// shared store by another process.
func (s *Session) resumeBlocked(ctx context.Context) bool {
	rec := s.settlement
	if rec == nil || !rec.Blocked || s.settling || s.deps.Pipeline == nil || s.deps.Auth == nil {
		return false
	}
	if !s.deps.Auth.IsAuthorized(ctx, rec.WinnerID) {
		return false
	}
	s.logger.Info("wallet authorized, resuming settlement")
	if err := s.startSettlement(ctx, rec.Amount); err != nil {
		s.logger.Warn("settlement not resumed", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *Session) cancelSettlement(reason string) {
	if !s.settling || s.settleCancel == nil {
		return
	}
	s.logger.Info("cancelling settlement", slog.String("reason", reason))
	s.settleCancel()
}

func (s *Session) onSettled(ctx context.Context, r settleResult) {
	s.settling = false
	if s.settleCancel != nil {
		s.settleCancel()
		s.settleCancel = nil
	}
	if r.rec.AuctionID != "" {
		rec := r.rec
		s.settlement = &rec
	}
	switch {
	case r.err == nil:
		s.logger.Info("settlement finished", slog.String("stage", string(r.rec.Stage)))
	case errors.Is(r.err, domain.ErrAuthorizationRequired):
		if !s.resumeBlocked(ctx) {
			s.logger.Info("settlement waiting for wallet authorization")
		}
	case errors.Is(r.err, context.Canceled):
		s.logger.Info("settlement cancelled", slog.String("stage", string(r.rec.Stage)))
	case errors.Is(r.err, domain.ErrSettlementInFlight):
		s.logger.Debug("settlement already running elsewhere")
	default:
		s.logger.Warn("settlement failed", slog.String("error", r.err.Error()))
	}
	s.publish()
}

func (s *Session) onBidAcked(ctx context.Context) {
	if s.countdown.Lift(s.cfg.ExtensionFloor) {
		s.logger.Info("countdown lifted after late bid", slog.Int("remaining_seconds", s.countdown.Remaining()))
	}
	s.startPoll(ctx, true)
	s.publish()
}

func (s *Session) loadSettlement(ctx context.Context) {
	if s.deps.Pipeline == nil {
		return
	}
	rec, err := s.deps.Pipeline.Record(ctx, s.cfg.AuctionID)
	switch {
	case err == nil:
		s.settlement = &rec
	case !errors.Is(err, domain.ErrNotFound):
		s.logger.Warn("load settlement record failed", slog.String("error", err.Error()))
	}
}

func (s *Session) shutdown() {
	s.poller.Dispose()
	if s.settleCancel != nil {
		s.settleCancel()
	}
	s.logger.Info("auction session stopped")
}

func (s *Session) buildView() domain.AuctionView {
	v := domain.AuctionView{
		AuctionID:        s.cfg.AuctionID,
		RemainingSeconds: s.countdown.Remaining(),
		RemainingLabel:   FormatRemaining(s.countdown.Remaining()),
		Status:           domain.AuctionStatusActive,
		Provisional:      s.countdown.Provisional(),
		UpdatedAt:        s.deps.Clock.Now().UTC(),
	}
	if latest, ok := s.poller.Latest(); ok {
		v.HighestBid = latest.HighestBid
		v.HighestBidderID = latest.HighestBidderID
		v.IsWinner = s.cfg.Identity != "" && IsWinner(latest, s.cfg.Identity)
	}
	if s.countdown.LocallyExpired() || s.countdown.Confirmed() {
		v.Status = domain.AuctionStatusEnded
	}
	if err := s.poller.LastError(); err != nil {
		v.LastError = err.Error()
	}
	if s.settlement != nil {
		v.Settlement = s.settlement.View()
	}
	return v
}

// publish stores the read model and queues it for the bus. Only the newest
// unsent payload is kept.
func (s *Session) publish() {
	v := s.buildView()
	s.view.Store(&v)
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal view", slog.String("error", err.Error()))
		return
	}
	select {
	case s.outbox <- payload:
	default:
		select {
		case <-s.outbox:
		default:
		}
		select {
		case s.outbox <- payload:
		default:
		}
	}
}

func (s *Session) forward(ctx context.Context) {
	channel := ChannelFor(s.cfg.AuctionID)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.outbox:
			if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil && ctx.Err() == nil {
				s.logger.Debug("publish view failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Session) notifyAsync(ctx context.Context, ev domain.SettlementEvent) {
	if s.deps.Notifier == nil {
		return
	}
	go func() {
		nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.deps.Notifier.Notify(nctx, ev); err != nil {
			s.logger.Warn("notification failed", slog.String("kind", ev.Kind), slog.String("error", err.Error()))
		}
	}()
}

// deliver posts v unless the session has already stopped.
func deliver[T any](ch chan<- T, v T, done <-chan struct{}) {
	select {
	case ch <- v:
	case <-done:
	}
}
