package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// SettlementConfig tunes per-stage retries.
type SettlementConfig struct {
	StageAttempts int
	StageBackoff  time.Duration
	LockTTL       time.Duration
}

// DefaultSettlementConfig returns three attempts per stage starting at 500ms
// backoff.
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		StageAttempts: 3,
		StageBackoff:  500 * time.Millisecond,
		LockTTL:       2 * time.Minute,
	}
}

// SettlementJob is the input to one settlement run.
type SettlementJob struct {
	AuctionID string
	WinnerID  string
	Amount    decimal.Decimal
	Asset     domain.AssetDescriptor
	Terms     *domain.LicenseTerms // nil uses DefaultLicenseTerms(WinnerID)
}

// SettlementDeps are the collaborators of a SettlementPipeline. Locks, Audit,
// Metadata and Notifier are optional.
type SettlementDeps struct {
	Store     domain.SettlementStore
	Authority domain.SettlementAuthority
	Auth      domain.AuthorizationStore
	Locks     domain.LockManager
	Audit     domain.AuditStore
	Metadata  domain.MetadataPublisher
	Notifier  domain.Notifier
	Clock     clockwork.Clock
}

// SettlementPipeline drives a won auction through Authorizing, Paying,
// Registering and LicenseSetup. Progress is persisted after every transition
// so a run can resume where a previous one stopped; completed stages never
// run again.
type SettlementPipeline struct {
	deps   SettlementDeps
	cfg    SettlementConfig
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewSettlementPipeline creates a SettlementPipeline.
func NewSettlementPipeline(deps SettlementDeps, cfg SettlementConfig, logger *slog.Logger) *SettlementPipeline {
	if cfg.StageAttempts < 1 {
		cfg.StageAttempts = 1
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &SettlementPipeline{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "settlement")),
		inflight: make(map[string]struct{}),
	}
}

// Record returns the stored settlement record for auctionID.
func (p *SettlementPipeline) Record(ctx context.Context, auctionID string) (domain.SettlementRecord, error) {
	return p.deps.Store.Get(ctx, auctionID)
}

// Run executes the remaining stages for job. Only one run per auction may be
// in flight; a concurrent call returns domain.ErrSettlementInFlight. A
// missing wallet authorization stops the run at Authorizing with
// domain.ErrAuthorizationRequired and leaves the record blocked, not failed.
func (p *SettlementPipeline) Run(ctx context.Context, job SettlementJob) (domain.SettlementRecord, error) {
	if !p.enter(job.AuctionID) {
		return domain.SettlementRecord{}, domain.ErrSettlementInFlight
	}
	defer p.leave(job.AuctionID)

	if p.deps.Locks != nil {
		unlock, err := p.deps.Locks.Acquire(ctx, "settlement:"+job.AuctionID, p.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.SettlementRecord{}, domain.ErrSettlementInFlight
		}
		if err != nil {
			return domain.SettlementRecord{}, fmt.Errorf("settlement: lock %s: %w", job.AuctionID, err)
		}
		defer unlock()
	}

	logger := p.logger.With(slog.String("auction_id", job.AuctionID))

	rec, err := p.load(ctx, job)
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	if rec.Terminal() {
		return rec, nil
	}

	if rec.Stage == domain.StageFailed || rec.Stage == domain.StageIdle {
		from := rec.Stage
		rec.Stage = rec.ResumeStage()
		rec.FailedStage = ""
		if err := p.transition(ctx, &rec, from); err != nil {
			return rec, err
		}
	}

	for !rec.Terminal() {
		stage := rec.Stage
		if err := p.runStage(ctx, &rec, job); err != nil {
			switch {
			case errors.Is(err, domain.ErrAuthorizationRequired):
				logger.Info("settlement blocked on wallet authorization", slog.String("winner", rec.WinnerID))
				return rec, &domain.SettlementError{Stage: stage, Err: err}
			case ctx.Err() != nil:
				logger.Info("settlement interrupted", slog.String("stage", string(stage)))
				return rec, ctx.Err()
			}
			logger.Warn("settlement stage failed",
				slog.String("stage", string(stage)),
				slog.String("error", err.Error()),
			)
			if ferr := p.fail(ctx, &rec, stage, err); ferr != nil {
				return rec, ferr
			}
			return rec, &domain.SettlementError{Stage: stage, Err: err}
		}
		rec.Stage = stage.Next()
		if err := p.transition(ctx, &rec, stage); err != nil {
			return rec, err
		}
	}

	logger.Info("settlement complete",
		slog.String("winner", rec.WinnerID),
		slog.String("asset_ref", rec.AssetRef),
	)
	p.notify(ctx, rec, domain.EventSettlementComplete, "")
	return rec, nil
}

// load fetches the stored record or creates a fresh one from job.
func (p *SettlementPipeline) load(ctx context.Context, job SettlementJob) (domain.SettlementRecord, error) {
	rec, err := p.deps.Store.Get(ctx, job.AuctionID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.SettlementRecord{}, fmt.Errorf("settlement: load %s: %w", job.AuctionID, err)
	}
	now := p.deps.Clock.Now().UTC()
	rec = domain.SettlementRecord{
		AuctionID: job.AuctionID,
		WinnerID:  crypto.NormalizeIdentity(job.WinnerID),
		Amount:    job.Amount,
		Stage:     domain.StageIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.deps.Store.Save(ctx, rec); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("settlement: create %s: %w", job.AuctionID, err)
	}
	return rec, nil
}

func (p *SettlementPipeline) runStage(ctx context.Context, rec *domain.SettlementRecord, job SettlementJob) error {
	switch rec.Stage {
	case domain.StageAuthorizing:
		if !p.deps.Auth.IsAuthorized(ctx, rec.WinnerID) {
			return p.block(ctx, rec)
		}
		rec.Blocked = false
		return nil

	case domain.StagePaying:
		ref, err := withRetry(ctx, p, rec, func(ctx context.Context) (string, error) {
			return p.deps.Authority.Pay(ctx, rec.AuctionID, rec.WinnerID, rec.Amount)
		})
		if err != nil {
			return err
		}
		p.addRef(rec, domain.StagePaying, ref)
		return nil

	case domain.StageRegistering:
		reg, err := withRetry(ctx, p, rec, func(ctx context.Context) (domain.AssetRegistration, error) {
			asset := job.Asset
			if p.deps.Metadata != nil && asset.MetadataURI == "" {
				published, err := p.deps.Metadata.Publish(ctx, rec.AuctionID, asset, rec.WinnerID)
				if err != nil {
					return domain.AssetRegistration{}, err
				}
				asset = published
			}
			return p.deps.Authority.RegisterAsset(ctx, asset, rec.WinnerID)
		})
		if err != nil {
			return err
		}
		p.addRef(rec, domain.StageRegistering, reg.TxRef)
		rec.AssetRef = reg.AssetRef
		return nil

	case domain.StageLicenseSetup:
		terms := domain.DefaultLicenseTerms(rec.WinnerID)
		if job.Terms != nil {
			terms = *job.Terms
			if terms.Receiver == "" {
				terms.Receiver = rec.WinnerID
			}
		}
		ref, err := withRetry(ctx, p, rec, func(ctx context.Context) (string, error) {
			return p.deps.Authority.SetLicenseTerms(ctx, rec.AssetRef, terms)
		})
		if err != nil {
			return err
		}
		p.addRef(rec, domain.StageLicenseSetup, ref)
		return nil
	}
	return fmt.Errorf("settlement: unexpected stage %q", rec.Stage)
}

// block marks the record as waiting for wallet authorization. The stage stays
// Authorizing.
func (p *SettlementPipeline) block(ctx context.Context, rec *domain.SettlementRecord) error {
	wasBlocked := rec.Blocked
	rec.Blocked = true
	rec.LastError = domain.ErrAuthorizationRequired.Error()
	rec.UpdatedAt = p.deps.Clock.Now().UTC()
	if err := p.deps.Store.Save(ctx, *rec); err != nil {
		return fmt.Errorf("settlement: save %s: %w", rec.AuctionID, err)
	}
	if !wasBlocked {
		p.audit(ctx, "settlement.blocked", *rec, nil)
		p.notify(ctx, *rec, domain.EventAuthorizationRequired, "authorize the winning wallet to continue settlement")
	}
	return domain.ErrAuthorizationRequired
}

func (p *SettlementPipeline) addRef(rec *domain.SettlementRecord, stage domain.SettlementStage, ref string) {
	rec.TxRefs = append(rec.TxRefs, domain.TxRef{
		Stage:      stage,
		Ref:        ref,
		RecordedAt: p.deps.Clock.Now().UTC(),
	})
}

func (p *SettlementPipeline) transition(ctx context.Context, rec *domain.SettlementRecord, from domain.SettlementStage) error {
	rec.LastError = ""
	rec.UpdatedAt = p.deps.Clock.Now().UTC()
	if err := p.deps.Store.Save(ctx, *rec); err != nil {
		return fmt.Errorf("settlement: save %s: %w", rec.AuctionID, err)
	}
	p.audit(ctx, "settlement.transition", *rec, map[string]any{"from": string(from)})
	return nil
}

func (p *SettlementPipeline) fail(ctx context.Context, rec *domain.SettlementRecord, stage domain.SettlementStage, cause error) error {
	rec.Stage = domain.StageFailed
	rec.FailedStage = stage
	rec.LastError = cause.Error()
	rec.UpdatedAt = p.deps.Clock.Now().UTC()
	if err := p.deps.Store.Save(ctx, *rec); err != nil {
		return fmt.Errorf("settlement: save %s: %w", rec.AuctionID, err)
	}
	p.audit(ctx, "settlement.failed", *rec, map[string]any{"error": cause.Error()})
	p.notify(ctx, *rec, domain.EventSettlementFailed, cause.Error())
	return nil
}

func (p *SettlementPipeline) audit(ctx context.Context, event string, rec domain.SettlementRecord, extra map[string]any) {
	if p.deps.Audit == nil {
		return
	}
	detail := map[string]any{
		"auction_id": rec.AuctionID,
		"winner":     rec.WinnerID,
		"stage":      string(rec.Stage),
		"attempts":   rec.Attempts,
	}
	if rec.FailedStage != "" {
		detail["failed_stage"] = string(rec.FailedStage)
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := p.deps.Audit.Log(ctx, event, detail); err != nil {
		p.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (p *SettlementPipeline) notify(ctx context.Context, rec domain.SettlementRecord, kind, detail string) {
	if p.deps.Notifier == nil {
		return
	}
	ev := domain.SettlementEvent{
		Kind:      kind,
		AuctionID: rec.AuctionID,
		WinnerID:  rec.WinnerID,
		Amount:    rec.Amount,
		Stage:     rec.Stage,
		Detail:    detail,
		At:        p.deps.Clock.Now().UTC(),
	}
	if err := p.deps.Notifier.Notify(ctx, ev); err != nil {
		p.logger.Warn("notification failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}

func (p *SettlementPipeline) enter(auctionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[auctionID]; busy {
		return false
	}
	p.inflight[auctionID] = struct{}{}
	return true
}

func (p *SettlementPipeline) leave(auctionID string) {
	p.mu.Lock()
	delete(p.inflight, auctionID)
	p.mu.Unlock()
}

// withRetry calls fn up to StageAttempts times, doubling the backoff after
// each transient failure. Non-transient errors are returned immediately.
func withRetry[T any](ctx context.Context, p *SettlementPipeline, rec *domain.SettlementRecord, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	backoff := p.cfg.StageBackoff
	var lastErr error
	for attempt := 1; attempt <= p.cfg.StageAttempts; attempt++ {
		rec.Attempts++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrNetworkFailure) || attempt == p.cfg.StageAttempts {
			break
		}
		p.logger.Debug("settlement stage retry",
			slog.String("auction_id", rec.AuctionID),
			slog.String("stage", string(rec.Stage)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-p.deps.Clock.After(backoff):
			}
			backoff *= 2
		}
	}
	return zero, lastErr
}
