// Package app provides the top-level application lifecycle for the auction
// engine. It wires together all dependencies (stores, caches, blob storage,
// remote clients and notifications), starts one session per followed auction
// together with the HTTP and WebSocket surface, and tears everything down on
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AMRITESH240304/AgentMint/internal/config"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
	"github.com/AMRITESH240304/AgentMint/internal/engine"
	"github.com/AMRITESH240304/AgentMint/internal/server"
	"github.com/AMRITESH240304/AgentMint/internal/server/handler"
	"github.com/AMRITESH240304/AgentMint/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the auction sessions, the WebSocket hub
// and the HTTP server, and blocks until ctx is cancelled or one of them
// fails. Every session is disposed before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.Int("auctions", len(a.cfg.Auctions)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	identity := ""
	if deps.Signer != nil {
		identity = deps.Signer.Identity()
		if a.cfg.Wallet.AutoAuthorize {
			if err := a.authorizeLocal(ctx, deps); err != nil {
				return err
			}
		}
	}

	manager := engine.NewManager(a.sessionDeps(deps, identity), a.logger)
	for _, sc := range sessionConfigs(a.cfg, identity) {
		if _, err := manager.Add(sc); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	defer manager.DisposeAll()
	a.reportPending(ctx, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
			StartedAt: time.Now().UTC(),
			Snapshot:  manager.List,
		})
		g.Go(func() error { return hub.Run(gctx) })

		srv := a.newServer(deps, manager, hub)
		g.Go(func() error { return srv.Run(gctx) })
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// authorizeLocal records the local wallet's authorization with a freshly
// signed challenge.
func (a *App) authorizeLocal(ctx context.Context, deps *Dependencies) error {
	proof, err := deps.Signer.SignAuthorization()
	if err != nil {
		return fmt.Errorf("app: sign authorization: %w", err)
	}
	ok, err := deps.Authorizations.Authorize(ctx, deps.Signer.Identity(), proof)
	if err != nil {
		return fmt.Errorf("app: authorize local wallet: %w", err)
	}
	if !ok {
		return fmt.Errorf("app: local wallet authorization rejected by verifier %q", a.cfg.Wallet.Verifier)
	}
	a.logger.Info("local wallet authorized", slog.String("identity", deps.Signer.Identity()))
	return nil
}

// reportPending logs settlements left unfinished by a previous run. Records
// of followed auctions resume in their session; others need an operator.
func (a *App) reportPending(ctx context.Context, deps *Dependencies) {
	pending, err := deps.Settlements.ListPending(ctx)
	if err != nil {
		a.logger.Warn("list pending settlements failed", slog.String("error", err.Error()))
		return
	}
	followed := make(map[string]bool, len(a.cfg.Auctions))
	for _, ac := range a.cfg.Auctions {
		followed[ac.ID] = true
	}
	for _, rec := range pending {
		attrs := []any{
			slog.String("auction_id", rec.AuctionID),
			slog.String("stage", string(rec.Stage)),
			slog.Bool("blocked", rec.Blocked),
		}
		if followed[rec.AuctionID] {
			a.logger.Info("pending settlement found", attrs...)
			continue
		}
		a.logger.Warn("pending settlement for an auction that is not followed", attrs...)
	}
}

// sessionDeps builds the shared session collaborators. Settlement runs only
// when there is a local identity and a settlement authority.
func (a *App) sessionDeps(deps *Dependencies, identity string) engine.SessionDeps {
	sd := engine.SessionDeps{
		Gateway:  deps.Ledger,
		Auth:     deps.Authorizations,
		Bus:      deps.Bus,
		Notifier: deps.Notifier,
		Clock:    deps.Clock,
	}
	if identity == "" || deps.Authority == nil {
		a.logger.Warn("settlement disabled", slog.Bool("has_identity", identity != ""), slog.Bool("has_authority", deps.Authority != nil))
		return sd
	}

	pd := engine.SettlementDeps{
		Store:     deps.Settlements,
		Authority: deps.Authority,
		Auth:      deps.Authorizations,
		Locks:     deps.Locks,
		Audit:     deps.Audit,
		Notifier:  deps.Notifier,
		Clock:     deps.Clock,
	}
	if deps.Metadata != nil {
		pd.Metadata = deps.Metadata
	}
	sd.Pipeline = engine.NewSettlementPipeline(pd, settlementConfig(a.cfg), a.logger)
	return sd
}

func (a *App) newServer(deps *Dependencies, manager *engine.Manager, hub *ws.Hub) *server.Server {
	var metadata handler.MetadataLoader
	if deps.Metadata != nil {
		metadata = deps.Metadata
	}
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Auctions: handler.NewAuctionHandler(auctionRegistry{manager}, deps.Audit, metadata, a.logger),
		Wallet:   handler.NewWalletHandler(manager, a.logger),
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		WriteLimit:  a.cfg.Server.WriteLimit,
		WriteWindow: a.cfg.Server.WriteWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)
}

// sessionConfigs maps the configured auctions onto engine sessions.
func sessionConfigs(cfg *config.Config, identity string) []engine.SessionConfig {
	out := make([]engine.SessionConfig, 0, len(cfg.Auctions))
	for _, ac := range cfg.Auctions {
		out = append(out, engine.SessionConfig{
			AuctionID:        ac.ID,
			Identity:         identity,
			Asset:            ac.Asset,
			Terms:            ac.Terms.LicenseTerms(),
			TickInterval:     cfg.Engine.TickInterval.Duration,
			PollInterval:     cfg.Engine.PollInterval.Duration,
			DefaultCountdown: cfg.Engine.DefaultCountdown,
			GraceWindow:      cfg.Engine.GraceWindow.Duration,
			ExtensionFloor:   cfg.Engine.ExtensionFloor,
			AutoSettle:       cfg.Engine.AutoSettle,
		})
	}
	return out
}

func settlementConfig(cfg *config.Config) engine.SettlementConfig {
	sc := engine.DefaultSettlementConfig()
	if cfg.Engine.StageAttempts > 0 {
		sc.StageAttempts = cfg.Engine.StageAttempts
	}
	if cfg.Engine.StageBackoff.Duration > 0 {
		sc.StageBackoff = cfg.Engine.StageBackoff.Duration
	}
	if cfg.Engine.LockTTL.Duration > 0 {
		sc.LockTTL = cfg.Engine.LockTTL.Duration
	}
	return sc
}

// auctionRegistry exposes the engine manager to the HTTP handlers.
type auctionRegistry struct {
	m *engine.Manager
}

func (r auctionRegistry) List() []domain.AuctionView { return r.m.List() }

func (r auctionRegistry) Lookup(auctionID string) (handler.Session, error) {
	s, err := r.m.Get(auctionID)
	if err != nil {
		return nil, err
	}
	return s, nil
}
