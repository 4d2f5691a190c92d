package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Manager runs one Session per followed auction and routes wallet
// authorizations to them.
type Manager struct {
	deps   SessionDeps
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

// NewManager creates a Manager whose sessions share deps.
func NewManager(deps SessionDeps, logger *slog.Logger) *Manager {
	return &Manager{
		deps:     deps,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session for cfg. It must be called before Run.
func (m *Manager) Add(cfg SessionConfig) (*Session, error) {
	if cfg.AuctionID == "" {
		return nil, errors.New("engine: auction id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[cfg.AuctionID]; ok {
		return nil, fmt.Errorf("engine: auction %s already followed", cfg.AuctionID)
	}
	s := NewSession(cfg, m.deps, m.logger)
	m.sessions[cfg.AuctionID] = s
	m.order = append(m.order, cfg.AuctionID)
	return s, nil
}

// Run runs every registered session until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.all() {
		g.Go(func() error { return s.Run(gctx) })
	}
	return g.Wait()
}

// Get returns the session following auctionID.
func (m *Manager) Get(auctionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// List returns the read models of all sessions in registration order.
func (m *Manager) List() []domain.AuctionView {
	sessions := m.all()
	out := make([]domain.AuctionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.View())
	}
	return out
}

// Authorize records a wallet authorization and resumes any settlement that
// was blocked on it.
func (m *Manager) Authorize(ctx context.Context, identity, proof string) (bool, error) {
	ok, err := m.deps.Auth.Authorize(ctx, identity, proof)
	if err != nil || !ok {
		return ok, err
	}
	for _, s := range m.all() {
		if err := s.NotifyAuthorized(ctx, identity); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			m.logger.Warn("resume settlement failed",
				slog.String("auction_id", s.AuctionID()),
				slog.String("error", err.Error()),
			)
		}
	}
	return true, nil
}

// IsAuthorized reports whether identity has authorized its wallet.
func (m *Manager) IsAuthorized(ctx context.Context, identity string) bool {
	return m.deps.Auth.IsAuthorized(ctx, identity)
}

// Authorization returns the stored authorization for identity.
func (m *Manager) Authorization(ctx context.Context, identity string) (domain.WalletAuthorization, error) {
	return m.deps.Auth.Get(ctx, identity)
}

// DisposeAll stops every session.
func (m *Manager) DisposeAll() {
	for _, s := range m.all() {
		s.Dispose()
	}
}

func (m *Manager) all() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}
