// Package wallet keeps track of which bidder identities have proven control
// of their wallet.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Store is an in-process domain.AuthorizationStore. Authorizations are sticky
// for the life of the process.
type Store struct {
	verifier domain.ProofVerifier
	clock    clockwork.Clock
	logger   *slog.Logger

	mu   sync.RWMutex
	auth map[string]domain.WalletAuthorization
}

// NewStore creates a Store that checks proofs with verifier.
func NewStore(verifier domain.ProofVerifier, clock clockwork.Clock, logger *slog.Logger) *Store {
	return &Store{
		verifier: verifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "wallet_store")),
		auth:     make(map[string]domain.WalletAuthorization),
	}
}

// Authorize verifies proof and records the identity. A rejected proof returns
// false and a nil error; the proof is never stored.
func (s *Store) Authorize(_ context.Context, identity, proof string) (bool, error) {
	id := crypto.NormalizeIdentity(identity)
	if err := s.verifier.Verify(id, proof); err != nil {
		if errors.Is(err, domain.ErrInvalidProof) {
			s.logger.Info("authorization rejected", slog.String("identity", id), slog.String("reason", err.Error()))
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auth[id]; ok {
		return true, nil
	}
	s.auth[id] = domain.WalletAuthorization{
		Identity:     id,
		AuthorizedAt: s.clock.Now().UTC(),
		ProofPreview: Preview(proof),
	}
	s.logger.Info("wallet authorized", slog.String("identity", id))
	return true, nil
}

// IsAuthorized reports whether identity has been authorized.
func (s *Store) IsAuthorized(_ context.Context, identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.auth[crypto.NormalizeIdentity(identity)]
	return ok
}

// Get returns the authorization for identity or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, identity string) (domain.WalletAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auth[crypto.NormalizeIdentity(identity)]
	if !ok {
		return domain.WalletAuthorization{}, domain.ErrNotFound
	}
	return a, nil
}

// Preview keeps the first six characters of a proof for display. A proof
// shaped like a raw 32-byte hex key gets no preview at all.
func Preview(proof string) string {
	if keyShaped(proof) {
		return ""
	}
	r := []rune(proof)
	if len(r) <= 6 {
		return proof + "..."
	}
	return string(r[:6]) + "..."
}

func keyShaped(proof string) bool {
	p := strings.TrimPrefix(strings.TrimSpace(proof), "0x")
	return len(p) == 64 && hexKeyPattern.MatchString(p)
}
