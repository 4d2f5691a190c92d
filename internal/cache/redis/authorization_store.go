package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
	"github.com/AMRITESH240304/AgentMint/internal/wallet"
)

// authorizationsKey is the hash of identity -> authorization JSON shared by
// every engine process.
const authorizationsKey = keyPrefix + "wallet:authorizations"

type authorizationDoc struct {
	Identity     string    `json:"identity"`
	AuthorizedAt time.Time `json:"authorizedAt"`
	ProofPreview string    `json:"proofPreview"`
}

// AuthorizationStore implements domain.AuthorizationStore on a Redis hash so
// an authorization made through one process unblocks settlement in all of
// them. Only the proof preview is written.
type AuthorizationStore struct {
	rdb      *redis.Client
	verifier domain.ProofVerifier
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewAuthorizationStore creates an AuthorizationStore backed by c.
func NewAuthorizationStore(c *Client, verifier domain.ProofVerifier, clock clockwork.Clock, logger *slog.Logger) *AuthorizationStore {
	return &AuthorizationStore{
		rdb:      c.Underlying(),
		verifier: verifier,
		clock:    clock,
		logger:   logger.With(slog.String("component", "redis_authorizations")),
	}
}

// Authorize verifies proof and records identity. An existing authorization
// is kept as is.
func (s *AuthorizationStore) Authorize(ctx context.Context, identity, proof string) (bool, error) {
	id := crypto.NormalizeIdentity(identity)
	if err := s.verifier.Verify(id, proof); err != nil {
		if errors.Is(err, domain.ErrInvalidProof) {
			s.logger.Info("authorization rejected", slog.String("identity", id), slog.String("reason", err.Error()))
			return false, nil
		}
		return false, err
	}

	doc, err := json.Marshal(authorizationDoc{
		Identity:     id,
		AuthorizedAt: s.clock.Now().UTC(),
		ProofPreview: wallet.Preview(proof),
	})
	if err != nil {
		return false, fmt.Errorf("redis: marshal authorization: %w", err)
	}
	created, err := s.rdb.HSetNX(ctx, authorizationsKey, id, doc).Result()
	if err != nil {
		return false, fmt.Errorf("redis: authorize %s: %w", id, err)
	}
	if created {
		s.logger.Info("wallet authorized", slog.String("identity", id))
	}
	return true, nil
}

// IsAuthorized reports whether identity is in the shared set. Redis errors
// count as not authorized; settlement then blocks rather than pays.
func (s *AuthorizationStore) IsAuthorized(ctx context.Context, identity string) bool {
	id := crypto.NormalizeIdentity(identity)
	ok, err := s.rdb.HExists(ctx, authorizationsKey, id).Result()
	if err != nil {
		s.logger.Warn("authorization lookup failed", slog.String("identity", id), slog.String("error", err.Error()))
		return false
	}
	return ok
}

// Get returns the authorization for identity or domain.ErrNotFound.
func (s *AuthorizationStore) Get(ctx context.Context, identity string) (domain.WalletAuthorization, error) {
	id := crypto.NormalizeIdentity(identity)
	raw, err := s.rdb.HGet(ctx, authorizationsKey, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.WalletAuthorization{}, domain.ErrNotFound
		}
		return domain.WalletAuthorization{}, fmt.Errorf("redis: get authorization %s: %w", id, err)
	}
	return decodeAuthorization(raw)
}

func decodeAuthorization(raw []byte) (domain.WalletAuthorization, error) {
	var doc authorizationDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.WalletAuthorization{}, fmt.Errorf("redis: decode authorization: %w", err)
	}
	return domain.WalletAuthorization{
		Identity:     doc.Identity,
		AuthorizedAt: doc.AuthorizedAt,
		ProofPreview: doc.ProofPreview,
	}, nil
}

var _ domain.AuthorizationStore = (*AuthorizationStore)(nil)
