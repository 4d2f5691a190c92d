package wallet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// SignatureVerifier accepts a personal-sign signature over the identity's
// authorization challenge, recovered with ecrecover.
type SignatureVerifier struct{}

// Verify implements domain.ProofVerifier.
func (SignatureVerifier) Verify(identity, proof string) error {
	addr, err := crypto.RecoverAddress([]byte(crypto.AuthorizationMessage(identity)), proof)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidProof, err)
	}
	if !crypto.SameIdentity(addr.Hex(), identity) {
		return fmt.Errorf("%w: signed by %s", domain.ErrInvalidProof, addr.Hex())
	}
	return nil
}

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64,}$`)

// FormatVerifier only checks that the proof looks like a hex key of at least
// 64 characters. Demo deployments use it when wallets cannot sign.
type FormatVerifier struct{}

// Verify implements domain.ProofVerifier.
func (FormatVerifier) Verify(identity, proof string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("%w: empty identity", domain.ErrInvalidProof)
	}
	if !hexKeyPattern.MatchString(strings.TrimPrefix(strings.TrimSpace(proof), "0x")) {
		return fmt.Errorf("%w: expected at least 64 hex characters", domain.ErrInvalidProof)
	}
	return nil
}
