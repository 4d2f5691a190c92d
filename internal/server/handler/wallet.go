package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Wallets records and reports wallet authorizations.
type Wallets interface {
	Authorize(ctx context.Context, identity, proof string) (bool, error)
	Authorization(ctx context.Context, identity string) (domain.WalletAuthorization, error)
}

// WalletHandler serves the wallet authorization endpoints.
type WalletHandler struct {
	wallets Wallets
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallets Wallets, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger.With(slog.String("handler", "wallet"))}
}

type authorizeRequest struct {
	Identity string `json:"identity"`
	Proof    string `json:"proof"`
}

// Authorize verifies a wallet proof. A rejected proof is a 200 with
// authorized=false.
// POST /api/wallet/authorize
func (h *WalletHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Identity == "" || req.Proof == "" {
		writeError(w, http.StatusBadRequest, "identity and proof are required")
		return
	}

	ok, err := h.wallets.Authorize(r.Context(), req.Identity, req.Proof)
	if err != nil {
		h.logger.Error("authorize failed", slog.String("identity", req.Identity), slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": req.Identity, "authorized": ok})
}

// GetAuthorization returns the stored authorization without the proof.
// GET /api/wallet/{identity}
func (h *WalletHandler) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	a, err := h.wallets.Authorization(r.Context(), r.PathValue("identity"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":     a.Identity,
		"authorized":   true,
		"authorizedAt": a.AuthorizedAt,
		"proofPreview": a.ProofPreview,
	})
}
