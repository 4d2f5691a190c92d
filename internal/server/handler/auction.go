package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Session is one followed auction as the API sees it.
type Session interface {
	View() domain.AuctionView
	SubmitBid(ctx context.Context, amount decimal.Decimal) (domain.BidAck, error)
	Refresh(ctx context.Context) error
	RetrySettlement(ctx context.Context) error
	Settlement(ctx context.Context) (domain.SettlementRecord, error)
}

// Auctions lists and looks up followed auctions.
type Auctions interface {
	List() []domain.AuctionView
	Lookup(auctionID string) (Session, error)
}

// MetadataLoader returns archived asset metadata documents.
type MetadataLoader interface {
	Load(ctx context.Context, auctionID, kind string) ([]byte, error)
}

// AuctionHandler serves the auction endpoints.
type AuctionHandler struct {
	auctions Auctions
	audit    domain.AuditStore
	metadata MetadataLoader
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler. audit and metadata may be
// nil.
func NewAuctionHandler(auctions Auctions, audit domain.AuditStore, metadata MetadataLoader, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		audit:    audit,
		metadata: metadata,
		logger:   logger.With(slog.String("handler", "auction")),
	}
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type settlementResponse struct {
	AuctionID   string                 `json:"auctionId"`
	WinnerID    string                 `json:"winnerId"`
	Amount      decimal.Decimal        `json:"amount"`
	Stage       domain.SettlementStage `json:"stage"`
	FailedStage domain.SettlementStage `json:"failedStage,omitempty"`
	Blocked     bool                   `json:"blocked"`
	TxRefs      []domain.TxRef         `json:"txRefs"`
	AssetRef    string                 `json:"assetRef,omitempty"`
	LastError   string                 `json:"lastError,omitempty"`
	Attempts    int                    `json:"attempts"`
	UpdatedAt   string                 `json:"updatedAt"`
	History     []auditResponse        `json:"history,omitempty"`
}

type auditResponse struct {
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"createdAt"`
}

// ListAuctions returns every followed auction's read model.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"auctions": h.auctions.List()})
}

// GetAuction returns one read model.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// PlaceBid submits a bid for the local identity.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	ack, err := s.SubmitBid(r.Context(), req.Amount)
	if err != nil {
		var rej *domain.RejectedError
		if !errors.As(err, &rej) {
			h.logger.Warn("bid failed", slog.String("auction_id", r.PathValue("id")), slog.String("error", err.Error()))
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"bidId":      ack.BidID,
		"auctionId":  ack.AuctionID,
		"amount":     ack.Amount,
		"message":    ack.Message,
		"acceptedAt": ack.AcceptedAt,
	})
}

// Refresh forces a poll of the ledger.
// POST /api/auctions/{id}/refresh
func (h *AuctionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Refresh(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// RetrySettlement re-runs settlement from its recorded stage.
// POST /api/auctions/{id}/settlement/retry
func (h *AuctionHandler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.RetrySettlement(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "settling"})
}

// GetSettlement returns the settlement record and its audit history.
// GET /api/auctions/{id}/settlement
func (h *AuctionHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	rec, err := s.Settlement(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := settlementResponse{
		AuctionID:   rec.AuctionID,
		WinnerID:    rec.WinnerID,
		Amount:      rec.Amount,
		Stage:       rec.Stage,
		FailedStage: rec.FailedStage,
		Blocked:     rec.Blocked,
		TxRefs:      rec.TxRefs,
		AssetRef:    rec.AssetRef,
		LastError:   rec.LastError,
		Attempts:    rec.Attempts,
		UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.TxRefs == nil {
		resp.TxRefs = []domain.TxRef{}
	}
	if h.audit != nil {
		opts := parseListOpts(r)
		opts.AuctionID = rec.AuctionID
		entries, err := h.audit.List(r.Context(), opts)
		if err != nil {
			h.logger.Warn("audit history unavailable", slog.String("error", err.Error()))
		}
		for _, e := range entries {
			resp.History = append(resp.History, auditResponse{
				Event:     e.Event,
				Detail:    e.Detail,
				CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMetadata returns an archived metadata document ("ip" or "nft").
// GET /api/auctions/{id}/metadata/{kind}
func (h *AuctionHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	if h.metadata == nil {
		writeError(w, http.StatusNotFound, "metadata archive not configured")
		return
	}
	kind := r.PathValue("kind")
	if kind != "ip" && kind != "nft" {
		writeError(w, http.StatusBadRequest, "kind must be ip or nft")
		return
	}
	data, err := h.metadata.Load(r.Context(), r.PathValue("id"), kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

func (h *AuctionHandler) lookup(w http.ResponseWriter, r *http.Request) (Session, bool) {
	s, err := h.auctions.Lookup(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return s, true
}
