// Package ledger is the HTTP client for the remote auction ledger service,
// the source of truth for highest bids.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// defaultRejection is used when the ledger refuses a bid without a reason.
const defaultRejection = "Failed to place bid"

// Client implements domain.AuctionGateway over HTTP. It does not retry or
// cache; callers decide when to try again.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
}

// NewClient creates a ledger client for baseURL, e.g.
// "https://agent-mint-back.onrender.com".
func NewClient(baseURL string, timeout time.Duration, clock clockwork.Clock) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock,
	}
}

// FetchState returns the ledger's current view of auctionID.
func (c *Client) FetchState(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	path := "/auction/" + url.PathEscape(auctionID)

	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.AuctionState{}, fmt.Errorf("ledger: fetch %s: %w", auctionID, err)
	}
	if err := checkHTTPStatus(status, body); err != nil {
		return domain.AuctionState{}, fmt.Errorf("ledger: fetch %s: %w", auctionID, err)
	}

	var doc APIAuction
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.AuctionState{}, fmt.Errorf("ledger: fetch %s: %w: decode: %v", auctionID, domain.ErrNetworkFailure, err)
	}
	return doc.ToDomain(auctionID, c.clock.Now().UTC()), nil
}

// SubmitBid places bid. A refusal is returned as *domain.RejectedError with
// the ledger's reason verbatim.
func (c *Client) SubmitBid(ctx context.Context, bid domain.BidCandidate) (domain.BidAck, error) {
	req := PlaceBidRequest{
		NFTID:        bid.AuctionID,
		BidderWallet: bid.BidderID,
		Amount:       json.Number(bid.Amount.String()),
		Timestamp:    bid.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}

	status, body, err := c.do(ctx, http.MethodPost, "/place-bid", req)
	if err != nil {
		return domain.BidAck{}, fmt.Errorf("ledger: place bid: %w", err)
	}

	if status >= 500 {
		return domain.BidAck{}, fmt.Errorf("ledger: place bid: %w: HTTP %d: %s", domain.ErrNetworkFailure, status, truncate(body))
	}
	if status < 200 || status >= 300 {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err != nil {
			return domain.BidAck{}, fmt.Errorf("ledger: place bid: %w: HTTP %d: undecodable body", domain.ErrNetworkFailure, status)
		}
		reason := eb.reason()
		if reason == "" {
			reason = defaultRejection
		}
		return domain.BidAck{}, domain.Rejected(reason)
	}

	var resp PlaceBidResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return domain.BidAck{}, fmt.Errorf("ledger: place bid: %w: decode: %v", domain.ErrNetworkFailure, err)
		}
	}
	return domain.BidAck{
		BidID:      resp.BidID,
		AuctionID:  bid.AuctionID,
		Amount:     bid.Amount,
		Message:    resp.Message,
		AcceptedAt: c.clock.Now().UTC(),
	}, nil
}

// do sends a request and reads the whole body. Transport failures wrap
// domain.ErrNetworkFailure.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", domain.ErrNetworkFailure, err)
	}
	return resp.StatusCode, body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. Everything but
// a missing auction is transient.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, truncate(body))
	case http.StatusTooManyRequests:
		return errors.Join(domain.ErrNetworkFailure, fmt.Errorf("%w: %s", domain.ErrRateLimited, truncate(body)))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetworkFailure, statusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

var _ domain.AuctionGateway = (*Client)(nil)
