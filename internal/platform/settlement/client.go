// Package settlement is the HTTP client for the settlement authority that
// takes payment, registers the won asset and attaches license terms.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// HeaderIdempotencyKey carries the auction id on payment requests so the
// authority charges each auction at most once.
const HeaderIdempotencyKey = "Idempotency-Key"

// Client implements domain.SettlementAuthority over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	hmacAuth   *crypto.HMACAuth
}

// NewClient creates a settlement authority client. hmac may be nil, in
// which case requests are sent unsigned.
func NewClient(baseURL string, timeout time.Duration, hmac *crypto.HMACAuth) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		hmacAuth:   hmac,
	}
}

// Pay charges payerID amount for auctionID.
func (c *Client) Pay(ctx context.Context, auctionID, payerID string, amount decimal.Decimal) (string, error) {
	body := PaymentRequest{AuctionID: auctionID, PayerID: payerID, Amount: amount}
	headers := map[string]string{HeaderIdempotencyKey: auctionID}

	var resp TxResponse
	if err := c.doRequest(ctx, "/payments", body, headers, &resp); err != nil {
		return "", fmt.Errorf("settlement: pay %s: %w", auctionID, err)
	}
	if resp.TxRef == "" {
		return "", fmt.Errorf("settlement: pay %s: empty txRef", auctionID)
	}
	return resp.TxRef, nil
}

// RegisterAsset registers asset with ownerID as its owner.
func (c *Client) RegisterAsset(ctx context.Context, asset domain.AssetDescriptor, ownerID string) (domain.AssetRegistration, error) {
	body := AssetRequest{Descriptor: asset, OwnerID: ownerID}
	headers := map[string]string{}
	if asset.AgentID != "" {
		headers[HeaderIdempotencyKey] = "asset:" + asset.AgentID
	}

	var resp TxResponse
	if err := c.doRequest(ctx, "/assets", body, headers, &resp); err != nil {
		return domain.AssetRegistration{}, fmt.Errorf("settlement: register asset %s: %w", asset.AgentID, err)
	}
	if resp.AssetRef == "" {
		return domain.AssetRegistration{}, fmt.Errorf("settlement: register asset %s: empty assetRef", asset.AgentID)
	}
	return domain.AssetRegistration{TxRef: resp.TxRef, AssetRef: resp.AssetRef}, nil
}

// SetLicenseTerms attaches terms to the registered asset.
func (c *Client) SetLicenseTerms(ctx context.Context, assetRef string, terms domain.LicenseTerms) (string, error) {
	body := LicenseRequest{AssetRef: assetRef, Terms: terms}

	var resp TxResponse
	if err := c.doRequest(ctx, "/licenses", body, nil, &resp); err != nil {
		return "", fmt.Errorf("settlement: license %s: %w", assetRef, err)
	}
	return resp.TxRef, nil
}

// doRequest POSTs body to path, signing it when credentials are set, and
// decodes the response into out.
func (c *Client) doRequest(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.hmacAuth.Enabled() {
		for k, v := range c.hmacAuth.Headers(http.MethodPost, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrNetworkFailure, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode: %v", domain.ErrNetworkFailure, err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. Throttling and
// server errors are transient so the pipeline retries them in place.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.message() != "" {
		msg = eb.message()
	}

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return errors.Join(domain.ErrNetworkFailure, fmt.Errorf("%w: %s", domain.ErrRateLimited, msg))
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetworkFailure, statusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

var _ domain.SettlementAuthority = (*Client)(nil)
