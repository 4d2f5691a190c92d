package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	AuctionID string          `json:"auctionId"`
	PayerID   string          `json:"payerId"`
	Amount    decimal.Decimal `json:"amount"`
}

// AssetRequest is the body of POST /assets.
type AssetRequest struct {
	Descriptor domain.AssetDescriptor `json:"descriptor"`
	OwnerID    string                 `json:"ownerId"`
}

// LicenseRequest is the body of POST /licenses.
type LicenseRequest struct {
	AssetRef string              `json:"assetRef"`
	Terms    domain.LicenseTerms `json:"terms"`
}

// TxResponse is returned by every settlement endpoint. AssetRef is only
// set by /assets.
type TxResponse struct {
	TxRef    string `json:"txRef"`
	AssetRef string `json:"assetRef,omitempty"`
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (e errorBody) message() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Detail
}
