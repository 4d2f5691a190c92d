package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStage is a step of the post-auction settlement state machine.
type SettlementStage string

const (
	StageIdle         SettlementStage = "idle"
	StageAuthorizing  SettlementStage = "authorizing"
	StagePaying       SettlementStage = "paying"
	StageRegistering  SettlementStage = "registering"
	StageLicenseSetup SettlementStage = "license_setup"
	StageComplete     SettlementStage = "complete"
	StageFailed       SettlementStage = "failed"
)

var stageOrder = map[SettlementStage]int{
	StageIdle:         0,
	StageAuthorizing:  1,
	StagePaying:       2,
	StageRegistering:  3,
	StageLicenseSetup: 4,
	StageComplete:     5,
}

// Next returns the stage that follows s on the happy path. Complete and
// Failed have no successor.
func (s SettlementStage) Next() SettlementStage {
	switch s {
	case StageIdle:
		return StageAuthorizing
	case StageAuthorizing:
		return StagePaying
	case StagePaying:
		return StageRegistering
	case StageRegistering:
		return StageLicenseSetup
	case StageLicenseSetup:
		return StageComplete
	default:
		return s
	}
}

// Before reports whether s precedes other on the happy path.
func (s SettlementStage) Before(other SettlementStage) bool {
	a, ok1 := stageOrder[s]
	b, ok2 := stageOrder[other]
	return ok1 && ok2 && a < b
}

// TxRef is a reference returned by the settlement authority for one stage.
type TxRef struct {
	Stage      SettlementStage `json:"stage"`
	Ref        string          `json:"ref"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// SettlementRecord is the durable progress of one auction's settlement.
type SettlementRecord struct {
	AuctionID   string
	WinnerID    string
	Amount      decimal.Decimal
	Stage       SettlementStage
	FailedStage SettlementStage // set while Stage == StageFailed
	TxRefs      []TxRef
	AssetRef    string
	LastError   string
	Blocked     bool
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ResumeStage is the stage a run should execute next. A failed record
// re-enters the stage that failed.
func (r SettlementRecord) ResumeStage() SettlementStage {
	switch r.Stage {
	case StageFailed:
		if r.FailedStage == "" {
			return StageAuthorizing
		}
		return r.FailedStage
	case StageIdle:
		return StageAuthorizing
	default:
		return r.Stage
	}
}

// Terminal reports whether the record needs no more work.
func (r SettlementRecord) Terminal() bool { return r.Stage == StageComplete }

// TxRefFor returns the reference recorded for stage, if any.
func (r SettlementRecord) TxRefFor(stage SettlementStage) (TxRef, bool) {
	for _, ref := range r.TxRefs {
		if ref.Stage == stage {
			return ref, true
		}
	}
	return TxRef{}, false
}

// View projects the record into the read model.
func (r SettlementRecord) View() *SettlementView {
	refs := make([]TxRef, len(r.TxRefs))
	copy(refs, r.TxRefs)
	return &SettlementView{
		Stage:     r.Stage,
		Blocked:   r.Blocked,
		TxRefs:    refs,
		AssetRef:  r.AssetRef,
		LastError: r.LastError,
	}
}

// AssetDescriptor identifies the auctioned agent NFT.
type AssetDescriptor struct {
	AgentID         string `json:"agentId" toml:"agent_id"`
	Name            string `json:"name" toml:"name"`
	Description     string `json:"description" toml:"description"`
	ImageURL        string `json:"imageUrl" toml:"image_url"`
	Creator         string `json:"creator" toml:"creator"`
	ContractAddress string `json:"contractAddress" toml:"contract_address"`
	TokenID         string `json:"tokenId" toml:"token_id"`
	MetadataURI     string `json:"metadataUri,omitempty" toml:"-"`
	MetadataHash    string `json:"metadataHash,omitempty" toml:"-"`
	NFTMetadataURI  string `json:"nftMetadataUri,omitempty" toml:"-"`
	NFTMetadataHash string `json:"nftMetadataHash,omitempty" toml:"-"`
}

// AssetRegistration is the result of registering an asset.
type AssetRegistration struct {
	TxRef    string
	AssetRef string
}

// LicenseTerms are the commercial terms attached to a registered asset.
type LicenseTerms struct {
	CommercialUse         bool            `json:"commercialUse"`
	DerivativesAllowed    bool            `json:"derivativesAllowed"`
	DerivativesReciprocal bool            `json:"derivativesReciprocal"`
	CommercialRevShare    uint32          `json:"commercialRevShare"` // percent
	DerivativeRevShare    uint32          `json:"derivativeRevShare"` // percent
	DefaultMintingFee     decimal.Decimal `json:"defaultMintingFee"`
	CommercializerFee     decimal.Decimal `json:"commercializerFee"`
	Currency              string          `json:"currency"`
	Receiver              string          `json:"receiver"`
}

// ZeroAddress denotes the chain's native currency.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// DefaultLicenseTerms returns commercial remix terms paying receiver.
func DefaultLicenseTerms(receiver string) LicenseTerms {
	return LicenseTerms{
		CommercialUse:         true,
		DerivativesAllowed:    true,
		DerivativesReciprocal: false,
		CommercialRevShare:    5,
		DerivativeRevShare:    3,
		DefaultMintingFee:     decimal.Zero,
		CommercializerFee:     decimal.Zero,
		Currency:              ZeroAddress,
		Receiver:              receiver,
	}
}

// SettlementEvent is the notification payload for settlement milestones.
type SettlementEvent struct {
	Kind      string
	AuctionID string
	WinnerID  string
	Amount    decimal.Decimal
	Stage     SettlementStage
	Detail    string
	At        time.Time
}

const (
	EventAuctionWon            = "auction_won"
	EventAuthorizationRequired = "authorization_required"
	EventSettlementFailed      = "settlement_failed"
	EventSettlementComplete    = "settlement_complete"
)
