package server

import (
	"encoding/json"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/query"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request and response messages of stableledger.v1.Ledger. They travel as
// JSON both over gRPC and through the HTTP gateway.

type Empty struct{}

type SubmitRequest struct {
	Kind    string          `json:"kind"`
	Request json.RawMessage `json:"request"`
}

type SubmitResponse struct {
	Outcome *event.Outcome `json:"outcome"`
}

type OwnerRequest struct {
	Owner string `json:"owner"`
}

type VaultRequest struct {
	Owner   string `json:"owner"`
	AssetID string `json:"asset_id"`
}

type ProtocolView struct {
	Initialized        bool            `json:"initialized"`
	Admin              uuid.UUID       `json:"admin"`
	StableAsset        string          `json:"stable_asset"`
	StableDecimals     uint8           `json:"stable_decimals"`
	GovernanceAsset    string          `json:"governance_asset,omitempty"`
	TotalDebt          uint64          `json:"total_debt"`
	DebtCeiling        uint64          `json:"debt_ceiling"`
	BadDebt            uint64          `json:"bad_debt"`
	StabilityFee       decimal.Decimal `json:"stability_fee"`
	LiquidationPenalty decimal.Decimal `json:"liquidation_penalty"`
	CloseFactor        decimal.Decimal `json:"close_factor"`
	PoolCount          uint32          `json:"pool_count"`
	MaxPools           uint32          `json:"max_pools"`
	Sequence           int64           `json:"sequence"`
}

type PriceView struct {
	Price      decimal.Decimal `json:"price"`
	Confidence decimal.Decimal `json:"confidence"`
	AsOf       int64           `json:"as_of"`
	// Usable is false when the reading would be rejected for a valuation
	// right now; Reason says why.
	Usable bool   `json:"usable"`
	Reason string `json:"reason,omitempty"`
}

type PoolView struct {
	AssetID           string          `json:"asset_id"`
	Decimals          uint8           `json:"decimals"`
	TotalCollateral   uint64          `json:"total_collateral"`
	TotalShares       uint64          `json:"total_shares"`
	CollateralFactor  decimal.Decimal `json:"collateral_factor"`
	LiquidationFactor decimal.Decimal `json:"liquidation_factor"`
	InterestRateModel string          `json:"interest_rate_model,omitempty"`
	IsActive          bool            `json:"is_active"`
	CreatedAt         int64           `json:"created_at"`
	Price             *PriceView      `json:"price,omitempty"`
}

type PoolsResponse struct {
	Pools    []PoolView `json:"pools"`
	Sequence int64      `json:"sequence"`
}

type VaultView struct {
	Owner            uuid.UUID `json:"owner"`
	AssetID          string    `json:"asset_id"`
	CollateralShares uint64    `json:"collateral_shares"`
	Collateral       uint64    `json:"collateral"`
	DebtAmount       uint64    `json:"debt_amount"`
	AccruedInterest  uint64    `json:"accrued_interest"`
	// PendingInterest has accrued since LastUpdate and is charged on the
	// vault's next transition.
	PendingInterest uint64 `json:"pending_interest"`
	Owed            uint64 `json:"owed"`
	LastUpdate      int64  `json:"last_update"`

	// Valuation, present when the pool has a price.
	CollateralValue    *uint64          `json:"collateral_value,omitempty"`
	CollateralRatioBps *uint64          `json:"collateral_ratio_bps,omitempty"`
	HealthFactor       *decimal.Decimal `json:"health_factor,omitempty"`
	Liquidatable       bool             `json:"liquidatable"`
}

type VaultResponse struct {
	Vault    VaultView `json:"vault"`
	Sequence int64     `json:"sequence"`
}

type VaultsResponse struct {
	Owner    uuid.UUID   `json:"owner"`
	Vaults   []VaultView `json:"vaults"`
	Sequence int64       `json:"sequence"`
}

type StableBalanceResponse struct {
	Owner    uuid.UUID       `json:"owner"`
	Asset    string          `json:"asset"`
	Balance  int64           `json:"balance"`
	Display  decimal.Decimal `json:"display"`
	Sequence int64           `json:"sequence"`
}

type IntegrityResponse struct {
	Core core.IntegrityReport `json:"core"`
	// Log is nil when the service runs without Postgres.
	Log     *query.LogIntegrityReport `json:"log,omitempty"`
	Healthy bool                      `json:"healthy"`
}

type LiquidationsRequest struct {
	Owner   string `json:"owner,omitempty"`
	AssetID string `json:"asset_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Before  int64  `json:"before,omitempty"`
}
