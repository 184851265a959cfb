package event

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeType names the structured event emitted for an applied request.
type OutcomeType string

const (
	OutcomeProtocolInitialized   OutcomeType = "ProtocolInitialized"
	OutcomeRegistryInitialized   OutcomeType = "RegistryInitialized"
	OutcomePoolRegistered        OutcomeType = "PoolRegistered"
	OutcomeCollateralDeposited   OutcomeType = "CollateralDeposited"
	OutcomeCollateralWithdrawn   OutcomeType = "CollateralWithdrawn"
	OutcomeStableMinted          OutcomeType = "StableMinted"
	OutcomeStableRepaid          OutcomeType = "StableRepaid"
	OutcomeVaultLiquidated       OutcomeType = "VaultLiquidated"
	OutcomePriceUpdated          OutcomeType = "PriceUpdated"
	OutcomeProtocolParamsUpdated OutcomeType = "ProtocolParamsUpdated"
	OutcomePoolStatusChanged     OutcomeType = "PoolStatusChanged"
	OutcomeStableTransferred     OutcomeType = "StableTransferred"
)

// Outcome is the audit record of one applied request. Data holds one of
// the typed payloads below.
type Outcome struct {
	Type      OutcomeType `json:"type"`
	Sequence  int64       `json:"sequence"`
	RequestID string      `json:"request_id"`
	Actor     uuid.UUID   `json:"actor"`
	Pool      string      `json:"pool,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type ProtocolInitialized struct {
	Admin                 uuid.UUID `json:"admin"`
	StableAsset           string    `json:"stable_asset"`
	StableDecimals        uint8     `json:"stable_decimals"`
	GovernanceAsset       string    `json:"governance_asset,omitempty"`
	DebtCeiling           uint64    `json:"debt_ceiling"`
	StabilityFeeBps       uint64    `json:"stability_fee_bps"`
	LiquidationPenaltyBps uint64    `json:"liquidation_penalty_bps"`
	CloseFactorBps        uint64    `json:"close_factor_bps"`
}

type RegistryInitialized struct {
	Admin    uuid.UUID `json:"admin"`
	MaxPools uint32    `json:"max_pools"`
}

type PoolRegistered struct {
	AssetID              string `json:"asset_id"`
	Decimals             uint8  `json:"decimals"`
	CollateralFactorBps  uint64 `json:"collateral_factor_bps"`
	LiquidationFactorBps uint64 `json:"liquidation_factor_bps"`
	InterestRateModel    string `json:"interest_rate_model,omitempty"`
	PoolCount            uint32 `json:"pool_count"`
}

type CollateralDeposited struct {
	Owner               uuid.UUID `json:"owner"`
	Amount              uint64    `json:"amount"`
	SharesMinted        uint64    `json:"shares_minted"`
	VaultShares         uint64    `json:"vault_shares"`
	PoolTotalCollateral uint64    `json:"pool_total_collateral"`
	PoolTotalShares     uint64    `json:"pool_total_shares"`
}

type CollateralWithdrawn struct {
	Owner               uuid.UUID `json:"owner"`
	SharesBurned        uint64    `json:"shares_burned"`
	AmountReturned      uint64    `json:"amount_returned"`
	VaultShares         uint64    `json:"vault_shares"`
	PoolTotalCollateral uint64    `json:"pool_total_collateral"`
	PoolTotalShares     uint64    `json:"pool_total_shares"`
	InterestAccrued     uint64    `json:"interest_accrued"`
}

type StableMinted struct {
	Owner              uuid.UUID `json:"owner"`
	Amount             uint64    `json:"amount"`
	Price              uint64    `json:"price"`
	CollateralValue    uint64    `json:"collateral_value"`
	VaultDebt          uint64    `json:"vault_debt"`
	AccruedInterest    uint64    `json:"accrued_interest"`
	InterestAccrued    uint64    `json:"interest_accrued"`
	CollateralRatioBps uint64    `json:"collateral_ratio_bps"`
	TotalDebt          uint64    `json:"total_debt"`
}

type StableRepaid struct {
	Owner           uuid.UUID `json:"owner"`
	Amount          uint64    `json:"amount"`
	InterestPaid    uint64    `json:"interest_paid"`
	PrincipalPaid   uint64    `json:"principal_paid"`
	VaultDebt       uint64    `json:"vault_debt"`
	AccruedInterest uint64    `json:"accrued_interest"`
	InterestAccrued uint64    `json:"interest_accrued"`
	TotalDebt       uint64    `json:"total_debt"`
}

type VaultLiquidated struct {
	Liquidator       uuid.UUID `json:"liquidator"`
	Owner            uuid.UUID `json:"owner"`
	Price            uint64    `json:"price"`
	CollateralValue  uint64    `json:"collateral_value"`
	OwedBefore       uint64    `json:"owed_before"`
	DebtRepaid       uint64    `json:"debt_repaid"`
	InterestPaid     uint64    `json:"interest_paid"`
	PrincipalPaid    uint64    `json:"principal_paid"`
	CollateralSeized uint64    `json:"collateral_seized"`
	SharesBurned     uint64    `json:"shares_burned"`
	BadDebt          uint64    `json:"bad_debt"`
	DebtWrittenOff   uint64    `json:"debt_written_off"`
	VaultShares      uint64    `json:"vault_shares"`
	VaultDebt        uint64    `json:"vault_debt"`
	AccruedInterest  uint64    `json:"accrued_interest"`
	InterestAccrued  uint64    `json:"interest_accrued"`
	TotalDebt        uint64    `json:"total_debt"`
}

type PriceUpdated struct {
	AssetID    string    `json:"asset_id"`
	Price      uint64    `json:"price"`
	Confidence uint64    `json:"confidence"`
	AsOf       time.Time `json:"as_of"`
	Applied    bool      `json:"applied"`
}

type ProtocolParamsUpdated struct {
	DebtCeiling           uint64 `json:"debt_ceiling"`
	StabilityFeeBps       uint64 `json:"stability_fee_bps"`
	LiquidationPenaltyBps uint64 `json:"liquidation_penalty_bps"`
	CloseFactorBps        uint64 `json:"close_factor_bps"`
	VaultsAccrued         int    `json:"vaults_accrued"`
}

type PoolStatusChanged struct {
	AssetID  string `json:"asset_id"`
	IsActive bool   `json:"is_active"`
}

type StableTransferred struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Amount uint64    `json:"amount"`
}
