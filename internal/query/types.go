package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse is one projected ledger account.
type BalanceResponse struct {
	AccountPath  string          `json:"account_path"`
	SubType      string          `json:"sub_type"`
	Asset        string          `json:"asset"`
	Balance      int64           `json:"balance"`
	Display      decimal.Decimal `json:"display"` // balance in whole tokens
	LastSequence int64           `json:"last_sequence"`
}

// BalancesResponse lists a user's projected accounts.
type BalancesResponse struct {
	Owner        uuid.UUID         `json:"owner"`
	Balances     []BalanceResponse `json:"balances"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// VaultResponse is a projected vault with display amounts.
type VaultResponse struct {
	Owner            uuid.UUID       `json:"owner"`
	AssetID          string          `json:"asset_id"`
	CollateralShares decimal.Decimal `json:"collateral_shares"`
	Collateral       decimal.Decimal `json:"collateral"` // shares at the pool's share price
	DebtAmount       decimal.Decimal `json:"debt_amount"`
	AccruedInterest  decimal.Decimal `json:"accrued_interest"`
	LastUpdate       int64           `json:"last_update"`
	LastSequence     int64           `json:"last_sequence"`
}

// VaultsResponse lists a user's projected vaults.
type VaultsResponse struct {
	Owner        uuid.UUID       `json:"owner"`
	Vaults       []VaultResponse `json:"vaults"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// LiquidationResponse is one liquidation from the history projection.
type LiquidationResponse struct {
	Sequence         int64           `json:"sequence"`
	Liquidator       uuid.UUID       `json:"liquidator"`
	Owner            uuid.UUID       `json:"owner"`
	AssetID          string          `json:"asset_id"`
	Price            decimal.Decimal `json:"price"`
	DebtRepaid       decimal.Decimal `json:"debt_repaid"`
	CollateralSeized decimal.Decimal `json:"collateral_seized"`
	SharesBurned     decimal.Decimal `json:"shares_burned"`
	BadDebt          decimal.Decimal `json:"bad_debt"`
	Timestamp        time.Time       `json:"timestamp"`
}

// LiquidationsResponse is a page of liquidation history, newest first.
type LiquidationsResponse struct {
	Liquidations []LiquidationResponse `json:"liquidations"`
	// NextBefore is the cursor for the next page, nil on the last page.
	NextBefore   *int64 `json:"next_before,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LogIntegrityReport checks the persisted event log and projections.
type LogIntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HeadSequence     int64             `json:"head_sequence"`
	SequenceGaps     []int64           `json:"sequence_gaps,omitempty"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset is an asset whose accounts do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}
