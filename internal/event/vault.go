package event

import (
	"StableLedger/internal/oracle"

	"github.com/google/uuid"
)

// CollateralDeposit locks Amount of the pool asset into the caller's vault.
type CollateralDeposit struct {
	RequestMeta
	AssetID string
	Amount  uint64
}

func (e *CollateralDeposit) EventType() EventType { return EventTypeCollateralDeposit }
func (e *CollateralDeposit) PoolID() *string      { return &e.AssetID }

// CollateralWithdraw burns Shares from the caller's vault. Price, admin
// only, replaces the feed reading for the collateral check.
type CollateralWithdraw struct {
	RequestMeta
	AssetID string
	Shares  uint64
	Price   *oracle.Reading
}

func (e *CollateralWithdraw) EventType() EventType { return EventTypeCollateralWithdraw }
func (e *CollateralWithdraw) PoolID() *string      { return &e.AssetID }

// StableMint borrows Amount of stable against the caller's vault.
type StableMint struct {
	RequestMeta
	AssetID string
	Amount  uint64
	Price   *oracle.Reading // admin only
}

func (e *StableMint) EventType() EventType { return EventTypeStableMint }
func (e *StableMint) PoolID() *string      { return &e.AssetID }

// StableRepay pays down the caller's vault debt.
type StableRepay struct {
	RequestMeta
	AssetID string
	Amount  uint64
}

func (e *StableRepay) EventType() EventType { return EventTypeStableRepay }
func (e *StableRepay) PoolID() *string      { return &e.AssetID }

// VaultLiquidate repays DebtToRepay of Owner's vault for its collateral.
type VaultLiquidate struct {
	RequestMeta
	AssetID     string
	Owner       uuid.UUID
	DebtToRepay uint64
	Price       *oracle.Reading // admin only
}

func (e *VaultLiquidate) EventType() EventType { return EventTypeVaultLiquidate }
func (e *VaultLiquidate) PoolID() *string      { return &e.AssetID }

// StableTransfer moves stable from the caller to To.
type StableTransfer struct {
	RequestMeta
	To     uuid.UUID
	Amount uint64
}

func (e *StableTransfer) EventType() EventType { return EventTypeStableTransfer }
func (e *StableTransfer) PoolID() *string      { return nil }
