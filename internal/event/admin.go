package event

import "StableLedger/internal/oracle"

// ProtocolInitialize creates the protocol singleton. The caller becomes
// the admin.
type ProtocolInitialize struct {
	RequestMeta
	StableAsset           string
	StableDecimals        uint8 // 0 selects the default (6)
	GovernanceAsset       string
	DebtCeiling           uint64
	StabilityFeeBps       uint64
	LiquidationPenaltyBps uint64
	CloseFactorBps        uint64 // 0 selects the default (100%)
}

func (e *ProtocolInitialize) EventType() EventType { return EventTypeProtocolInitialize }
func (e *ProtocolInitialize) PoolID() *string      { return nil }

// RegistryInitialize creates the pool registry.
type RegistryInitialize struct {
	RequestMeta
	MaxPools uint32 // 0 selects the default
}

func (e *RegistryInitialize) EventType() EventType { return EventTypeRegistryInitialize }
func (e *RegistryInitialize) PoolID() *string      { return nil }

// PoolRegister adds a collateral pool.
type PoolRegister struct {
	RequestMeta
	AssetID              string
	Decimals             uint8
	CollateralFactorBps  uint64
	LiquidationFactorBps uint64
	InterestRateModel    string
}

func (e *PoolRegister) EventType() EventType { return EventTypePoolRegister }
func (e *PoolRegister) PoolID() *string      { return &e.AssetID }

// PriceUpdate feeds a reading into the in-core price feed.
type PriceUpdate struct {
	RequestMeta
	Reading oracle.Reading
}

func (e *PriceUpdate) EventType() EventType { return EventTypePriceUpdate }
func (e *PriceUpdate) PoolID() *string      { return &e.Reading.AssetID }

// ProtocolParamsUpdate replaces the tunable protocol parameters.
type ProtocolParamsUpdate struct {
	RequestMeta
	DebtCeiling           uint64
	StabilityFeeBps       uint64
	LiquidationPenaltyBps uint64
	CloseFactorBps        uint64
}

func (e *ProtocolParamsUpdate) EventType() EventType { return EventTypeProtocolParamsUpdate }
func (e *ProtocolParamsUpdate) PoolID() *string      { return nil }

// PoolStatusUpdate activates or deactivates a pool.
type PoolStatusUpdate struct {
	RequestMeta
	AssetID  string
	IsActive bool
}

func (e *PoolStatusUpdate) EventType() EventType { return EventTypePoolStatusUpdate }
func (e *PoolStatusUpdate) PoolID() *string      { return &e.AssetID }
