package core

import (
	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/state"
)

func (c *DeterministicCore) handleProtocolInitialize(t *txn, e *event.ProtocolInitialize, meta ledger.BatchMeta) (*outcome, error) {
	if c.protocol.Initialized {
		return nil, errcode.New(errcode.CodeAlreadyInitialized, "protocol already initialized")
	}
	if e.StableAsset == "" {
		return nil, errcode.New(errcode.CodeInvalidParameter, "stable asset is required")
	}
	decimals := e.StableDecimals
	if decimals == 0 {
		decimals = state.DefaultStableDecimals
	}
	if decimals > fpmath.MaxDecimals {
		return nil, errcode.New(errcode.CodeInvalidParameter, "stable decimals must be <= %d, got %d", fpmath.MaxDecimals, decimals)
	}
	closeFactor := e.CloseFactorBps
	if closeFactor == 0 {
		closeFactor = state.DefaultCloseFactorBps
	}
	params := state.ProtocolParams{
		DebtCeiling:           e.DebtCeiling,
		StabilityFeeBps:       e.StabilityFeeBps,
		LiquidationPenaltyBps: e.LiquidationPenaltyBps,
		CloseFactorBps:        closeFactor,
	}
	if err := state.ValidateProtocolParams(params); err != nil {
		return nil, err
	}

	p := t.Protocol()
	*p = state.ProtocolState{
		Admin:                 e.Caller,
		StableAsset:           e.StableAsset,
		StableDecimals:        decimals,
		GovernanceAsset:       e.GovernanceAsset,
		DebtCeiling:           params.DebtCeiling,
		StabilityFeeBps:       params.StabilityFeeBps,
		LiquidationPenaltyBps: params.LiquidationPenaltyBps,
		CloseFactorBps:        params.CloseFactorBps,
		Initialized:           true,
	}

	return &outcome{
		batch:   c.journalGen.GenerateEmpty(meta),
		outcome: event.OutcomeProtocolInitialized,
		data: event.ProtocolInitialized{
			Admin:                 p.Admin,
			StableAsset:           p.StableAsset,
			StableDecimals:        p.StableDecimals,
			GovernanceAsset:       p.GovernanceAsset,
			DebtCeiling:           p.DebtCeiling,
			StabilityFeeBps:       p.StabilityFeeBps,
			LiquidationPenaltyBps: p.LiquidationPenaltyBps,
			CloseFactorBps:        p.CloseFactorBps,
		},
	}, nil
}

func (c *DeterministicCore) handleRegistryInitialize(t *txn, e *event.RegistryInitialize, meta ledger.BatchMeta) (*outcome, error) {
	if err := c.protocol.RequireAdmin(e.Caller); err != nil {
		return nil, err
	}
	if c.registry.Initialized {
		return nil, errcode.New(errcode.CodeAlreadyInitialized, "pool registry already initialized")
	}
	maxPools := e.MaxPools
	if maxPools == 0 {
		maxPools = c.cfg.DefaultMaxPools
	}
	if maxPools == 0 {
		maxPools = state.DefaultMaxPools
	}

	r := t.Registry()
	*r = state.PoolRegistry{
		Admin:       e.Caller,
		MaxPools:    maxPools,
		Initialized: true,
	}

	return &outcome{
		batch:   c.journalGen.GenerateEmpty(meta),
		outcome: event.OutcomeRegistryInitialized,
		data:    event.RegistryInitialized{Admin: r.Admin, MaxPools: r.MaxPools},
	}, nil
}

func (c *DeterministicCore) handlePoolRegister(t *txn, e *event.PoolRegister, meta ledger.BatchMeta) (*outcome, error) {
	if err := c.protocol.RequireAdmin(e.Caller); err != nil {
		return nil, err
	}
	if e.AssetID == "" {
		return nil, errcode.New(errcode.CodeInvalidParameter, "asset id is required")
	}
	if e.AssetID == c.protocol.StableAsset {
		return nil, errcode.New(errcode.CodeInvalidParameter, "the stable asset cannot back itself")
	}
	if err := state.ValidatePoolParams(e.CollateralFactorBps, e.LiquidationFactorBps, e.Decimals); err != nil {
		return nil, err
	}
	if err := t.Registry().Register(e.AssetID); err != nil {
		return nil, err
	}
	p := t.Protocol()
	p.PoolCount++

	pool := &state.CollateralPool{
		AssetID:              e.AssetID,
		Decimals:             e.Decimals,
		CollateralFactorBps:  e.CollateralFactorBps,
		LiquidationFactorBps: e.LiquidationFactorBps,
		InterestRateModel:    e.InterestRateModel,
		IsActive:             true,
		CreatedAt:            t.unix(),
	}
	t.NewPool(pool)

	return &outcome{
		batch:   c.journalGen.GenerateEmpty(meta),
		outcome: event.OutcomePoolRegistered,
		data: event.PoolRegistered{
			AssetID:              pool.AssetID,
			Decimals:             pool.Decimals,
			CollateralFactorBps:  pool.CollateralFactorBps,
			LiquidationFactorBps: pool.LiquidationFactorBps,
			InterestRateModel:    pool.InterestRateModel,
			PoolCount:            p.PoolCount,
		},
	}, nil
}

func (c *DeterministicCore) handlePriceUpdate(t *txn, e *event.PriceUpdate, meta ledger.BatchMeta) (*outcome, error) {
	if err := c.protocol.RequireAdmin(e.Caller); err != nil {
		return nil, err
	}
	r := e.Reading
	if _, err := t.PeekPool(r.AssetID); err != nil {
		return nil, err
	}
	if r.Price == 0 || r.AsOf.IsZero() {
		return nil, errcode.New(errcode.CodeInvalidOracle, "reading for %s needs a price and a time", r.AssetID)
	}
	if r.AsOf.After(t.now) {
		return nil, errcode.New(errcode.CodeInvalidOracle, "reading for %s is dated after the request", r.AssetID)
	}
	// Readings older than the held one are acknowledged but not stored.
	applied := true
	if cur, ok := c.feed.Latest(r.AssetID); ok && r.AsOf.Before(cur.AsOf) {
		applied = false
	}
	if applied {
		t.reading = &r
	}

	return &outcome{
		batch:   c.journalGen.GenerateEmpty(meta),
		outcome: event.OutcomePriceUpdated,
		data: event.PriceUpdated{
			AssetID:    r.AssetID,
			Price:      r.Price,
			Confidence: r.Confidence,
			AsOf:       r.AsOf,
			Applied:    applied,
		},
	}, nil
}

// handleProtocolParamsUpdate accrues every vault at the outgoing fee before
// the new parameters take effect, so a fee change never applies
// retroactively.
func (c *DeterministicCore) handleProtocolParamsUpdate(t *txn, e *event.ProtocolParamsUpdate, meta ledger.BatchMeta) (*outcome, error) {
	if err := c.protocol.RequireAdmin(e.Caller); err != nil {
		return nil, err
	}
	params := state.ProtocolParams{
		DebtCeiling:           e.DebtCeiling,
		StabilityFeeBps:       e.StabilityFeeBps,
		LiquidationPenaltyBps: e.LiquidationPenaltyBps,
		CloseFactorBps:        e.CloseFactorBps,
	}
	if err := state.ValidateProtocolParams(params); err != nil {
		return nil, err
	}

	accrued := 0
	for _, existing := range c.vaults.All() {
		if existing.LastUpdate >= t.unix() {
			continue
		}
		v, err := t.Vault(existing.Owner, existing.AssetID, false)
		if err != nil {
			return nil, err
		}
		if _, err := t.Accrue(v); err != nil {
			return nil, err
		}
		accrued++
	}

	p := t.Protocol()
	if err := p.SetParams(params); err != nil {
		return nil, err
	}

	return &outcome{
		batch:   c.journalGen.GenerateEmpty(meta),
		outcome: event.OutcomeProtocolParamsUpdated,
		data: event.ProtocolParamsUpdated{
			DebtCeiling:           p.DebtCeiling,
			StabilityFeeBps:       p.StabilityFeeBps,
			LiquidationPenaltyBps: p.LiquidationPenaltyBps,
			CloseFactorBps:        p.CloseFactorBps,
			VaultsAccrued:         accrued,
		},
	}, nil
}

func (c *DeterministicCore) handlePoolStatusUpdate(t *txn, e *event.PoolStatusUpdate, meta ledger.BatchMeta) (*outcome, error) {
	if err := c.protocol.RequireAdmin(e.Caller); err != nil {
		return nil, err
	}
	pool, err := t.Pool(e.AssetID)
	if err != nil {
		return nil, err
	}
	pool.IsActive = e.IsActive

	return &outcome{
		batch:   c.journalGen.GenerateEmpty(meta),
		outcome: event.OutcomePoolStatusChanged,
		data:    event.PoolStatusChanged{AssetID: pool.AssetID, IsActive: pool.IsActive},
	}, nil
}
