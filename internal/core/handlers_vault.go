package core

import (
	"StableLedger/internal/errcode"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/state"
)

func (c *DeterministicCore) handleCollateralDeposit(t *txn, e *event.CollateralDeposit, meta ledger.BatchMeta) (*outcome, error) {
	pool, err := t.Pool(e.AssetID)
	if err != nil {
		return nil, err
	}
	vault, err := t.Vault(e.Caller, e.AssetID, true)
	if err != nil {
		return nil, err
	}
	if _, err := t.Accrue(vault); err != nil {
		return nil, err
	}
	minted, err := pool.Deposit(vault, e.Amount)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateDeposit(meta, e.Caller, e.AssetID, e.Amount)
	if err != nil {
		return nil, err
	}

	return &outcome{
		batch:   batch,
		outcome: event.OutcomeCollateralDeposited,
		data: event.CollateralDeposited{
			Owner:               e.Caller,
			Amount:              e.Amount,
			SharesMinted:        minted,
			VaultShares:         vault.CollateralShares,
			PoolTotalCollateral: pool.TotalCollateral,
			PoolTotalShares:     pool.TotalShares,
		},
	}, nil
}

func (c *DeterministicCore) handleCollateralWithdraw(t *txn, e *event.CollateralWithdraw, meta ledger.BatchMeta) (*outcome, error) {
	price, err := t.PriceFor(e.AssetID, e.Caller, e.Price)
	if err != nil {
		return nil, err
	}
	pool, err := t.Pool(e.AssetID)
	if err != nil {
		return nil, err
	}
	vault, err := t.Vault(e.Caller, e.AssetID, false)
	if err != nil {
		return nil, err
	}
	accrued, err := t.Accrue(vault)
	if err != nil {
		return nil, err
	}
	returned, err := pool.Withdraw(vault, e.Shares, t.Protocol().StableDecimals, price)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateWithdraw(meta, e.Caller, e.AssetID, returned)
	if err != nil {
		return nil, err
	}

	return &outcome{
		batch:   batch,
		outcome: event.OutcomeCollateralWithdrawn,
		data: event.CollateralWithdrawn{
			Owner:               e.Caller,
			SharesBurned:        e.Shares,
			AmountReturned:      returned,
			VaultShares:         vault.CollateralShares,
			PoolTotalCollateral: pool.TotalCollateral,
			PoolTotalShares:     pool.TotalShares,
			InterestAccrued:     accrued,
		},
	}, nil
}

func (c *DeterministicCore) handleStableMint(t *txn, e *event.StableMint, meta ledger.BatchMeta) (*outcome, error) {
	price, err := t.PriceFor(e.AssetID, e.Caller, e.Price)
	if err != nil {
		return nil, err
	}
	pool, err := t.Pool(e.AssetID)
	if err != nil {
		return nil, err
	}
	vault, err := t.Vault(e.Caller, e.AssetID, false)
	if err != nil {
		return nil, err
	}
	accrued, err := t.Accrue(vault)
	if err != nil {
		return nil, err
	}
	protocol := t.Protocol()
	if err := state.MintStable(protocol, pool, vault, e.Amount, price); err != nil {
		return nil, err
	}

	value, err := pool.VaultCollateralValue(vault, t.price, protocol.StableDecimals)
	if err != nil {
		return nil, err
	}
	owed, err := vault.Owed()
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateMint(meta, e.Caller, e.Amount)
	if err != nil {
		return nil, err
	}

	return &outcome{
		batch:   batch,
		outcome: event.OutcomeStableMinted,
		data: event.StableMinted{
			Owner:              e.Caller,
			Amount:             e.Amount,
			Price:              t.price,
			CollateralValue:    value,
			VaultDebt:          vault.DebtAmount,
			AccruedInterest:    vault.AccruedInterest,
			InterestAccrued:    accrued,
			CollateralRatioBps: fpmath.CollateralRatioBps(value, owed),
			TotalDebt:          protocol.TotalDebt,
		},
	}, nil
}

func (c *DeterministicCore) handleStableRepay(t *txn, e *event.StableRepay, meta ledger.BatchMeta) (*outcome, error) {
	if _, err := t.PeekPool(e.AssetID); err != nil {
		return nil, err
	}
	vault, err := t.Vault(e.Caller, e.AssetID, false)
	if err != nil {
		return nil, err
	}
	accrued, err := t.Accrue(vault)
	if err != nil {
		return nil, err
	}
	protocol := t.Protocol()
	interestPaid, principalPaid, err := state.Repay(protocol, vault, e.Amount)
	if err != nil {
		return nil, err
	}
	if err := c.balanceTracker.ValidateSufficientStable(e.Caller, protocol.StableAsset, e.Amount); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateRepay(meta, e.Caller, interestPaid, principalPaid)
	if err != nil {
		return nil, err
	}

	return &outcome{
		batch:   batch,
		outcome: event.OutcomeStableRepaid,
		data: event.StableRepaid{
			Owner:           e.Caller,
			Amount:          e.Amount,
			InterestPaid:    interestPaid,
			PrincipalPaid:   principalPaid,
			VaultDebt:       vault.DebtAmount,
			AccruedInterest: vault.AccruedInterest,
			InterestAccrued: accrued,
			TotalDebt:       protocol.TotalDebt,
		},
	}, nil
}

func (c *DeterministicCore) handleVaultLiquidate(t *txn, e *event.VaultLiquidate, meta ledger.BatchMeta) (*outcome, error) {
	price, err := t.PriceFor(e.AssetID, e.Caller, e.Price)
	if err != nil {
		return nil, err
	}
	pool, err := t.Pool(e.AssetID)
	if err != nil {
		return nil, err
	}
	vault, err := t.Vault(e.Owner, e.AssetID, false)
	if err != nil {
		return nil, err
	}
	accrued, err := t.Accrue(vault)
	if err != nil {
		return nil, err
	}
	protocol := t.Protocol()
	res, err := state.Liquidate(protocol, pool, vault, e.DebtToRepay, price)
	if err != nil {
		return nil, err
	}
	if err := c.balanceTracker.ValidateSufficientStable(e.Caller, protocol.StableAsset, res.DebtRepaid); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateLiquidation(meta, ledger.LiquidationLegs{
		Liquidator:    e.Caller,
		Asset:         e.AssetID,
		InterestPaid:  res.InterestPaid,
		PrincipalPaid: res.PrincipalPaid,
		Seized:        res.CollateralSeized,
		BadDebt:       res.BadDebt,
		WrittenOff:    res.PrincipalWrittenOff,
	})
	if err != nil {
		return nil, err
	}

	return &outcome{
		batch:   batch,
		outcome: event.OutcomeVaultLiquidated,
		data: event.VaultLiquidated{
			Liquidator:       e.Caller,
			Owner:            e.Owner,
			Price:            t.price,
			CollateralValue:  res.CollateralValue,
			OwedBefore:       res.OwedBefore,
			DebtRepaid:       res.DebtRepaid,
			InterestPaid:     res.InterestPaid,
			PrincipalPaid:    res.PrincipalPaid,
			CollateralSeized: res.CollateralSeized,
			SharesBurned:     res.SharesBurned,
			BadDebt:          res.BadDebt,
			DebtWrittenOff:   res.DebtWrittenOff,
			VaultShares:      vault.CollateralShares,
			VaultDebt:        vault.DebtAmount,
			AccruedInterest:  vault.AccruedInterest,
			InterestAccrued:  accrued,
			TotalDebt:        protocol.TotalDebt,
		},
	}, nil
}

func (c *DeterministicCore) handleStableTransfer(t *txn, e *event.StableTransfer, meta ledger.BatchMeta) (*outcome, error) {
	if !c.protocol.Initialized {
		return nil, errcode.New(errcode.CodeNotInitialized, "protocol not initialized")
	}
	if e.Amount == 0 {
		return nil, errcode.New(errcode.CodeInvalidParameter, "transfer amount must be > 0")
	}
	if e.To == e.Caller {
		return nil, errcode.New(errcode.CodeInvalidParameter, "cannot transfer to self")
	}
	if err := c.balanceTracker.ValidateSufficientStable(e.Caller, c.protocol.StableAsset, e.Amount); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateStableTransfer(meta, e.Caller, e.To, e.Amount)
	if err != nil {
		return nil, err
	}

	return &outcome{
		batch:   batch,
		outcome: event.OutcomeStableTransferred,
		data:    event.StableTransferred{From: e.Caller, To: e.To, Amount: e.Amount},
	}, nil
}
