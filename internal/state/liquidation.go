package state

import (
	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"
)

// LiquidationResult describes the settlement of one partial liquidation.
type LiquidationResult struct {
	CollateralValue  uint64 // vault collateral value before settlement, stable units
	OwedBefore       uint64
	DebtRepaid       uint64
	InterestPaid     uint64
	PrincipalPaid    uint64
	CollateralSeized uint64 // includes swept dust when the pool empties
	SharesBurned     uint64
	BadDebt          uint64 // shortfall plus any written-off debt, stable units

	// Set when every share was seized: what the vault still owed after
	// the repayment, removed from the vault and from TotalDebt.
	DebtWrittenOff      uint64
	PrincipalWrittenOff uint64
}

// Liquidate settles debtToRepay of an under-collateralized vault against
// its collateral plus the liquidation penalty. The vault must already be
// accrued to the transition time. Callers pass working copies and discard
// them on error.
//
// A liquidation that seizes the vault's last share closes it: whatever
// is still owed is written off to bad debt.
func Liquidate(protocol *ProtocolState, pool *CollateralPool, vault *UserVault, debtToRepay uint64, price PriceFunc) (LiquidationResult, error) {
	var res LiquidationResult

	px, err := price()
	if err != nil {
		return res, err
	}
	available, err := pool.ShareValue(vault.CollateralShares)
	if err != nil {
		return res, err
	}
	value, err := fpmath.CollateralValue(available, px, pool.Decimals, protocol.StableDecimals)
	if err != nil {
		return res, err
	}
	owed, err := vault.Owed()
	if err != nil {
		return res, err
	}
	res.CollateralValue = value
	res.OwedBefore = owed

	if !fpmath.BelowFactor(value, pool.LiquidationFactorBps, owed) {
		return res, errcode.New(errcode.CodeCannotLiquidateHealthyVault,
			"collateral value %d at %d bps covers owed %d", value, pool.LiquidationFactorBps, owed)
	}
	if debtToRepay == 0 {
		return res, errcode.New(errcode.CodeInvalidParameter, "debt to repay must be > 0")
	}
	maxRepay, err := fpmath.ApplyBps(owed, protocol.CloseFactorBps)
	if err != nil {
		return res, err
	}
	if debtToRepay > maxRepay {
		return res, errcode.New(errcode.CodeLiquidationAmountTooHigh,
			"repay %d exceeds %d (owed %d, close factor %d bps)", debtToRepay, maxRepay, owed, protocol.CloseFactorBps)
	}

	// seize = debtToRepay * (1 + penalty) converted to collateral units
	bonusBps := fpmath.BpsDivisor + protocol.LiquidationPenaltyBps
	seizeValue, err := fpmath.ApplyBps(debtToRepay, bonusBps)
	if err != nil {
		return res, err
	}
	assetScale, err := fpmath.Pow10(pool.Decimals)
	if err != nil {
		return res, err
	}
	stableScale, err := fpmath.Pow10(protocol.StableDecimals)
	if err != nil {
		return res, err
	}
	seize, err := fpmath.Scale(
		[]uint64{debtToRepay, bonusBps, assetScale, fpmath.PriceConfig.Scale},
		[]uint64{fpmath.BpsDivisor, px, stableScale},
		fpmath.RoundDown,
	)
	if err != nil {
		return res, err
	}

	var burned uint64
	if seize >= available {
		seize = available
		burned = vault.CollateralShares
		if seizeValue > value {
			res.BadDebt = seizeValue - value
		}
	} else {
		burned, err = pool.SharesForCollateral(seize, fpmath.RoundUp)
		if err != nil {
			return res, err
		}
		if burned > vault.CollateralShares {
			burned = vault.CollateralShares
		}
	}
	if seize == 0 {
		return res, errcode.New(errcode.CodeInvalidParameter,
			"repaying %d seizes no collateral", debtToRepay)
	}
	// Burning the last share sweeps any rounding dust with it.
	if burned == pool.TotalShares {
		seize = pool.TotalCollateral
	}

	interestPaid, principalPaid, err := vault.ApplyRepayment(debtToRepay)
	if err != nil {
		return res, err
	}
	if err := protocol.RemoveDebt(principalPaid); err != nil {
		return res, err
	}
	if burned == vault.CollateralShares {
		remaining, err := vault.Owed()
		if err != nil {
			return res, err
		}
		if remaining > 0 {
			if err := protocol.RemoveDebt(vault.DebtAmount); err != nil {
				return res, err
			}
			res.PrincipalWrittenOff = vault.DebtAmount
			res.DebtWrittenOff = remaining
			if res.BadDebt, err = fpmath.Add(res.BadDebt, remaining); err != nil {
				return res, err
			}
			vault.DebtAmount = 0
			vault.AccruedInterest = 0
		}
	}
	badDebt, err := fpmath.Add(protocol.BadDebt, res.BadDebt)
	if err != nil {
		return res, err
	}

	pool.TotalCollateral -= seize
	pool.TotalShares -= burned
	vault.CollateralShares -= burned
	protocol.BadDebt = badDebt

	res.DebtRepaid = debtToRepay
	res.InterestPaid = interestPaid
	res.PrincipalPaid = principalPaid
	res.CollateralSeized = seize
	res.SharesBurned = burned
	return res, nil
}

// IsLiquidatable reports whether value * liquidationFactor < owed * 10_000.
func IsLiquidatable(pool *CollateralPool, vault *UserVault, price uint64, stableDecimals uint8) (bool, error) {
	value, err := pool.VaultCollateralValue(vault, price, stableDecimals)
	if err != nil {
		return false, err
	}
	owed, err := vault.Owed()
	if err != nil {
		return false, err
	}
	return fpmath.BelowFactor(value, pool.LiquidationFactorBps, owed), nil
}
