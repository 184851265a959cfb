package math

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToDecimal renders a base-unit amount as a decimal number of whole tokens.
func ToDecimal(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// PriceToDecimal renders an oracle price.
func PriceToDecimal(price uint64) decimal.Decimal {
	return ToDecimal(price, PriceDecimals)
}

// BpsToDecimal renders basis points as a fraction (7_500 -> 0.75).
func BpsToDecimal(bps uint64) decimal.Decimal {
	return ToDecimal(bps, BpsConfig.DecimalPrecision)
}

// HealthFactor is collateralValue * liquidationFactor / owed as a decimal.
// Below 1 the vault is liquidatable. Returns false when nothing is owed.
func HealthFactor(collateralValue, liquidationFactorBps, owed uint64) (decimal.Decimal, bool) {
	if owed == 0 {
		return decimal.Zero, false
	}
	num := decimal.NewFromBigInt(new(big.Int).SetUint64(collateralValue), 0).
		Mul(BpsToDecimal(liquidationFactorBps))
	den := decimal.NewFromBigInt(new(big.Int).SetUint64(owed), 0)
	return num.DivRound(den, 6), true
}
