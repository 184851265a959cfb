package math

// CollateralValue converts a collateral amount into stable units at an
// oracle price:
//
//	value = amount * price * 10^stableDecimals / (10^assetDecimals * 10^PriceDecimals)
//
// Rounded down, so collateral is never over-valued.
func CollateralValue(amount, price uint64, assetDecimals, stableDecimals uint8) (uint64, error) {
	stableScale, err := Pow10(stableDecimals)
	if err != nil {
		return 0, err
	}
	assetScale, err := Pow10(assetDecimals)
	if err != nil {
		return 0, err
	}
	return Scale(
		[]uint64{amount, price, stableScale},
		[]uint64{assetScale, PriceConfig.Scale},
		RoundDown,
	)
}

// CollateralForValue is the inverse of CollateralValue: the collateral
// amount worth value stable units at price.
func CollateralForValue(value, price uint64, assetDecimals, stableDecimals uint8, mode RoundingMode) (uint64, error) {
	stableScale, err := Pow10(stableDecimals)
	if err != nil {
		return 0, err
	}
	assetScale, err := Pow10(assetDecimals)
	if err != nil {
		return 0, err
	}
	return Scale(
		[]uint64{value, assetScale, PriceConfig.Scale},
		[]uint64{price, stableScale},
		mode,
	)
}

// CollateralRatioBps returns value * 10_000 / owed. A vault that owes
// nothing reports zero; an unrepresentable ratio saturates at MaxUint64.
func CollateralRatioBps(value, owed uint64) uint64 {
	if owed == 0 {
		return 0
	}
	ratio, err := MulDiv(value, BpsDivisor, owed, RoundDown)
	if err != nil {
		return ^uint64(0)
	}
	return ratio
}

// WithinFactor reports whether owed * 10_000 <= value * factorBps.
func WithinFactor(value, factorBps, owed uint64) bool {
	return CompareProducts(owed, BpsDivisor, value, factorBps) <= 0
}

// BelowFactor reports whether value * factorBps < owed * 10_000, the
// strict liquidation condition.
func BelowFactor(value, factorBps, owed uint64) bool {
	return CompareProducts(value, factorBps, owed, BpsDivisor) < 0
}
