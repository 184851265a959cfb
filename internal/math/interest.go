package math

// ComputeAccruedInterest returns the linear per-second stability fee owed on
// debt over elapsedSeconds:
//
//	debt * feeBps * elapsed / (10_000 * SecondsPerYear)
//
// floored. Non-positive elapsed accrues nothing.
func ComputeAccruedInterest(debt, feeBps uint64, elapsedSeconds int64) (uint64, error) {
	if debt == 0 || feeBps == 0 || elapsedSeconds <= 0 {
		return 0, nil
	}
	return Scale(
		[]uint64{debt, feeBps, uint64(elapsedSeconds)},
		[]uint64{BpsDivisor, SecondsPerYear},
		RoundDown,
	)
}

// SplitRepayment applies amount to interest first and the remainder to
// principal. The caller guarantees amount <= interest + principal.
func SplitRepayment(amount, interest uint64) (interestPaid, principalPaid uint64) {
	if amount <= interest {
		return amount, 0
	}
	return interest, amount - interest
}
