package math_test

import (
	"errors"
	"testing"

	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxU64 = ^uint64(0)

func TestAddSubMul_Overflow(t *testing.T) {
	_, err := fpmath.Add(maxU64, 1)
	require.True(t, errors.Is(err, errcode.ErrOverflow))

	_, err = fpmath.Sub(1, 2)
	require.True(t, errors.Is(err, errcode.ErrOverflow))

	_, err = fpmath.Mul(maxU64, 2)
	require.True(t, errors.Is(err, errcode.ErrOverflow))

	v, err := fpmath.Mul(1<<32, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, v)
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// maxU64 * maxU64 overflows 64 bits but the quotient fits.
	v, err := fpmath.MulDiv(maxU64, maxU64, maxU64, fpmath.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, maxU64, v)

	_, err = fpmath.MulDiv(maxU64, 2, 1, fpmath.RoundDown)
	require.True(t, errors.Is(err, errcode.ErrOverflow))

	_, err = fpmath.MulDiv(1, 1, 0, fpmath.RoundDown)
	require.True(t, errors.Is(err, errcode.ErrInvalidParameter))
}

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		d    uint64
		mode fpmath.RoundingMode
		want uint64
	}{
		{"down", 7, 1, 2, fpmath.RoundDown, 3},
		{"up", 7, 1, 2, fpmath.RoundUp, 4},
		{"up exact", 8, 1, 2, fpmath.RoundUp, 4},
		{"half even rounds to even down", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even rounds to even up", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"half even above half", 5, 1, 3, fpmath.RoundHalfEven, 2},
		{"half even below half", 4, 1, 3, fpmath.RoundHalfEven, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, tt.b, tt.d, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPow10(t *testing.T) {
	v, err := fpmath.Pow10(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	v, err = fpmath.Pow10(19)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000_000_000_000), v)

	_, err = fpmath.Pow10(20)
	require.Error(t, err)
}

func TestCollateralValue(t *testing.T) {
	// 1,000 tokens (6 decimals) at $10 (8 decimals) into a 6-decimal stable.
	value, err := fpmath.CollateralValue(1_000_000_000, 10_00000000, 6, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), value)

	// 9-decimal collateral into 6-decimal stable: 2.5 tokens at $3 = $7.5
	value, err = fpmath.CollateralValue(2_500_000_000, 3_00000000, 9, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_500_000), value)
}

func TestCollateralForValue_Inverse(t *testing.T) {
	amount, err := fpmath.CollateralForValue(10_000_000_000, 10_00000000, 6, 6, fpmath.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), amount)

	// $1 at $3 per token is 0.333333 tokens; rounding mode decides the last unit.
	down, err := fpmath.CollateralForValue(1_000_000, 3_00000000, 6, 6, fpmath.RoundDown)
	require.NoError(t, err)
	up, err := fpmath.CollateralForValue(1_000_000, 3_00000000, 6, 6, fpmath.RoundUp)
	require.NoError(t, err)
	assert.Equal(t, uint64(333_333), down)
	assert.Equal(t, uint64(333_334), up)
}

func TestFactorChecks(t *testing.T) {
	// value 10,000 at 75% allows exactly 7,500.
	assert.True(t, fpmath.WithinFactor(10_000, 7_500, 7_500))
	assert.False(t, fpmath.WithinFactor(10_000, 7_500, 7_501))

	// 8,000 * 80% = 6,400 < 7,500 owed.
	assert.True(t, fpmath.BelowFactor(8_000, 8_000, 7_500))
	// exactly at threshold is not liquidatable
	assert.False(t, fpmath.BelowFactor(8_000, 8_000, 6_400))
}

func TestComputeAccruedInterest(t *testing.T) {
	// 10% on 1,000,000 for a full year is 100,000.
	got, err := fpmath.ComputeAccruedInterest(1_000_000, 1_000, int64(fpmath.SecondsPerYear))
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), got)

	// Half a day on the same debt floors.
	got, err = fpmath.ComputeAccruedInterest(1_000_000, 1_000, 43_200)
	require.NoError(t, err)
	assert.Equal(t, uint64(136), got)

	got, err = fpmath.ComputeAccruedInterest(1_000_000, 1_000, 0)
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = fpmath.ComputeAccruedInterest(1_000_000, 1_000, -5)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestSplitRepayment(t *testing.T) {
	i, p := fpmath.SplitRepayment(50, 80)
	assert.Equal(t, uint64(50), i)
	assert.Zero(t, p)

	i, p = fpmath.SplitRepayment(100, 80)
	assert.Equal(t, uint64(80), i)
	assert.Equal(t, uint64(20), p)
}

func TestCollateralRatioBps(t *testing.T) {
	assert.Equal(t, uint64(13_333), fpmath.CollateralRatioBps(10_000, 7_500))
	assert.Zero(t, fpmath.CollateralRatioBps(10_000, 0))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "1000.5", fpmath.ToDecimal(1_000_500_000, 6).String())
	assert.Equal(t, "0.75", fpmath.BpsToDecimal(7_500).String())
	assert.Equal(t, "10", fpmath.PriceToDecimal(10_00000000).String())

	hf, ok := fpmath.HealthFactor(8_000, 8_000, 7_500)
	require.True(t, ok)
	assert.Equal(t, "0.853333", hf.String())

	_, ok = fpmath.HealthFactor(8_000, 8_000, 0)
	assert.False(t, ok)
}
