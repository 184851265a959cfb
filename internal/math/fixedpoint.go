// internal/math/fixedpoint.go
package math

import (
	"sync"

	"StableLedger/internal/errcode"

	"github.com/holiman/uint256"
)

const (
	// BpsDivisor is 100% expressed in basis points.
	BpsDivisor uint64 = 10_000

	// SecondsPerYear is the accrual year (365 days).
	SecondsPerYear uint64 = 31_536_000

	// PriceDecimals is the fixed-point precision of oracle prices.
	PriceDecimals uint8 = 8

	// MaxDecimals bounds token decimals so 10^d fits in a uint64.
	MaxDecimals uint8 = 19
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision uint8
	Scale            uint64 // 10^DecimalPrecision
}

var (
	PriceConfig = DecimalConfig{DecimalPrecision: PriceDecimals, Scale: 100_000_000}
	BpsConfig   = DecimalConfig{DecimalPrecision: 4, Scale: BpsDivisor}
)

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // Floor (default for amounts paid out)
	RoundUp                           // Ceil (amounts taken from a holder)
	RoundHalfEven                     // Banker's rounding, display only
)

// Scratch 256-bit integers for intermediate products. Not shared across
// goroutines while in use.
var u256Pool = &sync.Pool{
	New: func() interface{} {
		return new(uint256.Int)
	},
}

func getU256() *uint256.Int {
	return u256Pool.Get().(*uint256.Int)
}

func putU256(v *uint256.Int) {
	v.Clear()
	u256Pool.Put(v)
}

// Add returns a + b or an Overflow error.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, errcode.New(errcode.CodeOverflow, "%d + %d overflows uint64", a, b)
	}
	return sum, nil
}

// Sub returns a - b or an Overflow error when b > a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, errcode.New(errcode.CodeOverflow, "%d - %d underflows uint64", a, b)
	}
	return a - b, nil
}

// Mul returns a * b or an Overflow error.
func Mul(a, b uint64) (uint64, error) {
	return Scale([]uint64{a, b}, nil, RoundDown)
}

// MulDiv returns a * b / d with the given rounding, computed in 256 bits.
func MulDiv(a, b, d uint64, mode RoundingMode) (uint64, error) {
	return Scale([]uint64{a, b}, []uint64{d}, mode)
}

// Scale computes prod(numerators) / prod(denominators) in 256-bit
// precision and narrows the result to uint64. Every intermediate product is
// overflow-checked; nothing wraps.
func Scale(numerators, denominators []uint64, mode RoundingMode) (uint64, error) {
	num := getU256()
	den := getU256()
	tmp := getU256()
	defer putU256(num)
	defer putU256(den)
	defer putU256(tmp)

	num.SetOne()
	for _, n := range numerators {
		tmp.SetUint64(n)
		if _, overflow := num.MulOverflow(num, tmp); overflow {
			return 0, errcode.New(errcode.CodeOverflow, "numerator product overflows 256 bits")
		}
	}

	den.SetOne()
	for _, d := range denominators {
		if d == 0 {
			return 0, errcode.New(errcode.CodeInvalidParameter, "division by zero")
		}
		tmp.SetUint64(d)
		if _, overflow := den.MulOverflow(den, tmp); overflow {
			return 0, errcode.New(errcode.CodeOverflow, "denominator product overflows 256 bits")
		}
	}

	quo, err := divRound(num, den, mode)
	if err != nil {
		return 0, err
	}
	return quo, nil
}

func divRound(num, den *uint256.Int, mode RoundingMode) (uint64, error) {
	quo := getU256()
	rem := getU256()
	defer putU256(quo)
	defer putU256(rem)

	quo.DivMod(num, den, rem)

	if !rem.IsZero() {
		switch mode {
		case RoundUp:
			quo.AddUint64(quo, 1)
		case RoundHalfEven:
			// Compare rem against den-rem to avoid doubling rem.
			other := getU256()
			other.Sub(den, rem)
			switch rem.Cmp(other) {
			case 1:
				quo.AddUint64(quo, 1)
			case 0:
				if quo.Uint64()&1 == 1 {
					quo.AddUint64(quo, 1)
				}
			}
			putU256(other)
		}
	}

	if !quo.IsUint64() {
		return 0, errcode.New(errcode.CodeOverflow, "result does not fit in uint64")
	}
	return quo.Uint64(), nil
}

// CompareProducts compares a*b with c*d exactly. Returns -1, 0 or +1.
func CompareProducts(a, b, c, d uint64) int {
	left := getU256()
	right := getU256()
	tmp := getU256()
	defer putU256(left)
	defer putU256(right)
	defer putU256(tmp)

	left.SetUint64(a)
	tmp.SetUint64(b)
	left.Mul(left, tmp)

	right.SetUint64(c)
	tmp.SetUint64(d)
	right.Mul(right, tmp)

	return left.Cmp(right)
}

// Pow10 returns 10^n for n <= MaxDecimals.
func Pow10(n uint8) (uint64, error) {
	if n > MaxDecimals {
		return 0, errcode.New(errcode.CodeOverflow, "10^%d does not fit in uint64", n)
	}
	result := uint64(1)
	for i := uint8(0); i < n; i++ {
		result *= 10
	}
	return result, nil
}

// ApplyBps returns amount * bps / 10_000, floored.
func ApplyBps(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BpsDivisor, RoundDown)
}

// ValidBps reports whether bps is within [0, max].
func ValidBps(bps, max uint64) bool {
	return bps <= max
}
