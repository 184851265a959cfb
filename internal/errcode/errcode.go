// Package errcode defines the engine's rejection taxonomy. Every transition
// that fails returns an *Error carrying one of these codes, and no state is
// changed.
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies a rejection reason. Values are stable: they are persisted
// in metrics labels and returned to clients.
type Code uint16

const (
	CodeUnknown Code = iota

	// Parameter validation
	CodeInvalidParameter
	CodeInvalidPool
	CodeVaultNotFound
	CodeAlreadyInitialized
	CodeNotInitialized
	CodePoolNotActive

	// Authorization
	CodeUnauthorized

	// Capacity
	CodeMaxPoolsReached
	CodeDebtCeilingReached

	// Solvency
	CodeCollateralRatioTooLow
	CodeCollateralRatioTooLowForMint
	CodeInsufficientCollateral
	CodeInsufficientShares
	CodeInsufficientStableBalance
	CodeRepayAmountExceedsDebt

	// Oracle
	CodeOraclePriceStale
	CodeOracleConfidenceLow
	CodeInvalidOracle

	// Liquidation
	CodeCannotLiquidateHealthyVault
	CodeLiquidationAmountTooHigh

	// Arithmetic
	CodeOverflow

	// Ordering and replay
	CodeDuplicate
	CodeSequenceGap
	CodeOutOfOrder
)

var codeNames = map[Code]string{
	CodeUnknown:                      "Unknown",
	CodeInvalidParameter:             "InvalidParameter",
	CodeInvalidPool:                  "InvalidPool",
	CodeVaultNotFound:                "VaultNotFound",
	CodeAlreadyInitialized:           "AlreadyInitialized",
	CodeNotInitialized:               "NotInitialized",
	CodePoolNotActive:                "PoolNotActive",
	CodeUnauthorized:                 "Unauthorized",
	CodeMaxPoolsReached:              "MaxPoolsReached",
	CodeDebtCeilingReached:           "DebtCeilingReached",
	CodeCollateralRatioTooLow:        "CollateralRatioTooLow",
	CodeCollateralRatioTooLowForMint: "CollateralRatioTooLowForMint",
	CodeInsufficientCollateral:       "InsufficientCollateral",
	CodeInsufficientShares:           "InsufficientShares",
	CodeInsufficientStableBalance:    "InsufficientStableBalance",
	CodeRepayAmountExceedsDebt:       "RepayAmountExceedsDebt",
	CodeOraclePriceStale:             "OraclePriceStale",
	CodeOracleConfidenceLow:          "OracleConfidenceLow",
	CodeInvalidOracle:                "InvalidOracle",
	CodeCannotLiquidateHealthyVault:  "CannotLiquidateHealthyVault",
	CodeLiquidationAmountTooHigh:     "LiquidationAmountTooHigh",
	CodeOverflow:                     "Overflow",
	CodeDuplicate:                    "Duplicate",
	CodeSequenceGap:                  "SequenceGap",
	CodeOutOfOrder:                   "OutOfOrder",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint16(c))
}

// Category groups codes the way callers usually branch on them.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryParameter
	CategoryAuthorization
	CategoryCapacity
	CategorySolvency
	CategoryOracle
	CategoryLiquidation
	CategoryArithmetic
	CategoryOrdering
)

// Category returns the taxonomy group of the code.
func (c Code) Category() Category {
	switch c {
	case CodeInvalidParameter, CodeInvalidPool, CodeVaultNotFound,
		CodeAlreadyInitialized, CodeNotInitialized, CodePoolNotActive:
		return CategoryParameter
	case CodeUnauthorized:
		return CategoryAuthorization
	case CodeMaxPoolsReached, CodeDebtCeilingReached:
		return CategoryCapacity
	case CodeCollateralRatioTooLow, CodeCollateralRatioTooLowForMint,
		CodeInsufficientCollateral, CodeInsufficientShares, CodeInsufficientStableBalance,
		CodeRepayAmountExceedsDebt:
		return CategorySolvency
	case CodeOraclePriceStale, CodeOracleConfidenceLow, CodeInvalidOracle:
		return CategoryOracle
	case CodeCannotLiquidateHealthyVault, CodeLiquidationAmountTooHigh:
		return CategoryLiquidation
	case CodeOverflow:
		return CategoryArithmetic
	case CodeDuplicate, CodeSequenceGap, CodeOutOfOrder:
		return CategoryOrdering
	default:
		return CategoryUnknown
	}
}

// Error is a coded engine rejection.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches any *Error with the same code, so sentinels work with errors.Is
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns a coded error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err, or CodeUnknown if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Sentinels for errors.Is.
var (
	ErrInvalidParameter             = &Error{Code: CodeInvalidParameter}
	ErrInvalidPool                  = &Error{Code: CodeInvalidPool}
	ErrVaultNotFound                = &Error{Code: CodeVaultNotFound}
	ErrAlreadyInitialized           = &Error{Code: CodeAlreadyInitialized}
	ErrNotInitialized               = &Error{Code: CodeNotInitialized}
	ErrPoolNotActive                = &Error{Code: CodePoolNotActive}
	ErrUnauthorized                 = &Error{Code: CodeUnauthorized}
	ErrMaxPoolsReached              = &Error{Code: CodeMaxPoolsReached}
	ErrDebtCeilingReached           = &Error{Code: CodeDebtCeilingReached}
	ErrCollateralRatioTooLow        = &Error{Code: CodeCollateralRatioTooLow}
	ErrCollateralRatioTooLowForMint = &Error{Code: CodeCollateralRatioTooLowForMint}
	ErrInsufficientCollateral       = &Error{Code: CodeInsufficientCollateral}
	ErrInsufficientShares           = &Error{Code: CodeInsufficientShares}
	ErrInsufficientStableBalance    = &Error{Code: CodeInsufficientStableBalance}
	ErrRepayAmountExceedsDebt       = &Error{Code: CodeRepayAmountExceedsDebt}
	ErrOraclePriceStale             = &Error{Code: CodeOraclePriceStale}
	ErrOracleConfidenceLow          = &Error{Code: CodeOracleConfidenceLow}
	ErrInvalidOracle                = &Error{Code: CodeInvalidOracle}
	ErrCannotLiquidateHealthyVault  = &Error{Code: CodeCannotLiquidateHealthyVault}
	ErrLiquidationAmountTooHigh     = &Error{Code: CodeLiquidationAmountTooHigh}
	ErrOverflow                     = &Error{Code: CodeOverflow}
	ErrDuplicate                    = &Error{Code: CodeDuplicate}
	ErrSequenceGap                  = &Error{Code: CodeSequenceGap}
	ErrOutOfOrder                   = &Error{Code: CodeOutOfOrder}
)
