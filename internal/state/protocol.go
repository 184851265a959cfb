package state

import (
	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"

	"github.com/google/uuid"
)

const (
	MaxStabilityFeeBps       uint64 = 10_000
	MaxLiquidationPenaltyBps uint64 = 5_000
	DefaultCloseFactorBps    uint64 = 10_000
	DefaultStableDecimals    uint8  = 6
)

// ProtocolState is the global singleton: admin identity, issuance
// references, aggregate debt and fee parameters.
type ProtocolState struct {
	Admin           uuid.UUID
	StableAsset     string
	StableDecimals  uint8
	GovernanceAsset string

	TotalDebt             uint64 // outstanding principal across all vaults
	DebtCeiling           uint64
	StabilityFeeBps       uint64
	LiquidationPenaltyBps uint64
	CloseFactorBps        uint64

	PoolCount uint32
	BadDebt   uint64 // cumulative unrecovered liquidation shortfall, stable units

	Initialized bool
}

// ProtocolParams are the admin-tunable fields of ProtocolState.
type ProtocolParams struct {
	DebtCeiling           uint64
	StabilityFeeBps       uint64
	LiquidationPenaltyBps uint64
	CloseFactorBps        uint64
}

// ValidateProtocolParams checks parameter ranges.
func ValidateProtocolParams(p ProtocolParams) error {
	if p.DebtCeiling == 0 {
		return errcode.New(errcode.CodeInvalidParameter, "debt_ceiling must be > 0")
	}
	if !fpmath.ValidBps(p.StabilityFeeBps, MaxStabilityFeeBps) {
		return errcode.New(errcode.CodeInvalidParameter,
			"stability_fee_bps must be <= %d, got %d", MaxStabilityFeeBps, p.StabilityFeeBps)
	}
	if !fpmath.ValidBps(p.LiquidationPenaltyBps, MaxLiquidationPenaltyBps) {
		return errcode.New(errcode.CodeInvalidParameter,
			"liquidation_penalty_bps must be <= %d, got %d", MaxLiquidationPenaltyBps, p.LiquidationPenaltyBps)
	}
	if p.CloseFactorBps == 0 || !fpmath.ValidBps(p.CloseFactorBps, fpmath.BpsDivisor) {
		return errcode.New(errcode.CodeInvalidParameter,
			"close_factor_bps must be in (0, %d], got %d", fpmath.BpsDivisor, p.CloseFactorBps)
	}
	return nil
}

// Params returns the tunable fields.
func (p *ProtocolState) Params() ProtocolParams {
	return ProtocolParams{
		DebtCeiling:           p.DebtCeiling,
		StabilityFeeBps:       p.StabilityFeeBps,
		LiquidationPenaltyBps: p.LiquidationPenaltyBps,
		CloseFactorBps:        p.CloseFactorBps,
	}
}

// SetParams replaces the tunable fields. A ceiling below the current debt is
// rejected since it would break TotalDebt <= DebtCeiling immediately.
func (p *ProtocolState) SetParams(params ProtocolParams) error {
	if err := ValidateProtocolParams(params); err != nil {
		return err
	}
	if params.DebtCeiling < p.TotalDebt {
		return errcode.New(errcode.CodeInvalidParameter,
			"debt_ceiling %d below outstanding debt %d", params.DebtCeiling, p.TotalDebt)
	}
	p.DebtCeiling = params.DebtCeiling
	p.StabilityFeeBps = params.StabilityFeeBps
	p.LiquidationPenaltyBps = params.LiquidationPenaltyBps
	p.CloseFactorBps = params.CloseFactorBps
	return nil
}

// IsAdmin is the capability check guarding admin-only requests.
func (p *ProtocolState) IsAdmin(actor uuid.UUID) bool {
	return p.Initialized && actor == p.Admin
}

// RequireAdmin returns NotInitialized or Unauthorized when actor may not
// perform admin requests.
func (p *ProtocolState) RequireAdmin(actor uuid.UUID) error {
	if !p.Initialized {
		return errcode.New(errcode.CodeNotInitialized, "protocol not initialized")
	}
	if actor != p.Admin {
		return errcode.New(errcode.CodeUnauthorized, "%s is not the protocol admin", actor)
	}
	return nil
}

// AddDebt increases TotalDebt, enforcing the ceiling.
func (p *ProtocolState) AddDebt(amount uint64) error {
	next, err := fpmath.Add(p.TotalDebt, amount)
	if err != nil {
		return err
	}
	if next > p.DebtCeiling {
		return errcode.New(errcode.CodeDebtCeilingReached,
			"total debt %d + %d exceeds ceiling %d", p.TotalDebt, amount, p.DebtCeiling)
	}
	p.TotalDebt = next
	return nil
}

// RemoveDebt decreases TotalDebt by repaid principal.
func (p *ProtocolState) RemoveDebt(principal uint64) error {
	next, err := fpmath.Sub(p.TotalDebt, principal)
	if err != nil {
		return err
	}
	p.TotalDebt = next
	return nil
}

// Clone returns an independent copy.
func (p *ProtocolState) Clone() *ProtocolState {
	cp := *p
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *ProtocolState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, p.Admin[:]...)
	buf = appendString(buf, p.StableAsset)
	buf = append(buf, p.StableDecimals)
	buf = appendString(buf, p.GovernanceAsset)
	buf = appendUint64LE(buf, p.TotalDebt)
	buf = appendUint64LE(buf, p.DebtCeiling)
	buf = appendUint64LE(buf, p.StabilityFeeBps)
	buf = appendUint64LE(buf, p.LiquidationPenaltyBps)
	buf = appendUint64LE(buf, p.CloseFactorBps)
	buf = appendUint64LE(buf, uint64(p.PoolCount))
	buf = appendUint64LE(buf, p.BadDebt)
	buf = appendBool(buf, p.Initialized)
	return buf
}
