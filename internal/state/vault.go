package state

import (
	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"

	"github.com/google/uuid"
)

// VaultKey identifies one owner's position in one pool.
type VaultKey struct {
	Owner   uuid.UUID
	AssetID string
}

// UserVault is one user's shares and debt within one pool.
type UserVault struct {
	Owner            uuid.UUID
	AssetID          string
	CollateralShares uint64
	DebtAmount       uint64 // principal
	AccruedInterest  uint64
	LastUpdate       int64 // unix seconds of last accrual
}

func NewUserVault(owner uuid.UUID, asset string, now int64) *UserVault {
	return &UserVault{Owner: owner, AssetID: asset, LastUpdate: now}
}

func (v *UserVault) Key() VaultKey {
	return VaultKey{Owner: v.Owner, AssetID: v.AssetID}
}

// Owed returns principal plus accrued interest.
func (v *UserVault) Owed() (uint64, error) {
	return fpmath.Add(v.DebtAmount, v.AccruedInterest)
}

// IsEmpty reports whether the vault holds nothing and owes nothing.
func (v *UserVault) IsEmpty() bool {
	return v.CollateralShares == 0 && v.DebtAmount == 0 && v.AccruedInterest == 0
}

// Accrue charges linear stability fee on principal from LastUpdate to now
// and moves LastUpdate forward. Calling it again for the same instant is a
// no-op, and a time before LastUpdate changes nothing.
func (v *UserVault) Accrue(now int64, stabilityFeeBps uint64) (uint64, error) {
	if now <= v.LastUpdate {
		return 0, nil
	}
	delta, err := fpmath.ComputeAccruedInterest(v.DebtAmount, stabilityFeeBps, now-v.LastUpdate)
	if err != nil {
		return 0, err
	}
	accrued, err := fpmath.Add(v.AccruedInterest, delta)
	if err != nil {
		return 0, err
	}
	v.AccruedInterest = accrued
	v.LastUpdate = now
	return delta, nil
}

// ApplyRepayment pays interest first and principal with the remainder.
func (v *UserVault) ApplyRepayment(amount uint64) (interestPaid, principalPaid uint64, err error) {
	owed, err := v.Owed()
	if err != nil {
		return 0, 0, err
	}
	if amount > owed {
		return 0, 0, errcode.New(errcode.CodeRepayAmountExceedsDebt,
			"repay %d exceeds debt %d + interest %d", amount, v.DebtAmount, v.AccruedInterest)
	}
	interestPaid, principalPaid = fpmath.SplitRepayment(amount, v.AccruedInterest)
	v.AccruedInterest -= interestPaid
	v.DebtAmount -= principalPaid
	return interestPaid, principalPaid, nil
}

// MintStable borrows amount against the vault's collateral. The vault must
// already be accrued to the transition time.
func MintStable(protocol *ProtocolState, pool *CollateralPool, vault *UserVault, amount uint64, price PriceFunc) error {
	if amount == 0 {
		return errcode.New(errcode.CodeInvalidParameter, "mint amount must be > 0")
	}
	if !pool.IsActive {
		return errcode.New(errcode.CodePoolNotActive, "pool %s is not active", pool.AssetID)
	}
	px, err := price()
	if err != nil {
		return err
	}
	value, err := pool.VaultCollateralValue(vault, px, protocol.StableDecimals)
	if err != nil {
		return err
	}
	owed, err := vault.Owed()
	if err != nil {
		return err
	}
	nextOwed, err := fpmath.Add(owed, amount)
	if err != nil {
		return err
	}
	if !fpmath.WithinFactor(value, pool.CollateralFactorBps, nextOwed) {
		return errcode.New(errcode.CodeCollateralRatioTooLowForMint,
			"owed %d after mint exceeds %d bps of collateral value %d", nextOwed, pool.CollateralFactorBps, value)
	}
	debt, err := fpmath.Add(vault.DebtAmount, amount)
	if err != nil {
		return err
	}
	if err := protocol.AddDebt(amount); err != nil {
		return err
	}
	vault.DebtAmount = debt
	return nil
}

// Repay applies amount to the vault, interest first, and reduces
// TotalDebt by the principal portion only.
func Repay(protocol *ProtocolState, vault *UserVault, amount uint64) (interestPaid, principalPaid uint64, err error) {
	if amount == 0 {
		return 0, 0, errcode.New(errcode.CodeInvalidParameter, "repay amount must be > 0")
	}
	interestPaid, principalPaid, err = vault.ApplyRepayment(amount)
	if err != nil {
		return 0, 0, err
	}
	if err := protocol.RemoveDebt(principalPaid); err != nil {
		return 0, 0, err
	}
	return interestPaid, principalPaid, nil
}

func (v *UserVault) Clone() *UserVault {
	cp := *v
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (v *UserVault) CanonicalBytes() []byte {
	buf := make([]byte, 0, 80)
	buf = append(buf, v.Owner[:]...)
	buf = appendString(buf, v.AssetID)
	buf = appendUint64LE(buf, v.CollateralShares)
	buf = appendUint64LE(buf, v.DebtAmount)
	buf = appendUint64LE(buf, v.AccruedInterest)
	buf = appendInt64LE(buf, v.LastUpdate)
	return buf
}
