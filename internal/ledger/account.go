package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopePool
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota // net collateral received from the engine (negative after deposits)
	SubTypeStable

	// Pool sub-types
	SubTypeCustody

	// System sub-types (stable asset)
	SubTypeStableIssuance
	SubTypeFeeBurn
	SubTypeBadDebt
	SubTypeBadDebtOffset
)

// AccountKey is the in-memory key for balance tracking. Asset is the
// collateral asset id or the stable asset symbol.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // user UUID; zero for pool and system accounts
	SubType  AccountSubType
	Asset    string
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		Asset:    asset,
	}
}

// UserWallet is the user's collateral wallet for asset.
func UserWallet(userID uuid.UUID, asset string) AccountKey {
	return NewUserAccountKey(userID, SubTypeWallet, asset)
}

// UserStable is the user's synthetic currency balance.
func UserStable(userID uuid.UUID, stableAsset string) AccountKey {
	return NewUserAccountKey(userID, SubTypeStable, stableAsset)
}

// PoolCustody holds the collateral of one pool. Its balance always equals
// the pool's TotalCollateral.
func PoolCustody(asset string) AccountKey {
	return AccountKey{Scope: AccountScopePool, SubType: SubTypeCustody, Asset: asset}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, asset string) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: subType, Asset: asset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.SubTypeName(), k.Asset)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s", k.Asset, k.SubTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.SubTypeName(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubTypeName(), k.Asset)
	}
	return "unknown"
}

// IsUser reports whether the key belongs to a user.
func (k AccountKey) IsUser() bool {
	return k.Scope == AccountScopeUser
}

// UserID returns the owner of a user account.
func (k AccountKey) UserID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

func (k AccountKey) SubTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeStable:
		return "stable"
	case SubTypeCustody:
		return "custody"
	case SubTypeStableIssuance:
		return "stable_issuance"
	case SubTypeFeeBurn:
		return "fee_burn"
	case SubTypeBadDebt:
		return "bad_debt"
	case SubTypeBadDebtOffset:
		return "bad_debt_offset"
	default:
		return "unknown"
	}
}
