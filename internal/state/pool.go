package state

import (
	"sort"

	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"
)

// CollateralPool is the shared custody of one collateral asset, accounted
// in redeemable shares.
type CollateralPool struct {
	AssetID              string
	Decimals             uint8
	TotalCollateral      uint64
	TotalShares          uint64
	CollateralFactorBps  uint64
	LiquidationFactorBps uint64
	InterestRateModel    string
	IsActive             bool
	CreatedAt            int64 // unix seconds
}

// ValidatePoolParams checks 0 < cf <= lf <= 10_000. The liquidation
// threshold sits at or above the borrow line.
func ValidatePoolParams(collateralFactorBps, liquidationFactorBps uint64, decimals uint8) error {
	if collateralFactorBps == 0 {
		return errcode.New(errcode.CodeInvalidParameter, "collateral_factor_bps must be > 0")
	}
	if !fpmath.ValidBps(liquidationFactorBps, fpmath.BpsDivisor) {
		return errcode.New(errcode.CodeInvalidParameter,
			"liquidation_factor_bps must be <= %d, got %d", fpmath.BpsDivisor, liquidationFactorBps)
	}
	if liquidationFactorBps < collateralFactorBps {
		return errcode.New(errcode.CodeInvalidParameter,
			"liquidation_factor_bps (%d) must be >= collateral_factor_bps (%d)",
			liquidationFactorBps, collateralFactorBps)
	}
	if decimals > fpmath.MaxDecimals {
		return errcode.New(errcode.CodeInvalidParameter, "decimals must be <= %d, got %d", fpmath.MaxDecimals, decimals)
	}
	return nil
}

// ShareValue returns the collateral amount redeemable for shares, floored.
func (p *CollateralPool) ShareValue(shares uint64) (uint64, error) {
	if shares == 0 || p.TotalShares == 0 {
		return 0, nil
	}
	return fpmath.MulDiv(shares, p.TotalCollateral, p.TotalShares, fpmath.RoundDown)
}

// SharesForCollateral converts a collateral amount into shares.
func (p *CollateralPool) SharesForCollateral(amount uint64, mode fpmath.RoundingMode) (uint64, error) {
	if p.TotalShares == 0 {
		return amount, nil
	}
	return fpmath.MulDiv(amount, p.TotalShares, p.TotalCollateral, mode)
}

// Deposit adds amount to the pool and credits the minted shares to vault.
// The first deposit mints 1:1; later ones mint floor(amount * shares /
// collateral). A deposit too small to mint a share is rejected.
func (p *CollateralPool) Deposit(vault *UserVault, amount uint64) (minted uint64, err error) {
	if amount == 0 {
		return 0, errcode.New(errcode.CodeInvalidParameter, "deposit amount must be > 0")
	}
	if !p.IsActive {
		return 0, errcode.New(errcode.CodePoolNotActive, "pool %s is not active", p.AssetID)
	}
	minted, err = p.SharesForCollateral(amount, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	if minted == 0 {
		return 0, errcode.New(errcode.CodeInvalidParameter,
			"deposit of %d %s mints no shares", amount, p.AssetID)
	}

	collateral, err := fpmath.Add(p.TotalCollateral, amount)
	if err != nil {
		return 0, err
	}
	shares, err := fpmath.Add(p.TotalShares, minted)
	if err != nil {
		return 0, err
	}
	vaultShares, err := fpmath.Add(vault.CollateralShares, minted)
	if err != nil {
		return 0, err
	}

	p.TotalCollateral = collateral
	p.TotalShares = shares
	vault.CollateralShares = vaultShares
	return minted, nil
}

// PriceFunc resolves a validated price for the pool asset. It is only
// called when a valuation is required.
type PriceFunc func() (uint64, error)

// Withdraw burns sharesToBurn from vault and returns the floored collateral
// they redeem. When the vault owes anything, the remaining collateral
// must still cover debt plus interest at the collateral factor.
func (p *CollateralPool) Withdraw(vault *UserVault, sharesToBurn uint64, stableDecimals uint8, price PriceFunc) (returned uint64, err error) {
	if sharesToBurn == 0 {
		return 0, errcode.New(errcode.CodeInvalidParameter, "shares to burn must be > 0")
	}
	if sharesToBurn > vault.CollateralShares {
		return 0, errcode.New(errcode.CodeInsufficientShares,
			"burn %d exceeds vault shares %d", sharesToBurn, vault.CollateralShares)
	}
	returned, err = p.ShareValue(sharesToBurn)
	if err != nil {
		return 0, err
	}
	if returned == 0 {
		return 0, errcode.New(errcode.CodeInvalidParameter, "burning %d shares returns no collateral", sharesToBurn)
	}

	after := *p
	after.TotalCollateral -= returned
	after.TotalShares -= sharesToBurn
	remaining := vault.CollateralShares - sharesToBurn

	owed, err := vault.Owed()
	if err != nil {
		return 0, err
	}
	if owed > 0 {
		px, err := price()
		if err != nil {
			return 0, err
		}
		left, err := after.ShareValue(remaining)
		if err != nil {
			return 0, err
		}
		value, err := fpmath.CollateralValue(left, px, p.Decimals, stableDecimals)
		if err != nil {
			return 0, err
		}
		if !fpmath.WithinFactor(value, p.CollateralFactorBps, owed) {
			return 0, errcode.New(errcode.CodeInsufficientCollateral,
				"remaining collateral value %d cannot back %d owed at %d bps", value, owed, p.CollateralFactorBps)
		}
	}

	*p = after
	vault.CollateralShares = remaining
	return returned, nil
}

// VaultCollateralValue values the vault's share of the pool in stable units.
func (p *CollateralPool) VaultCollateralValue(vault *UserVault, price uint64, stableDecimals uint8) (uint64, error) {
	amount, err := p.ShareValue(vault.CollateralShares)
	if err != nil {
		return 0, err
	}
	return fpmath.CollateralValue(amount, price, p.Decimals, stableDecimals)
}

func (p *CollateralPool) Clone() *CollateralPool {
	cp := *p
	return &cp
}

func (p *CollateralPool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = appendString(buf, p.AssetID)
	buf = append(buf, p.Decimals)
	buf = appendUint64LE(buf, p.TotalCollateral)
	buf = appendUint64LE(buf, p.TotalShares)
	buf = appendUint64LE(buf, p.CollateralFactorBps)
	buf = appendUint64LE(buf, p.LiquidationFactorBps)
	buf = appendString(buf, p.InterestRateModel)
	buf = appendBool(buf, p.IsActive)
	buf = appendInt64LE(buf, p.CreatedAt)
	return buf
}

// PoolArena indexes pools by asset id and iterates them in sorted order.
type PoolArena struct {
	pools map[string]*CollateralPool
	ids   []string
}

func NewPoolArena() *PoolArena {
	return &PoolArena{pools: make(map[string]*CollateralPool)}
}

// Get returns the pool for asset or nil.
func (a *PoolArena) Get(asset string) *CollateralPool {
	return a.pools[asset]
}

// Put inserts or replaces a pool.
func (a *PoolArena) Put(p *CollateralPool) {
	if _, ok := a.pools[p.AssetID]; !ok {
		i := sort.SearchStrings(a.ids, p.AssetID)
		a.ids = append(a.ids, "")
		copy(a.ids[i+1:], a.ids[i:])
		a.ids[i] = p.AssetID
	}
	a.pools[p.AssetID] = p
}

// All returns pools sorted by asset id.
func (a *PoolArena) All() []*CollateralPool {
	out := make([]*CollateralPool, 0, len(a.ids))
	for _, id := range a.ids {
		out = append(out, a.pools[id])
	}
	return out
}

func (a *PoolArena) Len() int {
	return len(a.ids)
}
