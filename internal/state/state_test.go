package state

import (
	"errors"
	"math/rand"
	"testing"

	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unit   = uint64(1_000_000) // 6 decimals for both collateral and stable
	usd10  = uint64(10_00000000)
	usd8   = uint64(8_00000000)
	year   = int64(31_536_000)
	t0     = int64(1_767_225_600)
	feeBps = uint64(500)
)

func fixedPrice(p uint64) PriceFunc {
	return func() (uint64, error) { return p, nil }
}

func failingPrice(err error) PriceFunc {
	return func() (uint64, error) { return 0, err }
}

func newProtocol() *ProtocolState {
	return &ProtocolState{
		Admin:                 uuid.New(),
		StableAsset:           "USDS",
		StableDecimals:        6,
		DebtCeiling:           1_000_000 * unit,
		StabilityFeeBps:       feeBps,
		LiquidationPenaltyBps: 1_000,
		CloseFactorBps:        DefaultCloseFactorBps,
		Initialized:           true,
	}
}

func newPool() *CollateralPool {
	return &CollateralPool{
		AssetID:              "SOL",
		Decimals:             6,
		CollateralFactorBps:  7_500,
		LiquidationFactorBps: 8_000,
		IsActive:             true,
	}
}

func requireCode(t *testing.T, err error, target *errcode.Error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, target), "want %s, got %v", target.Code, err)
}

// ====================================================================
// Pool ledger
// ====================================================================

func TestDeposit_BootstrapAndProportional(t *testing.T) {
	pool := newPool()
	a := NewUserVault(uuid.New(), "SOL", t0)
	b := NewUserVault(uuid.New(), "SOL", t0)

	minted, err := pool.Deposit(a, 1_000*unit)
	require.NoError(t, err)
	assert.Equal(t, 1_000*unit, minted)

	// Donation-free share price of 1: proportional mint is 1:1 as well.
	minted, err = pool.Deposit(b, 500*unit)
	require.NoError(t, err)
	assert.Equal(t, 500*unit, minted)
	assert.Equal(t, 1_500*unit, pool.TotalCollateral)
	assert.Equal(t, 1_500*unit, pool.TotalShares)
}

func TestDeposit_FloorsAndRejectsZeroShares(t *testing.T) {
	pool := newPool()
	pool.TotalCollateral = 3
	pool.TotalShares = 2
	v := NewUserVault(uuid.New(), "SOL", t0)

	// 1 * 2 / 3 floors to 0
	_, err := pool.Deposit(v, 1)
	requireCode(t, err, errcode.ErrInvalidParameter)
	assert.Equal(t, uint64(3), pool.TotalCollateral)

	minted, err := pool.Deposit(v, 4) // 4*2/3 = 2
	require.NoError(t, err)
	assert.Equal(t, uint64(2), minted)
}

func TestDeposit_Rejections(t *testing.T) {
	pool := newPool()
	v := NewUserVault(uuid.New(), "SOL", t0)

	_, err := pool.Deposit(v, 0)
	requireCode(t, err, errcode.ErrInvalidParameter)

	pool.IsActive = false
	_, err = pool.Deposit(v, 10)
	requireCode(t, err, errcode.ErrPoolNotActive)
}

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		pool := newPool()
		pool.TotalCollateral = 1 + uint64(rng.Int63n(1_000_000_000))
		pool.TotalShares = 1 + uint64(rng.Int63n(1_000_000_000))
		v := NewUserVault(uuid.New(), "SOL", t0)

		x := 1_000 + uint64(rng.Int63n(1_000_000_000))
		minted, err := pool.Deposit(v, x)
		if err != nil {
			requireCode(t, err, errcode.ErrInvalidParameter)
			continue
		}
		returned, err := pool.Withdraw(v, minted, 6, failingPrice(errors.New("unused")))
		require.NoError(t, err)
		assert.LessOrEqual(t, returned, x)
		// Loss is bounded by one share's worth of collateral.
		sharePrice := pool.TotalCollateral/pool.TotalShares + 1
		assert.LessOrEqual(t, x-returned, sharePrice+1)
	}
}

func TestSharePrice_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pool := newPool()
	vaults := make([]*UserVault, 5)
	for i := range vaults {
		vaults[i] = NewUserVault(uuid.New(), "SOL", t0)
	}

	var prevC, prevS uint64
	for step := 0; step < 2_000; step++ {
		v := vaults[rng.Intn(len(vaults))]
		if rng.Intn(2) == 0 || v.CollateralShares == 0 {
			_, _ = pool.Deposit(v, 1+uint64(rng.Int63n(10_000_000)))
		} else {
			burn := 1 + uint64(rng.Int63n(int64(v.CollateralShares)))
			_, _ = pool.Withdraw(v, burn, 6, fixedPrice(usd10))
		}

		assert.Equal(t, pool.TotalShares == 0, pool.TotalCollateral == 0, "step %d", step)
		if prevS > 0 && pool.TotalShares > 0 {
			// C/S >= prevC/prevS  <=>  C*prevS >= prevC*S
			assert.GreaterOrEqual(t,
				fpmath.CompareProducts(pool.TotalCollateral, prevS, prevC, pool.TotalShares), 0,
				"share price decreased at step %d", step)
		}
		prevC, prevS = pool.TotalCollateral, pool.TotalShares
	}
}

func TestWithdraw_Checks(t *testing.T) {
	protocol := newProtocol()
	pool := newPool()
	v := NewUserVault(uuid.New(), "SOL", t0)
	_, err := pool.Deposit(v, 1_000*unit)
	require.NoError(t, err)

	_, err = pool.Withdraw(v, 0, 6, fixedPrice(usd10))
	requireCode(t, err, errcode.ErrInvalidParameter)

	_, err = pool.Withdraw(v, 1_001*unit, 6, fixedPrice(usd10))
	requireCode(t, err, errcode.ErrInsufficientShares)

	require.NoError(t, MintStable(protocol, pool, v, 5_000*unit, fixedPrice(usd10)))

	// 5,000 owed needs 6,666.67 value at 75%: 667 tokens must stay.
	_, err = pool.Withdraw(v, 334*unit, 6, fixedPrice(usd10))
	requireCode(t, err, errcode.ErrInsufficientCollateral)
	assert.Equal(t, 1_000*unit, v.CollateralShares)

	returned, err := pool.Withdraw(v, 333*unit, 6, fixedPrice(usd10))
	require.NoError(t, err)
	assert.Equal(t, 333*unit, returned)

	// Oracle errors surface from withdrawals that need a valuation.
	_, err = pool.Withdraw(v, unit, 6, failingPrice(errcode.New(errcode.CodeOraclePriceStale, "old")))
	requireCode(t, err, errcode.ErrOraclePriceStale)
}

func TestWithdraw_InactivePoolAllowed(t *testing.T) {
	pool := newPool()
	v := NewUserVault(uuid.New(), "SOL", t0)
	_, err := pool.Deposit(v, 100)
	require.NoError(t, err)

	pool.IsActive = false
	returned, err := pool.Withdraw(v, 100, 6, fixedPrice(usd10))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), returned)
	assert.Zero(t, pool.TotalShares)
	assert.Zero(t, pool.TotalCollateral)
}

// ====================================================================
// Vault ledger
// ====================================================================

func TestAccrue_LinearAndIdempotent(t *testing.T) {
	v := NewUserVault(uuid.New(), "SOL", t0)
	v.DebtAmount = 10_000 * unit

	delta, err := v.Accrue(t0+year, feeBps)
	require.NoError(t, err)
	assert.Equal(t, 500*unit, delta)

	delta, err = v.Accrue(t0+year, feeBps)
	require.NoError(t, err)
	assert.Zero(t, delta)
	assert.Equal(t, 500*unit, v.AccruedInterest)

	// Earlier timestamps change nothing.
	delta, err = v.Accrue(t0, feeBps)
	require.NoError(t, err)
	assert.Zero(t, delta)
	assert.Equal(t, t0+year, v.LastUpdate)
}

func TestMintStable_Scenario(t *testing.T) {
	protocol := newProtocol()
	pool := newPool()
	v := NewUserVault(uuid.New(), "SOL", t0)
	_, err := pool.Deposit(v, 1_000*unit)
	require.NoError(t, err)

	err = MintStable(protocol, pool, v, 7_501*unit, fixedPrice(usd10))
	requireCode(t, err, errcode.ErrCollateralRatioTooLowForMint)
	assert.Zero(t, v.DebtAmount)

	require.NoError(t, MintStable(protocol, pool, v, 7_500*unit, fixedPrice(usd10)))
	assert.Equal(t, 7_500*unit, v.DebtAmount)
	assert.Equal(t, 7_500*unit, protocol.TotalDebt)

	// Post-mint solvency: debt * 10_000 <= value * cf
	value, err := pool.VaultCollateralValue(v, usd10, protocol.StableDecimals)
	require.NoError(t, err)
	assert.True(t, fpmath.WithinFactor(value, pool.CollateralFactorBps, v.DebtAmount))
}

func TestMintStable_Rejections(t *testing.T) {
	protocol := newProtocol()
	protocol.DebtCeiling = 100 * unit
	pool := newPool()
	v := NewUserVault(uuid.New(), "SOL", t0)
	_, err := pool.Deposit(v, 1_000*unit)
	require.NoError(t, err)

	requireCode(t, MintStable(protocol, pool, v, 0, fixedPrice(usd10)), errcode.ErrInvalidParameter)
	requireCode(t, MintStable(protocol, pool, v, 101*unit, fixedPrice(usd10)), errcode.ErrDebtCeilingReached)
	requireCode(t,
		MintStable(protocol, pool, v, unit, failingPrice(errcode.New(errcode.CodeOracleConfidenceLow, "wide"))),
		errcode.ErrOracleConfidenceLow)

	pool.IsActive = false
	requireCode(t, MintStable(protocol, pool, v, unit, fixedPrice(usd10)), errcode.ErrPoolNotActive)

	assert.Zero(t, protocol.TotalDebt)
	assert.Zero(t, v.DebtAmount)
}

func TestDebtCeiling_NeverExceeded(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	protocol := newProtocol()
	protocol.DebtCeiling = 50_000 * unit
	pool := newPool()

	for i := 0; i < 500; i++ {
		v := NewUserVault(uuid.New(), "SOL", t0)
		if _, err := pool.Deposit(v, 1_000*unit); err != nil {
			t.Fatal(err)
		}
		_ = MintStable(protocol, pool, v, uint64(rng.Int63n(int64(8_000*unit))), fixedPrice(usd10))
		require.LessOrEqual(t, protocol.TotalDebt, protocol.DebtCeiling)
	}
}

func TestRepay_InterestFirstPrincipalOnlyTotalDebt(t *testing.T) {
	protocol := newProtocol()
	protocol.TotalDebt = 1_000
	v := NewUserVault(uuid.New(), "SOL", t0)
	v.DebtAmount = 1_000
	v.AccruedInterest = 50

	interest, principal, err := Repay(protocol, v, 80)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), interest)
	assert.Equal(t, uint64(30), principal)
	assert.Equal(t, uint64(970), v.DebtAmount)
	assert.Zero(t, v.AccruedInterest)
	assert.Equal(t, uint64(970), protocol.TotalDebt)
}

func TestRepay_ExceedsDebtLeavesStateUnchanged(t *testing.T) {
	protocol := newProtocol()
	protocol.TotalDebt = 1_000
	v := NewUserVault(uuid.New(), "SOL", t0)
	v.DebtAmount = 1_000
	v.AccruedInterest = 50
	before := *v

	_, _, err := Repay(protocol, v, 1_051)
	requireCode(t, err, errcode.ErrRepayAmountExceedsDebt)
	assert.Equal(t, before, *v)
	assert.Equal(t, uint64(1_000), protocol.TotalDebt)

	_, _, err = Repay(protocol, v, 0)
	requireCode(t, err, errcode.ErrInvalidParameter)
}

func TestVault_IsEmpty(t *testing.T) {
	v := NewUserVault(uuid.New(), "SOL", t0)
	assert.True(t, v.IsEmpty())
	v.AccruedInterest = 1
	assert.False(t, v.IsEmpty())
}

// ====================================================================
// Liquidation
// ====================================================================

func liquidationFixture(t *testing.T) (*ProtocolState, *CollateralPool, *UserVault) {
	t.Helper()
	protocol := newProtocol()
	pool := newPool()
	v := NewUserVault(uuid.New(), "SOL", t0)
	_, err := pool.Deposit(v, 1_000*unit)
	require.NoError(t, err)
	require.NoError(t, MintStable(protocol, pool, v, 7_500*unit, fixedPrice(usd10)))
	return protocol, pool, v
}

func TestLiquidate_Scenario(t *testing.T) {
	protocol, pool, v := liquidationFixture(t)

	_, err := Liquidate(protocol, pool, v, 1_000*unit, fixedPrice(usd10))
	requireCode(t, err, errcode.ErrCannotLiquidateHealthyVault)

	res, err := Liquidate(protocol, pool, v, 1_000*unit, fixedPrice(usd8))
	require.NoError(t, err)

	// 1,000 / 8 * 1.10 = 137.5 tokens
	assert.Equal(t, uint64(137_500_000), res.CollateralSeized)
	assert.Equal(t, uint64(137_500_000), res.SharesBurned)
	assert.Equal(t, uint64(8_000)*unit, res.CollateralValue)
	assert.Zero(t, res.BadDebt)
	assert.Equal(t, 1_000*unit, res.PrincipalPaid)

	assert.Equal(t, 6_500*unit, v.DebtAmount)
	assert.Equal(t, 6_500*unit, protocol.TotalDebt)
	assert.Equal(t, 1_000*unit-137_500_000, pool.TotalCollateral)
	assert.Equal(t, pool.TotalShares, v.CollateralShares)
}

func TestLiquidate_AmountLimits(t *testing.T) {
	protocol, pool, v := liquidationFixture(t)

	_, err := Liquidate(protocol, pool, v, 0, fixedPrice(usd8))
	requireCode(t, err, errcode.ErrInvalidParameter)

	_, err = Liquidate(protocol, pool, v, 7_500*unit+1, fixedPrice(usd8))
	requireCode(t, err, errcode.ErrLiquidationAmountTooHigh)

	protocol.CloseFactorBps = 5_000
	_, err = Liquidate(protocol, pool, v, 3_750*unit+1, fixedPrice(usd8))
	requireCode(t, err, errcode.ErrLiquidationAmountTooHigh)
	_, err = Liquidate(protocol, pool, v, 3_750*unit, fixedPrice(usd8))
	require.NoError(t, err)
}

func TestLiquidate_CapsAtCollateralAndRecordsBadDebt(t *testing.T) {
	protocol, pool, v := liquidationFixture(t)

	// At $5 the vault is worth 5,000; repaying all 7,500 wants 8,250 of value.
	res, err := Liquidate(protocol, pool, v, 7_500*unit, fixedPrice(5_00000000))
	require.NoError(t, err)

	assert.Equal(t, 1_000*unit, res.CollateralSeized)
	assert.Equal(t, 1_000*unit, res.SharesBurned)
	assert.Equal(t, 3_250*unit, res.BadDebt)
	assert.Equal(t, 3_250*unit, protocol.BadDebt)
	assert.Zero(t, pool.TotalCollateral)
	assert.Zero(t, pool.TotalShares)
	assert.True(t, v.IsEmpty())
	assert.Zero(t, protocol.TotalDebt)
}

func TestLiquidate_FullSeizureWritesOffRemainingDebt(t *testing.T) {
	protocol, pool, v := liquidationFixture(t)

	// Worth 5,000 at $5 against 7,500 owed; repaying 5,000 wants 5,500 of
	// collateral, so every share goes and 2,500 is left unbacked.
	res, err := Liquidate(protocol, pool, v, 5_000*unit, fixedPrice(5_00000000))
	require.NoError(t, err)

	assert.Equal(t, 1_000*unit, res.SharesBurned)
	assert.Equal(t, 5_000*unit, res.PrincipalPaid)
	assert.Equal(t, 2_500*unit, res.DebtWrittenOff)
	assert.Equal(t, 2_500*unit, res.PrincipalWrittenOff)
	assert.Equal(t, 3_000*unit, res.BadDebt)
	assert.Equal(t, 3_000*unit, protocol.BadDebt)
	assert.Zero(t, protocol.TotalDebt)
	assert.True(t, v.IsEmpty())

	// Nothing is left to liquidate.
	_, err = Liquidate(protocol, pool, v, 1, fixedPrice(5_00000000))
	requireCode(t, err, errcode.ErrCannotLiquidateHealthyVault)
}

func TestLiquidate_FullSeizureWritesOffUnpaidInterest(t *testing.T) {
	protocol, pool, v := liquidationFixture(t)
	v.AccruedInterest = 200 * unit

	// At $0.10 the vault is worth 100; repaying 150 seizes it all.
	res, err := Liquidate(protocol, pool, v, 150*unit, fixedPrice(10_000_000))
	require.NoError(t, err)

	assert.Equal(t, 150*unit, res.InterestPaid)
	assert.Zero(t, res.PrincipalPaid)
	assert.Equal(t, 7_550*unit, res.DebtWrittenOff)
	assert.Equal(t, 7_500*unit, res.PrincipalWrittenOff)
	assert.Equal(t, 65*unit+7_550*unit, res.BadDebt)
	assert.Zero(t, protocol.TotalDebt)
	assert.Zero(t, v.AccruedInterest)
	assert.True(t, v.IsEmpty())
}

func TestLiquidate_PartialSeizureWritesNothingOff(t *testing.T) {
	protocol, pool, v := liquidationFixture(t)

	res, err := Liquidate(protocol, pool, v, 1_000*unit, fixedPrice(usd8))
	require.NoError(t, err)
	assert.Zero(t, res.DebtWrittenOff)
	assert.Zero(t, protocol.BadDebt)
	assert.Equal(t, 6_500*unit, protocol.TotalDebt)
}

func TestLiquidate_GatingStraddlesThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 300; i++ {
		protocol := newProtocol()
		protocol.StabilityFeeBps = 0
		pool := newPool()
		v := NewUserVault(uuid.New(), "SOL", t0)
		_, err := pool.Deposit(v, 1+uint64(rng.Int63n(int64(10_000*unit))))
		require.NoError(t, err)
		v.DebtAmount = 1 + uint64(rng.Int63n(int64(80_000*unit)))
		protocol.TotalDebt = v.DebtAmount
		price := 1 + uint64(rng.Int63n(int64(20_00000000)))

		value, err := pool.VaultCollateralValue(v, price, 6)
		require.NoError(t, err)
		want := fpmath.CompareProducts(value, pool.LiquidationFactorBps, v.DebtAmount, fpmath.BpsDivisor) < 0

		got, err := IsLiquidatable(pool, v, price, 6)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		_, err = Liquidate(protocol, pool.Clone(), v.Clone(), 1, fixedPrice(price))
		if !want {
			requireCode(t, err, errcode.ErrCannotLiquidateHealthyVault)
		} else if err != nil {
			assert.False(t, errors.Is(err, errcode.ErrCannotLiquidateHealthyVault))
		}
	}
}

func TestLiquidate_LastShareSweepsDust(t *testing.T) {
	protocol := newProtocol()
	protocol.LiquidationPenaltyBps = 0
	pool := newPool()
	pool.TotalCollateral = 1_000_003
	pool.TotalShares = 1_000_000
	v := NewUserVault(uuid.New(), "SOL", t0)
	v.CollateralShares = 1_000_000
	v.DebtAmount = 100 * unit
	protocol.TotalDebt = v.DebtAmount

	res, err := Liquidate(protocol, pool, v, 100*unit, fixedPrice(usd10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_003), res.CollateralSeized)
	assert.Zero(t, pool.TotalCollateral)
	assert.Zero(t, pool.TotalShares)
}

// ====================================================================
// Protocol and registry
// ====================================================================

func TestValidateProtocolParams(t *testing.T) {
	ok := ProtocolParams{DebtCeiling: 1, StabilityFeeBps: 10_000, LiquidationPenaltyBps: 5_000, CloseFactorBps: 10_000}
	require.NoError(t, ValidateProtocolParams(ok))

	bad := []ProtocolParams{
		{DebtCeiling: 0, CloseFactorBps: 1},
		{DebtCeiling: 1, StabilityFeeBps: 10_001, CloseFactorBps: 1},
		{DebtCeiling: 1, LiquidationPenaltyBps: 5_001, CloseFactorBps: 1},
		{DebtCeiling: 1, CloseFactorBps: 0},
		{DebtCeiling: 1, CloseFactorBps: 10_001},
	}
	for _, p := range bad {
		requireCode(t, ValidateProtocolParams(p), errcode.ErrInvalidParameter)
	}
}

func TestProtocol_SetParamsRejectsCeilingBelowDebt(t *testing.T) {
	p := newProtocol()
	p.TotalDebt = 500
	params := p.Params()
	params.DebtCeiling = 499
	requireCode(t, p.SetParams(params), errcode.ErrInvalidParameter)
}

func TestProtocol_RequireAdmin(t *testing.T) {
	p := &ProtocolState{}
	requireCode(t, p.RequireAdmin(uuid.New()), errcode.ErrNotInitialized)

	p = newProtocol()
	requireCode(t, p.RequireAdmin(uuid.New()), errcode.ErrUnauthorized)
	require.NoError(t, p.RequireAdmin(p.Admin))
}

func TestValidatePoolParams(t *testing.T) {
	require.NoError(t, ValidatePoolParams(7_500, 8_000, 9))
	require.NoError(t, ValidatePoolParams(8_000, 8_000, 9))
	requireCode(t, ValidatePoolParams(0, 8_000, 9), errcode.ErrInvalidParameter)
	requireCode(t, ValidatePoolParams(8_500, 8_000, 9), errcode.ErrInvalidParameter)
	requireCode(t, ValidatePoolParams(7_500, 10_001, 9), errcode.ErrInvalidParameter)
	requireCode(t, ValidatePoolParams(7_500, 8_000, 20), errcode.ErrInvalidParameter)
}

func TestRegistry_Register(t *testing.T) {
	r := &PoolRegistry{MaxPools: 2}
	requireCode(t, r.Register("SOL"), errcode.ErrNotInitialized)

	r.Initialized = true
	require.NoError(t, r.Register("SOL"))
	requireCode(t, r.Register("SOL"), errcode.ErrAlreadyInitialized)
	require.NoError(t, r.Register("ETH"))
	requireCode(t, r.Register("BTC"), errcode.ErrMaxPoolsReached)
	assert.Equal(t, []string{"SOL", "ETH"}, r.Pools)

	cp := r.Clone()
	cp.Pools[0] = "X"
	assert.Equal(t, "SOL", r.Pools[0])
}

func TestPoolArena_SortedIteration(t *testing.T) {
	a := NewPoolArena()
	for _, id := range []string{"SOL", "BTC", "ETH"} {
		a.Put(&CollateralPool{AssetID: id})
	}
	a.Put(&CollateralPool{AssetID: "BTC", TotalShares: 5})

	all := a.All()
	require.Len(t, all, 3)
	assert.Equal(t, "BTC", all[0].AssetID)
	assert.Equal(t, uint64(5), all[0].TotalShares)
	assert.Equal(t, "ETH", all[1].AssetID)
	assert.Equal(t, "SOL", all[2].AssetID)
}

func TestCanonicalBytes_Deterministic(t *testing.T) {
	v := NewUserVault(uuid.MustParse("00000000-0000-0000-0000-000000000001"), "SOL", t0)
	v.DebtAmount = 42
	assert.Equal(t, v.CanonicalBytes(), v.Clone().CanonicalBytes())

	other := v.Clone()
	other.AccruedInterest = 1
	assert.NotEqual(t, v.CanonicalBytes(), other.CanonicalBytes())
}
