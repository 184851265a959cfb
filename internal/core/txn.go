package core

import (
	"bytes"
	"sort"
	"time"

	"StableLedger/internal/errcode"
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/google/uuid"
)

// txn collects working copies for one transition. Handlers mutate only the
// copies; commit swaps them in.
type txn struct {
	c   *DeterministicCore
	now time.Time

	protocol *state.ProtocolState
	registry *state.PoolRegistry
	pools    map[string]*state.CollateralPool
	vaults   map[state.VaultKey]*state.UserVault
	reading  *oracle.Reading

	// price is the last validated price a handler consumed.
	price uint64
}

func newTxn(c *DeterministicCore, now time.Time) *txn {
	return &txn{
		c:      c,
		now:    now,
		pools:  make(map[string]*state.CollateralPool),
		vaults: make(map[state.VaultKey]*state.UserVault),
	}
}

// unix is the transition time in whole seconds, the accrual clock.
func (t *txn) unix() int64 {
	return t.now.Unix()
}

func (t *txn) Protocol() *state.ProtocolState {
	if t.protocol == nil {
		t.protocol = t.c.protocol.Clone()
	}
	return t.protocol
}

func (t *txn) Registry() *state.PoolRegistry {
	if t.registry == nil {
		t.registry = t.c.registry.Clone()
	}
	return t.registry
}

// Pool returns a working copy of a registered pool.
func (t *txn) Pool(asset string) (*state.CollateralPool, error) {
	if p, ok := t.pools[asset]; ok {
		return p, nil
	}
	p := t.c.pools.Get(asset)
	if p == nil {
		return nil, errcode.New(errcode.CodeInvalidPool, "no pool for asset %q", asset)
	}
	cp := p.Clone()
	t.pools[asset] = cp
	return cp, nil
}

// PeekPool returns a registered pool without staging a copy. The result
// is read-only.
func (t *txn) PeekPool(asset string) (*state.CollateralPool, error) {
	if p, ok := t.pools[asset]; ok {
		return p, nil
	}
	if p := t.c.pools.Get(asset); p != nil {
		return p, nil
	}
	return nil, errcode.New(errcode.CodeInvalidPool, "no pool for asset %q", asset)
}

// NewPool stages a pool that does not exist yet.
func (t *txn) NewPool(p *state.CollateralPool) {
	t.pools[p.AssetID] = p
}

// Vault returns a working copy of owner's vault in asset. With create set a
// missing vault is opened at the transition time, otherwise VaultNotFound.
func (t *txn) Vault(owner uuid.UUID, asset string, create bool) (*state.UserVault, error) {
	key := state.VaultKey{Owner: owner, AssetID: asset}
	if v, ok := t.vaults[key]; ok {
		return v, nil
	}
	if v := t.c.vaults.GetVault(owner, asset); v != nil {
		cp := v.Clone()
		t.vaults[key] = cp
		return cp, nil
	}
	if !create {
		return nil, errcode.New(errcode.CodeVaultNotFound, "no vault for %s in pool %s", owner, asset)
	}
	v := state.NewUserVault(owner, asset, t.unix())
	t.vaults[key] = v
	return v, nil
}

// Accrue charges stability fee on v up to the transition time at the
// current fee.
func (t *txn) Accrue(v *state.UserVault) (uint64, error) {
	delta, err := v.Accrue(t.unix(), t.Protocol().StabilityFeeBps)
	if err != nil {
		return 0, err
	}
	if delta > 0 && t.c.metrics != nil {
		t.c.metrics.InterestAccrued.WithLabelValues(v.AssetID).Add(float64(delta))
	}
	return delta, nil
}

// PriceFor resolves the price of asset lazily from the feed's latest
// reading. A reading attached to the request replaces the feed only when
// the caller is the protocol admin, who publishes the feed anyway; from
// anyone else it is Unauthorized. Either is validated against the
// transition time.
func (t *txn) PriceFor(asset string, caller uuid.UUID, override *oracle.Reading) (state.PriceFunc, error) {
	if override != nil {
		if err := t.c.protocol.RequireAdmin(caller); err != nil {
			return nil, err
		}
	}
	return func() (uint64, error) {
		r := override
		if r == nil {
			latest, ok := t.c.feed.Latest(asset)
			if !ok {
				return 0, errcode.New(errcode.CodeInvalidOracle, "no price reading for %s", asset)
			}
			r = &latest
		}
		pp, err := oracle.Validate(*r, asset, t.now, t.c.cfg.Oracle)
		if err != nil {
			return 0, err
		}
		t.price = pp.Price
		return pp.Price, nil
	}, nil
}

// commit installs every working copy. Caller holds the write lock.
func (t *txn) commit() {
	if t.protocol != nil {
		t.c.protocol = t.protocol
		if t.protocol.Initialized {
			t.c.journalGen.SetStableAsset(t.protocol.StableAsset)
		}
	}
	if t.registry != nil {
		t.c.registry = t.registry
	}
	for _, p := range t.pools {
		t.c.pools.Put(p)
	}
	for _, v := range t.vaults {
		t.c.vaults.Put(v)
	}
	if t.reading != nil {
		t.c.feed.Update(*t.reading)
	}
}

func (t *txn) sortedPools() []*state.CollateralPool {
	out := make([]*state.CollateralPool, 0, len(t.pools))
	for _, p := range t.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (t *txn) sortedVaults() []*state.UserVault {
	out := make([]*state.UserVault, 0, len(t.vaults))
	for _, v := range t.vaults {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner[:], out[j].Owner[:]); c != 0 {
			return c < 0
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// snapshotInto copies the committed entities into out.
func (t *txn) snapshotInto(out *CoreOutput) {
	if t.protocol != nil {
		out.Protocol = t.protocol.Clone()
	}
	for _, p := range t.sortedPools() {
		out.Pools = append(out.Pools, *p)
	}
	for _, v := range t.sortedVaults() {
		out.Vaults = append(out.Vaults, *v)
	}
}

// computeStateDigest serializes every entity the transition touched plus
// the post-commit balances of the batch's accounts, in a fixed order.
func (c *DeterministicCore) computeStateDigest(t *txn, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 256)

	if t.protocol != nil {
		digest = append(digest, 'P')
		digest = append(digest, t.protocol.CanonicalBytes()...)
	}
	if t.registry != nil {
		digest = append(digest, 'R')
		digest = append(digest, t.registry.CanonicalBytes()...)
	}
	for _, p := range t.sortedPools() {
		digest = append(digest, 'C')
		digest = append(digest, p.CanonicalBytes()...)
	}
	for _, v := range t.sortedVaults() {
		digest = append(digest, 'V')
		digest = append(digest, v.CanonicalBytes()...)
	}
	if t.reading != nil {
		digest = append(digest, 'O')
		digest = appendString(digest, t.reading.AssetID)
		digest = appendUint64LE(digest, t.reading.Price)
		digest = appendUint64LE(digest, t.reading.Confidence)
		digest = appendUint64LE(digest, uint64(t.reading.AsOf.UnixNano()))
	}

	for _, ab := range c.touchedBalances(batch) {
		path := ab.Key.AccountPath()
		digest = appendString(digest, path)
		digest = appendUint64LE(digest, uint64(ab.Balance))
	}

	return digest
}

// touchedBalances returns current balances of every account in batch,
// sorted by path.
func (c *DeterministicCore) touchedBalances(batch *ledger.Batch) []ledger.AccountBalance {
	if batch == nil || len(batch.Journals) == 0 {
		return nil
	}
	seen := make(map[ledger.AccountKey]bool, len(batch.Journals)*2)
	out := make([]ledger.AccountBalance, 0, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		for _, k := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, ledger.AccountBalance{Key: k, Balance: c.balanceTracker.GetBalance(k)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.AccountPath() < out[j].Key.AccountPath()
	})
	return out
}

// postCheckInvariants validates ledger and state agreement after commit.
func (c *DeterministicCore) postCheckInvariants(t *txn, batch *ledger.Batch) error {
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	for _, p := range t.sortedPools() {
		if err := c.validator.ValidateCustody(p.AssetID, p.TotalCollateral); err != nil {
			return err
		}
		if (p.TotalShares == 0) != (p.TotalCollateral == 0) {
			return errcode.New(errcode.CodeUnknown, "pool %s has %d shares for %d collateral",
				p.AssetID, p.TotalShares, p.TotalCollateral)
		}
	}
	if p := c.protocol; p.Initialized {
		if err := c.validator.ValidateIssuance(p.StableAsset, p.TotalDebt); err != nil {
			return err
		}
		if err := c.validator.ValidateBadDebt(p.StableAsset, p.BadDebt); err != nil {
			return err
		}
		if p.TotalDebt > p.DebtCeiling {
			return errcode.New(errcode.CodeDebtCeilingReached, "total debt %d above ceiling %d", p.TotalDebt, p.DebtCeiling)
		}
	}

	stableKeys := make([]ledger.AccountKey, 0, 2)
	for _, ab := range c.touchedBalances(batch) {
		if ab.Key.IsUser() && ab.Key.SubType == ledger.SubTypeStable {
			stableKeys = append(stableKeys, ab.Key)
		}
	}
	return c.validator.ValidateAccountsNonNegative(stableKeys)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}
