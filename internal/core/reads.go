package core

import (
	"fmt"
	"sort"

	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/google/uuid"
)

// Read accessors return copies under the read lock, so callers never
// observe a half-applied transition.

func (c *DeterministicCore) Protocol() state.ProtocolState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.protocol
}

func (c *DeterministicCore) Registry() state.PoolRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.registry.Clone()
}

// Pools returns every pool in asset order.
func (c *DeterministicCore) Pools() []state.CollateralPool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]state.CollateralPool, 0, c.pools.Len())
	for _, p := range c.pools.All() {
		out = append(out, *p)
	}
	return out
}

func (c *DeterministicCore) Pool(asset string) (state.CollateralPool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.pools.Get(asset)
	if p == nil {
		return state.CollateralPool{}, false
	}
	return *p, true
}

// Vaults returns the owner's vaults in asset order.
func (c *DeterministicCore) Vaults(owner uuid.UUID) []state.UserVault {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vs := c.vaults.ForOwner(owner)
	out := make([]state.UserVault, 0, len(vs))
	for _, v := range vs {
		out = append(out, *v)
	}
	return out
}

func (c *DeterministicCore) Vault(owner uuid.UUID, asset string) (state.UserVault, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.vaults.GetVault(owner, asset)
	if v == nil {
		return state.UserVault{}, false
	}
	return *v, true
}

// StableBalance returns the user's stable balance.
func (c *DeterministicCore) StableBalance(owner uuid.UUID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balanceTracker.GetUserStable(owner, c.protocol.StableAsset)
}

// Balances returns every non-zero account the user holds.
func (c *DeterministicCore) Balances(owner uuid.UUID) []ledger.AccountBalance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balanceTracker.UserBalances(owner)
}

func (c *DeterministicCore) LatestPrice(asset string) (oracle.Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feed.Latest(asset)
}

// OracleConfig exposes the validation bounds for read-side valuations.
func (c *DeterministicCore) OracleConfig() oracle.Config {
	return c.cfg.Oracle
}

// IntegrityReport is the result of VerifyIntegrity.
type IntegrityReport struct {
	Sequence  int64    `json:"sequence"`
	StateHash string   `json:"state_hash"`
	Healthy   bool     `json:"healthy"`
	Problems  []string `json:"problems,omitempty"`
}

// VerifyIntegrity re-checks every ledger invariant against the whole state,
// not just the entities touched by the last transition.
func (c *DeterministicCore) VerifyIntegrity() IntegrityReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tip := c.hasher.GetPrevHash()
	rep := IntegrityReport{
		Sequence:  c.sequence - 1,
		StateHash: fmt.Sprintf("%x", tip),
	}
	add := func(err error) {
		if err != nil {
			rep.Problems = append(rep.Problems, err.Error())
		}
	}

	add(c.validator.ValidateGlobalBalance())
	for _, p := range c.pools.All() {
		add(c.validator.ValidateCustody(p.AssetID, p.TotalCollateral))
	}
	if c.protocol.Initialized {
		add(c.validator.ValidateIssuance(c.protocol.StableAsset, c.protocol.TotalDebt))
		add(c.validator.ValidateBadDebt(c.protocol.StableAsset, c.protocol.BadDebt))

		var principal uint64
		for _, v := range c.vaults.All() {
			principal += v.DebtAmount
		}
		if principal != c.protocol.TotalDebt {
			rep.Problems = append(rep.Problems,
				fmt.Sprintf("vault principal %d does not match total debt %d", principal, c.protocol.TotalDebt))
		}
	}
	shares := make(map[string]uint64)
	for _, v := range c.vaults.All() {
		shares[v.AssetID] += v.CollateralShares
		if v.CollateralShares == 0 && (v.DebtAmount > 0 || v.AccruedInterest > 0) {
			rep.Problems = append(rep.Problems,
				fmt.Sprintf("vault %s/%s owes %d+%d with no collateral", v.Owner, v.AssetID, v.DebtAmount, v.AccruedInterest))
		}
	}
	assets := make([]string, 0, len(shares))
	for a := range shares {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		if p := c.pools.Get(a); p != nil && p.TotalShares != shares[a] {
			rep.Problems = append(rep.Problems,
				fmt.Sprintf("pool %s has %d shares, vaults hold %d", a, p.TotalShares, shares[a]))
		}
	}

	rep.Healthy = len(rep.Problems) == 0
	return rep
}
