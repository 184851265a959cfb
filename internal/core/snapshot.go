package core

import (
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"
)

// SnapshotState holds the in-memory state needed to restart without
// replaying the whole event log.
type SnapshotState struct {
	Sequence        int64                   `json:"sequence"`
	StateHash       [32]byte                `json:"state_hash"`
	Protocol        state.ProtocolState     `json:"protocol"`
	Registry        state.PoolRegistry      `json:"registry"`
	Pools           []state.CollateralPool  `json:"pools"`
	Vaults          []state.UserVault       `json:"vaults"`
	Balances        []ledger.AccountBalance `json:"balances"`
	Prices          []oracle.Reading        `json:"prices"`
	Partitions      []PartitionState        `json:"partitions"`
	IdempotencyKeys []string                `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Protocol:        *c.protocol,
		Registry:        *c.registry.Clone(),
		Balances:        c.balanceTracker.Sorted(),
		Prices:          c.feed.Readings(),
		Partitions:      c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
	for _, p := range c.pools.All() {
		snap.Pools = append(snap.Pools, *p)
	}
	for _, v := range c.vaults.All() {
		snap.Vaults = append(snap.Vaults, *v)
	}
	return snap
}

// RestoreFromSnapshot loads a snapshot into a fresh core. Events after
// snap.Sequence are then replayed with ReplayEnvelope.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	protocol := snap.Protocol
	c.protocol = &protocol
	c.registry = snap.Registry.Clone()
	if protocol.Initialized {
		c.journalGen.SetStableAsset(protocol.StableAsset)
	}

	for i := range snap.Pools {
		p := snap.Pools[i]
		c.pools.Put(&p)
	}
	for i := range snap.Vaults {
		v := snap.Vaults[i]
		c.vaults.Put(&v)
	}
	for _, ab := range snap.Balances {
		c.balanceTracker.SetBalance(ab.Key, ab.Balance)
	}
	c.feed.Restore(snap.Prices)
	for _, ps := range snap.Partitions {
		c.sequenceValidator.SetExpectedSequence(ps.Partition, ps.NextSeq)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)
}

// WarmLRU loads recent composite idempotency keys into the tier-1 cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}
