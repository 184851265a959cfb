package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// VaultManager holds every vault keyed by owner and pool.
type VaultManager struct {
	vaults map[VaultKey]*UserVault
}

func NewVaultManager() *VaultManager {
	return &VaultManager{
		vaults: make(map[VaultKey]*UserVault),
	}
}

// GetVault returns the existing vault or nil
func (vm *VaultManager) GetVault(owner uuid.UUID, asset string) *UserVault {
	return vm.vaults[VaultKey{Owner: owner, AssetID: asset}]
}

// Put inserts or replaces a vault (commit and snapshot restore).
func (vm *VaultManager) Put(v *UserVault) {
	vm.vaults[v.Key()] = v
}

// Len returns the number of vaults, including emptied ones.
func (vm *VaultManager) Len() int {
	return len(vm.vaults)
}

// All returns every vault in (owner, asset) order.
func (vm *VaultManager) All() []*UserVault {
	out := make([]*UserVault, 0, len(vm.vaults))
	for _, v := range vm.vaults {
		out = append(out, v)
	}
	sortVaults(out)
	return out
}

// ForOwner returns an owner's vaults sorted by asset.
func (vm *VaultManager) ForOwner(owner uuid.UUID) []*UserVault {
	out := make([]*UserVault, 0)
	for key, v := range vm.vaults {
		if key.Owner == owner {
			out = append(out, v)
		}
	}
	sortVaults(out)
	return out
}

// ForPool returns the vaults in one pool sorted by owner.
func (vm *VaultManager) ForPool(asset string) []*UserVault {
	out := make([]*UserVault, 0)
	for key, v := range vm.vaults {
		if key.AssetID == asset {
			out = append(out, v)
		}
	}
	sortVaults(out)
	return out
}

func sortVaults(vs []*UserVault) {
	sort.Slice(vs, func(i, j int) bool {
		if c := bytes.Compare(vs[i].Owner[:], vs[j].Owner[:]); c != 0 {
			return c < 0
		}
		return vs[i].AssetID < vs[j].AssetID
	})
}
