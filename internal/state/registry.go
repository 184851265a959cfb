package state

import (
	"StableLedger/internal/errcode"

	"github.com/google/uuid"
)

// DefaultMaxPools is the ceiling on distinct collateral types.
const DefaultMaxPools uint32 = 10

// PoolRegistry is the ordered set of registered collateral pools.
type PoolRegistry struct {
	Admin       uuid.UUID
	Pools       []string // registration order
	MaxPools    uint32
	Initialized bool
}

// Contains reports whether asset has a registered pool.
func (r *PoolRegistry) Contains(asset string) bool {
	for _, id := range r.Pools {
		if id == asset {
			return true
		}
	}
	return false
}

// Register appends asset, enforcing uniqueness and the pool ceiling.
func (r *PoolRegistry) Register(asset string) error {
	if !r.Initialized {
		return errcode.New(errcode.CodeNotInitialized, "pool registry not initialized")
	}
	if r.Contains(asset) {
		return errcode.New(errcode.CodeAlreadyInitialized, "pool %s already registered", asset)
	}
	if uint32(len(r.Pools)) >= r.MaxPools {
		return errcode.New(errcode.CodeMaxPoolsReached, "registry holds %d pools (max %d)", len(r.Pools), r.MaxPools)
	}
	r.Pools = append(r.Pools, asset)
	return nil
}

func (r *PoolRegistry) Clone() *PoolRegistry {
	cp := *r
	cp.Pools = append([]string(nil), r.Pools...)
	return &cp
}

func (r *PoolRegistry) CanonicalBytes() []byte {
	buf := make([]byte, 0, 32+len(r.Pools)*8)
	buf = append(buf, r.Admin[:]...)
	buf = appendUint64LE(buf, uint64(r.MaxPools))
	buf = appendBool(buf, r.Initialized)
	buf = appendUint64LE(buf, uint64(len(r.Pools)))
	for _, id := range r.Pools {
		buf = appendString(buf, id)
	}
	return buf
}
