package core

import (
	"fmt"

	"StableLedger/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultIdempotencyCapacity bounds the tier-1 cache.
const DefaultIdempotencyCapacity = 1_000_000

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU of composite keys
	cache *lru.Cache[string, struct{}]

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics   *observability.Metrics
	evictions int64
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(requestType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	ic := &IdempotencyChecker{
		dbChecker: dbChecker,
		metrics:   metrics,
	}
	// Only fails for a non-positive size.
	cache, _ := lru.NewWithEvict[string, struct{}](capacity, func(string, struct{}) {
		ic.evictions++
		if ic.metrics != nil {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	})
	ic.cache = cache
	return ic
}

// CompositeKey is the cache key for a request type and idempotency key.
func CompositeKey(requestType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", requestType, idempotencyKey)
}

// IsDuplicate checks if a request has been applied (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(requestType string, idempotencyKey string) bool {
	key := CompositeKey(requestType, idempotencyKey)

	if ic.cache.Contains(key) {
		ic.recordDuplicate(requestType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(requestType, idempotencyKey)
		if err != nil {
			// Conservative: a DB outage must not block the core.
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}
		if isDup {
			ic.recordDuplicate(requestType, "postgres")
			ic.cache.Add(key, struct{}{})
			return true
		}
	}

	return false
}

// MarkProcessed adds key to the LRU after a successful apply.
func (ic *IdempotencyChecker) MarkProcessed(requestType string, idempotencyKey string) {
	ic.cache.Add(CompositeKey(requestType, idempotencyKey), struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.cache.Len()))
	}
}

// Warm loads composite keys, oldest first, on restart.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.cache.Add(k, struct{}{})
	}
}

// Keys returns cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.cache.Keys()
}

func (ic *IdempotencyChecker) Size() int {
	return ic.cache.Len()
}

func (ic *IdempotencyChecker) Evictions() int64 {
	return ic.evictions
}

func (ic *IdempotencyChecker) recordDuplicate(requestType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(requestType, tier).Inc()
	}
}
