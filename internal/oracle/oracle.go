// Package oracle validates collateral price readings before the engine uses
// them and keeps the latest admin-supplied reading per asset.
package oracle

import (
	"sort"
	"time"

	"StableLedger/internal/errcode"
	fpmath "StableLedger/internal/math"
)

// Reading is an unvalidated price observation for one collateral asset.
// Price and Confidence carry fpmath.PriceDecimals decimals.
type Reading struct {
	AssetID    string    `json:"asset_id"`
	Price      uint64    `json:"price"`
	Confidence uint64    `json:"confidence"`
	AsOf       time.Time `json:"as_of"`
}

// PricePoint is a reading that passed validation.
type PricePoint struct {
	Price      uint64
	Confidence uint64
	AsOf       time.Time
}

// Config bounds what the engine accepts as a usable price.
type Config struct {
	// MaxAge is the oldest reading accepted relative to the transition time.
	MaxAge time.Duration
	// MaxConfidenceBps bounds Confidence / Price.
	MaxConfidenceBps uint64
}

// DefaultConfig matches the feed cadence the engine is usually run with.
func DefaultConfig() Config {
	return Config{
		MaxAge:           60 * time.Second,
		MaxConfidenceBps: 200,
	}
}

// Validate checks freshness, confidence and identity of a reading for the
// pool asset expectedAsset at time now.
func Validate(r Reading, expectedAsset string, now time.Time, cfg Config) (PricePoint, error) {
	if r.AssetID != expectedAsset {
		return PricePoint{}, errcode.New(errcode.CodeInvalidOracle,
			"reading for %q used for pool %q", r.AssetID, expectedAsset)
	}
	if r.Price == 0 {
		return PricePoint{}, errcode.New(errcode.CodeInvalidOracle, "zero price for %s", r.AssetID)
	}
	if r.AsOf.IsZero() || r.AsOf.After(now) {
		return PricePoint{}, errcode.New(errcode.CodeInvalidOracle,
			"reading for %s dated %s is after %s", r.AssetID, r.AsOf.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if age := now.Sub(r.AsOf); age > cfg.MaxAge {
		return PricePoint{}, errcode.New(errcode.CodeOraclePriceStale,
			"reading for %s is %s old (max %s)", r.AssetID, age, cfg.MaxAge)
	}
	// Confidence * 10_000 > Price * MaxConfidenceBps
	if fpmath.CompareProducts(r.Confidence, fpmath.BpsDivisor, r.Price, cfg.MaxConfidenceBps) > 0 {
		return PricePoint{}, errcode.New(errcode.CodeOracleConfidenceLow,
			"confidence %d too wide for price %d (max %d bps)", r.Confidence, r.Price, cfg.MaxConfidenceBps)
	}
	return PricePoint{Price: r.Price, Confidence: r.Confidence, AsOf: r.AsOf}, nil
}

// Feed holds the latest reading per asset. It is owned by the core and is
// not safe for concurrent use.
type Feed struct {
	readings map[string]Reading
}

func NewFeed() *Feed {
	return &Feed{readings: make(map[string]Reading)}
}

// Update stores r unless a newer reading for the same asset is already held.
// Returns false when r was ignored.
func (f *Feed) Update(r Reading) bool {
	if cur, ok := f.readings[r.AssetID]; ok && r.AsOf.Before(cur.AsOf) {
		return false
	}
	f.readings[r.AssetID] = r
	return true
}

// Latest returns the stored reading for asset.
func (f *Feed) Latest(asset string) (Reading, bool) {
	r, ok := f.readings[asset]
	return r, ok
}

// Readings returns all stored readings sorted by asset id.
func (f *Feed) Readings() []Reading {
	out := make([]Reading, 0, len(f.readings))
	for _, r := range f.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Restore replaces the feed contents, used when loading a snapshot.
func (f *Feed) Restore(readings []Reading) {
	f.readings = make(map[string]Reading, len(readings))
	for _, r := range readings {
		f.readings[r.AssetID] = r
	}
}
