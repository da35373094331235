// Package leverage holds the per-(instrument, pos-side) leverage cache used
// by the decision executor to avoid redundant set-leverage calls.
package leverage

import (
	"math"
	"sync"

	"github.com/okxtrader/agent/internal/model"
)

// Epsilon is the tolerance below which a cached leverage is considered
// already aligned with a desired value.
const Epsilon = 1e-6

// Cache is a reader-writer-locked map from LeverageKey to the last known
// exchange-side leverage. Reads do not block each other; writes serialize.
type Cache struct {
	mu      sync.RWMutex
	entries map[model.LeverageKey]float64
}

func NewCache() *Cache {
	return &Cache{entries: make(map[model.LeverageKey]float64)}
}

// Lookup returns the cached leverage for (instID, posSide), falling back to
// the side-less (instID, nil) entry when a side was given but has no entry
// of its own.
func (c *Cache) Lookup(instID string, posSide *model.PosSide) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.entries[model.NewLeverageKey(instID, posSide)]; ok {
		return v, true
	}
	if posSide != nil {
		v, ok := c.entries[model.NewLeverageKey(instID, nil)]
		return v, ok
	}
	return 0, false
}

// Record stores a leverage observation. Non-finite and non-positive values
// are ignored.
func (c *Cache) Record(instID string, posSide *model.PosSide, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model.NewLeverageKey(instID, posSide)] = value
}

// NeedsUpdate reports whether the cached leverage for (instID, posSide)
// differs from desired by more than Epsilon, or is absent entirely.
func (c *Cache) NeedsUpdate(instID string, posSide *model.PosSide, desired float64) bool {
	current, ok := c.Lookup(instID, posSide)
	if !ok {
		return true
	}
	return math.Abs(current-desired) > Epsilon
}

// SeedFromMarkets fills the cache from instrument metadata fetched at
// startup, keyed without a position side.
func (c *Cache) SeedFromMarkets(markets map[string]model.MarketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for instID, market := range markets {
		if math.IsNaN(market.Leverage) || math.IsInf(market.Leverage, 0) || market.Leverage <= 0 {
			continue
		}
		c.entries[model.NewLeverageKey(instID, nil)] = market.Leverage
	}
}

// CaptureFromSnapshot opportunistically records the leverage of every
// position and working order in an observed account snapshot.
func (c *Cache) CaptureFromSnapshot(snapshot model.AccountSnapshot) {
	if len(snapshot.Positions) == 0 && len(snapshot.OpenOrders) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pos := range snapshot.Positions {
		c.applyLocked(pos.InstID, pos.PosSide, pos.Leverage)
	}
	for _, order := range snapshot.OpenOrders {
		c.applyLocked(order.InstID, order.PosSide, order.Leverage)
	}
}

func (c *Cache) applyLocked(instID string, posSide *model.PosSide, value *float64) {
	if value == nil {
		return
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return
	}
	c.entries[model.NewLeverageKey(instID, posSide)] = v
}
