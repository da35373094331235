package leverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okxtrader/agent/internal/model"
)

func posSide(s model.PosSide) *model.PosSide { return &s }

func floatPtr(v float64) *float64 { return &v }

func TestLookupPrefersSidedEntryOverFallback(t *testing.T) {
	cache := NewCache()
	cache.Record("BTC-USDT-SWAP", nil, 5)
	cache.Record("BTC-USDT-SWAP", posSide(model.PosSideLong), 3)

	v, ok := cache.Lookup("btc-usdt-swap", posSide(model.PosSideLong))
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = cache.Lookup("BTC-USDT-SWAP", posSide(model.PosSideShort))
	require.True(t, ok, "short side should fall back to the side-less entry")
	assert.Equal(t, 5.0, v)

	_, ok = cache.Lookup("ETH-USDT-SWAP", posSide(model.PosSideLong))
	assert.False(t, ok)
}

func TestLookupWithoutSideDoesNotMatchSidedEntries(t *testing.T) {
	cache := NewCache()
	cache.Record("BTC-USDT-SWAP", posSide(model.PosSideLong), 3)

	_, ok := cache.Lookup("BTC-USDT-SWAP", nil)
	assert.False(t, ok)
}

func TestRecordRejectsInvalidValues(t *testing.T) {
	cache := NewCache()
	cache.Record("BTC-USDT-SWAP", nil, 0)
	cache.Record("BTC-USDT-SWAP", nil, -2)

	_, ok := cache.Lookup("BTC-USDT-SWAP", nil)
	assert.False(t, ok)
}

func TestNeedsUpdate(t *testing.T) {
	cache := NewCache()
	assert.True(t, cache.NeedsUpdate("BTC-USDT-SWAP", nil, 3), "absent entry always needs an update")

	cache.Record("BTC-USDT-SWAP", nil, 3)
	assert.False(t, cache.NeedsUpdate("BTC-USDT-SWAP", nil, 3))
	assert.False(t, cache.NeedsUpdate("BTC-USDT-SWAP", nil, 3+1e-9))
	assert.True(t, cache.NeedsUpdate("BTC-USDT-SWAP", nil, 5))
}

func TestCaptureFromSnapshot(t *testing.T) {
	cache := NewCache()
	cache.CaptureFromSnapshot(model.AccountSnapshot{
		Positions: []model.Position{
			{InstID: "BTC-USDT-SWAP", PosSide: posSide(model.PosSideLong), Size: 1, Leverage: floatPtr(10)},
			{InstID: "ETH-USDT-SWAP", Size: -2, Leverage: nil},
		},
		OpenOrders: []model.PendingOrderInfo{
			{InstID: "SOL-USDT-SWAP", OrdID: "1", PosSide: posSide(model.PosSideShort), Leverage: floatPtr(7)},
		},
	})

	v, ok := cache.Lookup("BTC-USDT-SWAP", posSide(model.PosSideLong))
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	v, ok = cache.Lookup("SOL-USDT-SWAP", posSide(model.PosSideShort))
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok = cache.Lookup("ETH-USDT-SWAP", nil)
	assert.False(t, ok, "positions without a lever field are skipped")
}

func TestSeedFromMarkets(t *testing.T) {
	cache := NewCache()
	cache.SeedFromMarkets(map[string]model.MarketInfo{
		"BTC-USDT-SWAP": {InstID: "BTC-USDT-SWAP", Leverage: 20},
		"ETH-USDT-SWAP": {InstID: "ETH-USDT-SWAP", Leverage: 0},
	})

	v, ok := cache.Lookup("BTC-USDT-SWAP", nil)
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	_, ok = cache.Lookup("ETH-USDT-SWAP", nil)
	assert.False(t, ok)
}
