package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okxtrader/agent/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	return store
}

func TestRecordOrderOutcome(t *testing.T) {
	store := newTestStore(t)
	long := model.PosSideLong
	err := store.RecordTradeEvent(model.TradeEvent{Order: &model.TradeResponse{
		InstID: "BTC-USDT-SWAP", Side: model.SideBuy, Price: 90000.5, Size: 0.01,
		OrderID: "123", Success: true, Message: "accepted",
		Operator: model.AIOperator("deepseek"), PosSide: &long,
	}})
	require.NoError(t, err)

	var records []OrderRecord
	require.NoError(t, store.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "BTC-USDT-SWAP", records[0].InstID)
	assert.Equal(t, "123", records[0].OrderID)
	assert.Equal(t, "ai:deepseek", records[0].Operator)
	assert.True(t, records[0].Success)
	assert.Equal(t, "90000.5", records[0].Price.String())
}

func TestRecordCancelOutcome(t *testing.T) {
	store := newTestStore(t)
	err := store.RecordTradeEvent(model.TradeEvent{Cancel: &model.CancelResponse{
		InstID: "BTC-USDT-SWAP", OrdID: "X1", Success: false, Message: "not found",
	}})
	require.NoError(t, err)

	var records []CancelRecord
	require.NoError(t, store.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "X1", records[0].OrderID)
	assert.False(t, records[0].Success)
}

func TestDuplicateFillsAreIgnored(t *testing.T) {
	store := newTestStore(t)
	fill := model.TradeFill{
		InstID: "ETH-USDT-SWAP", Side: model.SideSell, Price: 3500, Size: 0.5,
		OrderID: "9", TradeID: "T1", ExecType: "T", FillTimeMs: 1700000000000,
	}
	require.NoError(t, store.RecordFill(fill))
	require.NoError(t, store.RecordFill(fill))

	fills, err := store.RecentFills(10)
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestAppendMessage(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendMessage("advisor decision parse failed"))

	var records []ErrorRecord
	require.NoError(t, store.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "parse failed")
}
