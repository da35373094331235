package decision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okxtrader/agent/internal/model"
)

func TestParseStrictArrayWithStringNumbers(t *testing.T) {
	decisions, err := ParseDecisions(entryReply)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, model.SignalBuyToEnter, d.Signal)
	assert.Equal(t, "BTC", d.Coin)
	assert.InDelta(t, 0.01, d.Quantity.Float64(), 1e-9)
	assert.InDelta(t, 3, d.Leverage.Float64(), 1e-9)
	assert.InDelta(t, 90000.5, d.EntryPrice.Float64(), 1e-9)
	assert.InDelta(t, 90500, d.ProfitTarget.Float64(), 1e-9)
	assert.InDelta(t, 89000, d.StopLoss.Float64(), 1e-9)
}

func TestParseExtractsArrayFromSurroundingProse(t *testing.T) {
	raw := "Here is my analysis.\n```json\n[{\"signal\":\"hold\",\"coin\":\"BTC\"}]\n```\nGood luck!"
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.SignalHold, decisions[0].Signal)
}

func TestParseExtractsObjectWhenNoArrayPresent(t *testing.T) {
	raw := "Decision: {\"signal\":\"wait\",\"coin\":\"ETH\"} as discussed."
	decisions, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.SignalWait, decisions[0].Signal)
	assert.Equal(t, "ETH", decisions[0].Coin)
}

func TestParseAcceptsPluralCancelOrdersSignal(t *testing.T) {
	decisions, err := ParseDecisions(`[{"signal":"cancel_orders","coin":"BTC","cancel_orders":["X1"]}]`)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.SignalCancelOrder, decisions[0].Signal)

	decisions, err = ParseDecisions(`{"signal":"cancel_order","coin":"BTC","cancel_orders":["X1"]}`)
	require.NoError(t, err)
	assert.Equal(t, model.SignalCancelOrder, decisions[0].Signal)
}

func TestParseSkipsNullEntries(t *testing.T) {
	decisions, err := ParseDecisions(`[null,{"signal":"hold","coin":"BTC"},null]`)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
}

func TestParseMissingAndNullNumericsDefaultToZero(t *testing.T) {
	decisions, err := ParseDecisions(`[{"signal":"hold","coin":"BTC","quantity":null,"confidence":"0.8"}]`)
	require.NoError(t, err)
	d := decisions[0]
	assert.Zero(t, d.Quantity.Float64())
	assert.Zero(t, d.Leverage.Float64())
	assert.InDelta(t, 0.8, d.Confidence.Float64(), 1e-9)
}

func TestParseFailures(t *testing.T) {
	for _, raw := range []string{
		"",
		"no json here at all",
		"[]",
		"[null, null]",
		"42",
	} {
		_, err := ParseDecisions(raw)
		assert.Error(t, err, "input %q should fail", raw)
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	original, err := ParseDecisions(entryReply)
	require.NoError(t, err)

	encoded, err := json.Marshal(original)
	require.NoError(t, err)
	reparsed, err := ParseDecisions(string(encoded))
	require.NoError(t, err)
	assert.Equal(t, original, reparsed)
}

func TestResolveInstID(t *testing.T) {
	instIDs := []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP", "SOL-USDT"}

	got, ok := ResolveInstID("btc", instIDs)
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-SWAP", got)

	got, ok = ResolveInstID(" eth-usdt-swap ", instIDs)
	require.True(t, ok)
	assert.Equal(t, "ETH-USDT-SWAP", got)

	_, ok = ResolveInstID("eth-usdt", instIDs)
	assert.False(t, ok, "a dashed coin requires an exact match")

	_, ok = ResolveInstID("SO", instIDs)
	assert.False(t, ok, "prefix matching is on whole coin segments")

	_, ok = ResolveInstID("", instIDs)
	assert.False(t, ok)
}
