package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}

func TestInferPosSide(t *testing.T) {
	got := InferPosSide("BTC-USDT-SWAP", SideBuy)
	require.NotNil(t, got)
	assert.Equal(t, PosSideLong, *got)

	got = InferPosSide("btc-usdt-futures", SideSell)
	require.NotNil(t, got)
	assert.Equal(t, PosSideShort, *got)

	assert.Nil(t, InferPosSide("BTC-USDT", SideBuy), "spot has no position side")
}

func TestIsOrderActive(t *testing.T) {
	for _, state := range []string{"live", "partially_filled", "not_triggered", "partially_filled_not_triggered"} {
		assert.True(t, IsOrderActive(state), state)
	}
	for _, state := range []string{"filled", "canceled", "mmp_canceled", ""} {
		assert.False(t, IsOrderActive(state), state)
	}
}

func TestLeverageKeyNormalization(t *testing.T) {
	long := PosSideLong
	key := NewLeverageKey("btc-usdt-swap", &long)
	assert.Equal(t, "BTC-USDT-SWAP", key.InstID)
	assert.Equal(t, "long", key.PosSide)

	key = NewLeverageKey(" eth-usdt ", nil)
	assert.Equal(t, "ETH-USDT", key.InstID)
	assert.Equal(t, "", key.PosSide)
}

func TestFlexFloatDecodesHeterogeneousEncodings(t *testing.T) {
	var payload struct {
		A FlexFloat `json:"a"`
		B FlexFloat `json:"b"`
		C FlexFloat `json:"c"`
		D FlexFloat `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":1.5,"b":"2.5","c":null,"d":""}`), &payload))
	assert.Equal(t, 1.5, payload.A.Float64())
	assert.Equal(t, 2.5, payload.B.Float64())
	assert.Zero(t, payload.C.Float64())
	assert.Zero(t, payload.D.Float64(), "empty string coerces to 0")

	var bad FlexFloat
	assert.Error(t, json.Unmarshal([]byte(`"not-a-number"`), &bad))
}

func TestDecimalPlaces(t *testing.T) {
	assert.Equal(t, 0, DecimalPlaces("90000"))
	assert.Equal(t, 1, DecimalPlaces("90000.5"))
	assert.Equal(t, 2, DecimalPlaces("0.50"))
	assert.Equal(t, 4, DecimalPlaces("1.2345"))
}
