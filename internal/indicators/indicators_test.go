package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSIBoundedAndMonotonic(t *testing.T) {
	increasing := make([]float64, 30)
	decreasing := make([]float64, 30)
	for i := range increasing {
		increasing[i] = float64(100 + i)
		decreasing[i] = float64(130 - i)
	}

	rsiUp := RSI(increasing, 14)
	rsiDown := RSI(decreasing, 14)
	require.Len(t, rsiUp, len(increasing))
	require.Len(t, rsiDown, len(decreasing))

	for _, v := range rsiUp {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	assert.Greater(t, rsiUp[len(rsiUp)-1], 70.0)
	assert.Less(t, rsiDown[len(rsiDown)-1], 30.0)
}

func TestRSIPrefixIsNeutral(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	series := RSI(closes, 14)
	require.Len(t, series, len(closes))
	for _, v := range series {
		assert.Equal(t, 50.0, v)
	}
}

func TestEMASeededWithFirstClose(t *testing.T) {
	closes := []float64{10, 10, 10, 10}
	series := EMA(closes, 3)
	require.Len(t, series, len(closes))
	assert.Equal(t, 10.0, series[0])
	assert.InDelta(t, 10.0, series[len(series)-1], 1e-9)
}

func TestMACDIsDifferenceOfEMAs(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	macd := MACD(closes)
	require.Len(t, macd, len(closes))
	fast := EMA(closes, 12)
	slow := EMA(closes, 26)
	for i := range macd {
		assert.InDelta(t, fast[i]-slow[i], macd[i], 1e-9)
	}
}

func TestATRNonNegative(t *testing.T) {
	highs := []float64{10, 11, 12, 11, 13, 14, 12, 15, 16, 14, 17, 18, 16, 19, 20}
	lows := []float64{9, 9.5, 10, 10, 11, 12, 11, 12, 13, 12, 14, 15, 14, 16, 17}
	closes := []float64{9.5, 10.5, 11, 10.5, 12, 13, 11.5, 13.5, 14.5, 13, 15.5, 16.5, 15, 17.5, 18.5}
	atr := ATR(highs, lows, closes, 14)
	assert.Greater(t, atr, 0.0)
}

func TestLastN(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, []float64{4, 5}, LastN(vals, 2))
	assert.Equal(t, vals, LastN(vals, 10))
}
