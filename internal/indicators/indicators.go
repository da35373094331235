// Package indicators computes technical analytics over candle series:
// plain []float64 in, pure functions, no shared state. RSI and ATR use
// Wilder smoothing; EMA is seeded with the first close.
package indicators

import "math"

// EMA returns the full exponential-moving-average series for the given
// period, seeded with the first close (not a simple-average seed).
// multiplier k = 2/(n+1).
func EMA(closes []float64, period int) []float64 {
	if len(closes) == 0 || period <= 0 {
		return nil
	}
	out := make([]float64, len(closes))
	k := 2.0 / float64(period+1)
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = (closes[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// EMALast returns only the final value of EMA(closes, period).
func EMALast(closes []float64, period int) float64 {
	series := EMA(closes, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// MACD is EMA(12) - EMA(26), element-wise over the aligned series. Only the
// MACD line itself is computed; decisions never consume a signal line.
func MACD(closes []float64) []float64 {
	fast := EMA(closes, 12)
	slow := EMA(closes, 26)
	if len(fast) == 0 || len(slow) == 0 {
		return nil
	}
	out := make([]float64, len(closes))
	for i := range closes {
		out[i] = fast[i] - slow[i]
	}
	return out
}

// RSI computes Wilder's RSI over the whole series, returned at full length:
// the first `period` entries (where there isn't yet enough history for a
// smoothed average) are padded with the neutral value 50 so the output
// length always equals the input length.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = 50
	}
	if len(closes) < period+1 {
		return out
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out[i+1] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

// RSILast returns only the final RSI value for the series.
func RSILast(closes []float64, period int) float64 {
	series := RSI(closes, period)
	if len(series) == 0 {
		return 50
	}
	return series[len(series)-1]
}

const rsiZeroEpsilon = 1e-12

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss <= rsiZeroEpsilon {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ATR computes Wilder's Average True Range over candle highs/lows/closes.
// The initial ATR is the simple mean of the first `period` true ranges;
// thereafter it is Wilder-smoothed identically to RSI's averages.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if n < period+1 || len(highs) < n || len(lows) < n {
		return 0
	}
	trs := make([]float64, n-1)
	for i := 1; i < n; i++ {
		trs[i-1] = trueRange(highs[i], lows[i], closes[i-1])
	}
	if len(trs) < period {
		return 0
	}
	atr := mean(trs[:period])
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// LastN returns at most the last n elements of vals; only the tail of each
// series is reported to the decision collaborator.
func LastN(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}
