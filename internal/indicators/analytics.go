package indicators

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/okxtrader/agent/internal/model"
	"github.com/okxtrader/agent/internal/okxapi"
)

const (
	intradayLimit = 160
	swingLimit    = 120
	seriesTail    = 10

	emaShortPeriod  = 20
	emaLongPeriod   = 50
	rsiShortPeriod  = 7
	rsiLongPeriod   = 14
	atrFastPeriod   = 3
	atrSlowPeriod   = 14
	volumeAvgPeriod = 20
)

// Candle is a single OHLCV bar.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// InstrumentAnalytics is the full bundle of indicator series and scalars
// the decision executor is given for one instrument, across multiple bar
// intervals plus funding rate and open interest.
type InstrumentAnalytics struct {
	InstID       string
	CurrentPrice float64

	CurrentEMA20 float64
	CurrentMACD  float64
	CurrentRSI7  float64

	OILatest       *float64
	OIAverage      *float64
	FundingRate    *float64
	LongShortRatio *float64

	Intraday1mEMA20, Intraday1mMACD, Intraday1mRSI7, Intraday1mRSI14                   []float64
	Intraday3mEMA20, Intraday3mMACD, Intraday3mRSI7, Intraday3mRSI14                   []float64
	Intraday5mPrices, Intraday5mEMA20, Intraday5mMACD, Intraday5mRSI7, Intraday5mRSI14 []float64
	Intraday15mEMA20, Intraday15mMACD, Intraday15mRSI7, Intraday15mRSI14               []float64

	SwingEMA20, SwingEMA50 float64
	SwingATR3, SwingATR14  float64
	SwingVolumeCurrent     float64
	SwingVolumeAvg         float64
	SwingMACD, SwingRSI14  []float64

	RecentCandles5m []Candle
	RecentCandles4h []Candle
}

// Fetcher assembles InstrumentAnalytics from OKX's public market-data
// endpoints. It shares the okxapi.Client used for unsigned public calls.
type Fetcher struct {
	client *okxapi.Client
}

func NewFetcher(client *okxapi.Client) *Fetcher {
	return &Fetcher{client: client}
}

// PriceForInst fetches the latest mark price for an instrument.
func (f *Fetcher) PriceForInst(ctx context.Context, instID string) (float64, error) {
	env, err := okxapi.UnsignedGet[markPriceEntry](ctx, f.client, "/api/v5/public/mark-price", url.Values{
		"instId": {instID},
	})
	if err != nil {
		return 0, err
	}
	if env.Code != "0" || len(env.Data) == 0 {
		return 0, fmt.Errorf("indicators: mark price for %s failed (code %s): %s", instID, env.Code, env.Msg)
	}
	price, ok := model.ParseFloatStr(env.Data[0].MarkPx)
	if !ok {
		return 0, fmt.Errorf("indicators: invalid mark price %q for %s", env.Data[0].MarkPx, instID)
	}
	return price, nil
}

type markPriceEntry struct {
	InstID string `json:"instId"`
	MarkPx string `json:"markPx"`
}

// FetchInstrument assembles the full analytics bundle for one instrument.
func (f *Fetcher) FetchInstrument(ctx context.Context, instID string) (*InstrumentAnalytics, error) {
	intraday1m, err := f.fetchCandles(ctx, instID, "1m", intradayLimit)
	if err != nil {
		return nil, err
	}
	intraday3m, err := f.fetchCandles(ctx, instID, "3m", intradayLimit)
	if err != nil {
		return nil, err
	}
	intraday5m, err := f.fetchCandles(ctx, instID, "5m", intradayLimit)
	if err != nil {
		return nil, err
	}
	if len(intraday5m) == 0 {
		return nil, fmt.Errorf("indicators: %s has no 5m candle data", instID)
	}
	intraday15m, err := f.fetchCandles(ctx, instID, "15m", intradayLimit)
	if err != nil {
		return nil, err
	}
	swing, err := f.fetchCandles(ctx, instID, "4H", swingLimit)
	if err != nil {
		return nil, err
	}

	closes1m := closesOf(intraday1m)
	closes3m := closesOf(intraday3m)
	closes5m := closesOf(intraday5m)
	closes15m := closesOf(intraday15m)
	closesSwing := closesOf(swing)
	volumesSwing := volumesOf(swing)

	ema20_5m := EMA(closes5m, emaShortPeriod)
	macd5m := MACD(closes5m)
	rsi7_5m := RSI(closes5m, rsiShortPeriod)

	oiLatest, oiAvg, err := f.fetchOpenInterestStats(ctx, instID)
	if err != nil {
		return nil, err
	}
	funding, err := f.fetchFundingRate(ctx, instID)
	if err != nil {
		return nil, err
	}
	price, err := f.PriceForInst(ctx, instID)
	if err != nil {
		return nil, err
	}

	ema20Swing := EMA(closesSwing, emaShortPeriod)
	ema50Swing := EMA(closesSwing, emaLongPeriod)

	longShort := f.latestLongShortRatio(ctx, instID)

	return &InstrumentAnalytics{
		InstID:         instID,
		CurrentPrice:   price,
		CurrentEMA20:   lastOr(ema20_5m, 0),
		CurrentMACD:    lastOr(macd5m, 0),
		CurrentRSI7:    lastOr(rsi7_5m, 50),
		OILatest:       oiLatest,
		OIAverage:      oiAvg,
		FundingRate:    funding,
		LongShortRatio: longShort,

		Intraday1mEMA20: LastN(EMA(closes1m, emaShortPeriod), seriesTail),
		Intraday1mMACD:  LastN(MACD(closes1m), seriesTail),
		Intraday1mRSI7:  LastN(RSI(closes1m, rsiShortPeriod), seriesTail),
		Intraday1mRSI14: LastN(RSI(closes1m, rsiLongPeriod), seriesTail),

		Intraday3mEMA20: LastN(EMA(closes3m, emaShortPeriod), seriesTail),
		Intraday3mMACD:  LastN(MACD(closes3m), seriesTail),
		Intraday3mRSI7:  LastN(RSI(closes3m, rsiShortPeriod), seriesTail),
		Intraday3mRSI14: LastN(RSI(closes3m, rsiLongPeriod), seriesTail),

		Intraday5mPrices: LastN(closes5m, seriesTail),
		Intraday5mEMA20:  LastN(ema20_5m, seriesTail),
		Intraday5mMACD:   LastN(macd5m, seriesTail),
		Intraday5mRSI7:   LastN(rsi7_5m, seriesTail),
		Intraday5mRSI14:  LastN(RSI(closes5m, rsiLongPeriod), seriesTail),

		Intraday15mEMA20: LastN(EMA(closes15m, emaShortPeriod), seriesTail),
		Intraday15mMACD:  LastN(MACD(closes15m), seriesTail),
		Intraday15mRSI7:  LastN(RSI(closes15m, rsiShortPeriod), seriesTail),
		Intraday15mRSI14: LastN(RSI(closes15m, rsiLongPeriod), seriesTail),

		SwingEMA20:         lastOr(ema20Swing, 0),
		SwingEMA50:         lastOr(ema50Swing, 0),
		SwingATR3:          ATR(highsOf(swing), lowsOf(swing), closesSwing, atrFastPeriod),
		SwingATR14:         ATR(highsOf(swing), lowsOf(swing), closesSwing, atrSlowPeriod),
		SwingVolumeCurrent: lastOr(volumesSwing, 0),
		SwingVolumeAvg:     mean(LastN(volumesSwing, volumeAvgPeriod)),
		SwingMACD:          LastN(MACD(closesSwing), seriesTail),
		SwingRSI14:         LastN(RSI(closesSwing, rsiLongPeriod), seriesTail),

		RecentCandles5m: tailCandles(intraday5m, seriesTail),
		RecentCandles4h: tailCandles(swing, seriesTail),
	}, nil
}

type candleRow []string

func (f *Fetcher) fetchCandles(ctx context.Context, instID, bar string, limit int) ([]Candle, error) {
	env, err := okxapi.UnsignedGet[candleRow](ctx, f.client, "/api/v5/market/candles", url.Values{
		"instId": {instID},
		"bar":    {bar},
		"limit":  {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, fmt.Errorf("indicators: fetch %s %s candles: %w", instID, bar, err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("indicators: %s %s candles failed (code %s): %s", instID, bar, env.Code, env.Msg)
	}
	candles := make([]Candle, 0, len(env.Data))
	for _, row := range env.Data {
		c, ok := candleFromRow(row)
		if ok {
			candles = append(candles, c)
		}
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].TimestampMs < candles[j].TimestampMs })
	return candles, nil
}

func candleFromRow(row candleRow) (Candle, bool) {
	if len(row) < 6 {
		return Candle{}, false
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Candle{}, false
	}
	open, ok1 := model.ParseFloatStr(row[1])
	high, ok2 := model.ParseFloatStr(row[2])
	low, ok3 := model.ParseFloatStr(row[3])
	close_, ok4 := model.ParseFloatStr(row[4])
	vol, ok5 := model.ParseFloatStr(row[5])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Candle{}, false
	}
	return Candle{TimestampMs: ts, Open: open, High: high, Low: low, Close: close_, Volume: vol}, true
}

func (f *Fetcher) fetchFundingRate(ctx context.Context, instID string) (*float64, error) {
	env, err := okxapi.UnsignedGet[struct {
		FundingRate string `json:"fundingRate"`
	}](ctx, f.client, "/api/v5/public/funding-rate", url.Values{"instId": {instID}})
	if err != nil {
		return nil, fmt.Errorf("indicators: fetch %s funding rate: %w", instID, err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("indicators: %s funding rate failed (code %s): %s", instID, env.Code, env.Msg)
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	rate, ok := model.ParseFloatStr(env.Data[0].FundingRate)
	if !ok {
		return nil, nil
	}
	return &rate, nil
}

func (f *Fetcher) fetchOpenInterestStats(ctx context.Context, instID string) (latest, average *float64, err error) {
	latestEnv, err := okxapi.UnsignedGet[struct {
		OI string `json:"oi"`
	}](ctx, f.client, "/api/v5/public/open-interest", url.Values{"instType": {"SWAP"}, "instId": {instID}})
	if err != nil {
		return nil, nil, fmt.Errorf("indicators: fetch %s open interest: %w", instID, err)
	}
	if latestEnv.Code != "0" {
		return nil, nil, fmt.Errorf("indicators: %s open interest failed (code %s): %s", instID, latestEnv.Code, latestEnv.Msg)
	}
	if len(latestEnv.Data) > 0 {
		if v, ok := model.ParseFloatStr(latestEnv.Data[0].OI); ok {
			latest = &v
		}
	}

	histEnv, err := okxapi.UnsignedGet[[]string](ctx, f.client, "/api/v5/rubik/stat/contracts/open-interest-history", url.Values{
		"instType": {"SWAP"}, "instId": {instID}, "period": {"6H"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("indicators: fetch %s open interest history: %w", instID, err)
	}
	if histEnv.Code != "0" {
		return nil, nil, fmt.Errorf("indicators: %s open interest history failed (code %s): %s", instID, histEnv.Code, histEnv.Msg)
	}
	var values []float64
	for _, row := range histEnv.Data {
		if len(row) < 2 {
			continue
		}
		if v, ok := model.ParseFloatStr(row[1]); ok {
			values = append(values, v)
		}
	}
	if len(values) > 0 {
		avg := mean(values)
		average = &avg
	} else {
		average = latest
	}
	return latest, average, nil
}

// LongShortRatio is one long/short account-ratio observation.
type LongShortRatio struct {
	TimestampMs int64
	Ratio       float64
}

// FetchLongShortRatio fetches the long/short account ratio series for a
// currency over the given period, sorted ascending by timestamp. The
// endpoint is keyed by base currency, not instrument id.
func (f *Fetcher) FetchLongShortRatio(ctx context.Context, currency, period string) ([]LongShortRatio, error) {
	env, err := okxapi.SignedGet[[]string](ctx, f.client, "/api/v5/rubik/stat/contracts/long-short-account-ratio", url.Values{
		"ccy": {currency}, "period": {period},
	})
	if err != nil {
		return nil, fmt.Errorf("indicators: fetch %s long-short ratio: %w", currency, err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("indicators: %s long-short ratio failed (code %s): %s", currency, env.Code, env.Msg)
	}
	ratios := make([]LongShortRatio, 0, len(env.Data))
	for _, row := range env.Data {
		if len(row) < 2 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		ratio, ok := model.ParseFloatStr(row[1])
		if !ok {
			continue
		}
		ratios = append(ratios, LongShortRatio{TimestampMs: ts, Ratio: ratio})
	}
	sort.Slice(ratios, func(i, j int) bool { return ratios[i].TimestampMs < ratios[j].TimestampMs })
	return ratios, nil
}

// latestLongShortRatio is best-effort: sentiment data is additive context
// and must not abort the analytics bundle.
func (f *Fetcher) latestLongShortRatio(ctx context.Context, instID string) *float64 {
	currency, _, found := strings.Cut(instID, "-")
	if !found {
		return nil
	}
	ratios, err := f.FetchLongShortRatio(ctx, currency, "5m")
	if err != nil || len(ratios) == 0 {
		return nil
	}
	latest := ratios[len(ratios)-1].Ratio
	return &latest
}

func closesOf(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highsOf(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lowsOf(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumesOf(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func tailCandles(candles []Candle, n int) []Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func lastOr(vals []float64, fallback float64) float64 {
	if len(vals) == 0 {
		return fallback
	}
	return vals[len(vals)-1]
}
