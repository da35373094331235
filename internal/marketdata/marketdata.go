// Package marketdata implements the public mark-price WebSocket subscriber
// and its REST candle-history bootstrap. The subscriber reconnects with
// exponential backoff and publishes every inbound price row on the command
// bus, keeping the latest observation per instrument for direct lookup.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/model"
	"github.com/okxtrader/agent/internal/okxapi"
)

const publicWSURL = "wss://ws.okx.com:8443/ws/v5/public"

const maxBackoffSeconds = 32

// nextBackoff doubles a reconnect delay in seconds, capped at 32s. Callers
// reset to 1s on any successful connect.
func nextBackoff(current int) int {
	next := current * 2
	if next > maxBackoffSeconds {
		return maxBackoffSeconds
	}
	return next
}

// barOption is one candidate bar size for the REST history bootstrap,
// ordered from smallest to largest as required by choosePeriod.
type barOption struct {
	name     string
	duration time.Duration
}

var barOptions = []barOption{
	{"1m", time.Minute},
	{"3m", 3 * time.Minute},
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"30m", 30 * time.Minute},
	{"1H", time.Hour},
	{"2H", 2 * time.Hour},
	{"4H", 4 * time.Hour},
	{"6H", 6 * time.Hour},
	{"12H", 12 * time.Hour},
	{"1D", 24 * time.Hour},
	{"2D", 48 * time.Hour},
	{"3D", 72 * time.Hour},
	{"1W", 7 * 24 * time.Hour},
}

// choosePeriod picks the smallest bar such that the requested window fits in
// 300 candles of that size, and the REST limit to request.
func choosePeriod(window time.Duration, required int) (bar string, limit int) {
	for _, opt := range barOptions {
		if window <= opt.duration*300 {
			bar = opt.name
			break
		}
	}
	if bar == "" {
		bar = barOptions[len(barOptions)-1].name
	}
	limit = required * 2
	if limit > 300 {
		limit = 300
	}
	if limit < 1 {
		limit = 1
	}
	return bar, limit
}

// BootstrapHistory fetches mark-price candle history for one instrument,
// discards entries older than now-window, and returns them sorted
// ascending by timestamp.
func BootstrapHistory(ctx context.Context, client *okxapi.Client, instID string, window time.Duration, required int) ([]model.PricePoint, error) {
	bar, limit := choosePeriod(window, required)
	env, err := okxapi.UnsignedGet[[]string](ctx, client, "/api/v5/market/mark-price-candles", url.Values{
		"instId": {instID},
		"bar":    {bar},
		"limit":  {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: bootstrap %s: %w", instID, err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("marketdata: bootstrap %s failed (code %s): %s", instID, env.Code, env.Msg)
	}

	cutoff := time.Now().Add(-window).UnixMilli()
	points := make([]model.PricePoint, 0, len(env.Data))
	for _, row := range env.Data {
		if len(row) < 2 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil || ts < cutoff {
			continue
		}
		price, ok := model.ParseFloatStr(row[1])
		if !ok {
			continue
		}
		points = append(points, model.PricePoint{
			InstID:      instID,
			Price:       price,
			TimestampMs: ts,
			Precision:   model.DecimalPlaces(row[1]),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].TimestampMs < points[j].TimestampMs })
	return points, nil
}

// Subscriber runs the mark-price WebSocket subscription loop for a fixed
// set of instruments, publishing MarkPriceUpdate commands to the bus and
// reconnecting with exponential backoff (min(2^n, 32)s, reset on success).
type Subscriber struct {
	instruments []string
	bus         *bus.Bus

	mu     sync.RWMutex
	latest map[string]model.PricePoint
}

func NewSubscriber(instruments []string, b *bus.Bus) *Subscriber {
	return &Subscriber{instruments: instruments, bus: b, latest: make(map[string]model.PricePoint)}
}

// Latest returns the most recently observed price for an instrument.
func (s *Subscriber) Latest(instID string) (model.PricePoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.latest[model.NormalizeInstID(instID)]
	return p, ok
}

// Run drives the reconnect loop until ctx is cancelled. The backoff resets
// to 1s the moment a dial succeeds, not when the connection ends, so a
// long-lived stream that drops reconnects promptly.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := 1
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, func() { backoff = 1 })
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		log.Warn().Err(err).Msg("mark price subscriber disconnected, reconnecting")
		wait := time.Duration(backoff) * time.Second
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *Subscriber) runOnce(ctx context.Context, connected func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, publicWSURL, nil)
	if err != nil {
		return fmt.Errorf("marketdata: dial: %w", err)
	}
	defer conn.Close()
	connected()

	args := make([]subscribeArg, len(s.instruments))
	for i, inst := range s.instruments {
		args[i] = subscribeArg{Channel: "mark-price", InstID: inst}
	}
	sub := subscribeRequest{Op: "subscribe", Args: args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("marketdata: subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("marketdata: read: %w", err)
		}
		if string(data) == "ping" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return fmt.Errorf("marketdata: pong: %w", err)
			}
			continue
		}
		s.handleFrame(data)
	}
}

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type markPriceFrame struct {
	Arg  subscribeArg     `json:"arg"`
	Data []markPriceEntry `json:"data"`
}

type markPriceEntry struct {
	InstID string `json:"instId"`
	MarkPx string `json:"markPx"`
	Ts     string `json:"ts"`
}

func (s *Subscriber) handleFrame(data []byte) {
	var frame markPriceFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	for _, entry := range frame.Data {
		price, ok := model.ParseFloatStr(entry.MarkPx)
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(entry.Ts, 10, 64)
		if err != nil {
			ts = time.Now().UnixMilli()
		}
		precision := model.DecimalPlaces(entry.MarkPx)
		instID := model.NormalizeInstID(entry.InstID)

		s.mu.Lock()
		s.latest[instID] = model.PricePoint{InstID: instID, Price: price, TimestampMs: ts, Precision: precision}
		s.mu.Unlock()

		s.bus.Send(bus.MarkPriceUpdate(instID, price, ts, precision))
	}
}
