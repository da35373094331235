// Package account implements the account state aggregator: two long-lived
// private-channel WebSocket clients that merge inbound deltas into a single
// mutex-guarded snapshot, and re-broadcast changes on the command bus. The
// aggregator is the only owner of retained positions, orders and balances;
// the trading gateway stays stateless so the merged view always reflects
// what the exchange reported, never a locally simulated ledger.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/model"
	"github.com/okxtrader/agent/internal/okxapi"
)

const (
	privateWSURL  = "wss://ws.okx.com:8443/ws/v5/private"
	businessWSURL = "wss://ws.okx.com:8443/ws/v5/business"

	maxBackoffSeconds = 32
	pingInterval      = 20 * time.Second
)

// State is the mutex-guarded merged account view. It is the sole owner of
// retained position/order/balance state in the process; the trading
// gateway never holds its own copy.
type State struct {
	mu sync.Mutex

	filter map[string]struct{} // nil == accept all

	positions  map[model.PositionKey]model.Position
	openOrders map[string]model.PendingOrderInfo
	balance    model.AccountBalance

	bus *bus.Bus
}

func NewState(b *bus.Bus) *State {
	return &State{
		positions:  make(map[model.PositionKey]model.Position),
		openOrders: make(map[string]model.PendingOrderInfo),
		bus:        b,
	}
}

// UpdateFilter unions an additional instrument set into the existing
// filter. A nil/empty set leaves the filter untouched, matching the
// "filter updates are additive" requirement.
func (s *State) UpdateFilter(instruments []string) {
	if len(instruments) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		s.filter = make(map[string]struct{})
	}
	for _, inst := range instruments {
		s.filter[model.NormalizeInstID(inst)] = struct{}{}
	}
}

func (s *State) accepts(instID string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[model.NormalizeInstID(instID)]
	return ok
}

// Seed replaces the retained state with a REST-bootstrapped snapshot,
// filtered by the current instrument set.
func (s *State) Seed(snapshot model.AccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[model.PositionKey]model.Position)
	s.openOrders = make(map[string]model.PendingOrderInfo)
	s.balance = snapshot.Balance
	for _, p := range snapshot.Positions {
		if !s.accepts(p.InstID) {
			continue
		}
		s.positions[p.Key()] = p
	}
	for _, o := range snapshot.OpenOrders {
		if !s.accepts(o.InstID) {
			continue
		}
		s.openOrders[o.OrdID] = o
	}
}

// Snapshot returns the current merged state, sorted newest-first by
// creation time then by instrument/identifier.
func (s *State) Snapshot() model.AccountSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() model.AccountSnapshot {
	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return lessByCreateTimeThenKey(positions[i].CreateTime, positions[j].CreateTime,
			positions[i].InstID, positions[j].InstID,
			posSideStr(positions[i].PosSide), posSideStr(positions[j].PosSide))
	})

	orders := make([]model.PendingOrderInfo, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return lessByCreateTimeThenKey(orders[i].CreateTime, orders[j].CreateTime,
			orders[i].InstID, orders[j].InstID, orders[i].OrdID, orders[j].OrdID)
	})

	return model.AccountSnapshot{Positions: positions, OpenOrders: orders, Balance: s.balance}
}

func posSideStr(p *model.PosSide) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func lessByCreateTimeThenKey(ct1, ct2 *int64, a1, a2, b1, b2 string) bool {
	t1, t2 := int64(0), int64(0)
	if ct1 != nil {
		t1 = *ct1
	}
	if ct2 != nil {
		t2 = *ct2
	}
	if t1 != t2 {
		return t1 > t2 // newest first
	}
	if a1 != a2 {
		return a1 < a2
	}
	return b1 < b2
}

func (s *State) publish() {
	s.bus.Send(bus.AccountSnapshot(s.snapshotLocked()))
}

// wsPositionEntry, wsOrderEntry, wsAlgoOrderEntry and wsAccountEntry mirror
// the private-channel payload shapes byte-for-byte (OKX quotes every
// numeric field as a string).
type wsPositionEntry struct {
	InstID   string `json:"instId"`
	PosSide  string `json:"posSide"`
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	Lever    string `json:"lever"`
	Upl      string `json:"upl"`
	UplRatio string `json:"uplRatio"`
	Imr      string `json:"imr"`
	CTime    string `json:"cTime"`
}

type wsOrderEntry struct {
	InstID     string      `json:"instId"`
	OrdID      string      `json:"ordId"`
	Side       string      `json:"side"`
	PosSide    string      `json:"posSide"`
	Px         string      `json:"px"`
	Sz         string      `json:"sz"`
	State      string      `json:"state"`
	ReduceOnly interface{} `json:"reduceOnly"`
	Tag        string      `json:"tag"`
	Lever      string      `json:"lever"`
	AvgPx      string      `json:"avgPx"`
	AccFillSz  string      `json:"accFillSz"`
	FillPx     string      `json:"fillPx"`
	FillSz     string      `json:"fillSz"`
	FillTime   string      `json:"fillTime"`
	FillFee    string      `json:"fillFee"`
	FillFeeCcy string      `json:"fillFeeCcy"`
	Pnl        string      `json:"pnl"`
	TradeID    string      `json:"tradeId"`
	ExecType   string      `json:"execType"`
	CTime      string      `json:"cTime"`
}

type wsAlgoOrderEntry struct {
	InstID      string      `json:"instId"`
	AlgoID      string      `json:"algoId"`
	Side        string      `json:"side"`
	PosSide     string      `json:"posSide"`
	Sz          string      `json:"sz"`
	State       string      `json:"state"`
	ReduceOnly  interface{} `json:"reduceOnly"`
	Tag         string      `json:"tag"`
	Lever       string      `json:"lever"`
	TriggerPx   string      `json:"triggerPx"`
	OrderPx     string      `json:"orderPx"`
	TpTriggerPx string      `json:"tpTriggerPx"`
	TpOrdPx     string      `json:"tpOrdPx"`
	SlTriggerPx string      `json:"slTriggerPx"`
	SlOrdPx     string      `json:"slOrdPx"`
	CTime       string      `json:"cTime"`
}

type balanceDetail struct {
	Ccy      string `json:"ccy"`
	CashBal  string `json:"cashBal"`
	AvailBal string `json:"availBal"`
	AvailEq  string `json:"availEq"`
	Eq       string `json:"eq"`
	EqUsd    string `json:"eqUsd"`
}

type wsAccountEntry struct {
	TotalEq string          `json:"totalEq"`
	Details []balanceDetail `json:"details"`
}

// ApplyPositions merges inbound position deltas, emits a snapshot if
// anything changed, and returns whether a change occurred.
func (s *State) ApplyPositions(entries []wsPositionEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, e := range entries {
		if !s.accepts(e.InstID) {
			continue
		}
		size, _ := model.ParseFloatStr(e.Pos)
		avgPx, _ := model.ParseFloatStr(e.AvgPx)
		lever := optionalFloat(e.Lever)
		upl, _ := model.ParseFloatStr(e.Upl)
		uplRatio, _ := model.ParseFloatStr(e.UplRatio)
		imr, _ := model.ParseFloatStr(e.Imr)
		createTime := optionalInt(e.CTime)

		var posSide *model.PosSide
		if trimmed := strings.TrimSpace(e.PosSide); trimmed != "" {
			ps := model.PosSide(trimmed)
			posSide = &ps
		}
		key := model.Position{InstID: model.NormalizeInstID(e.InstID), PosSide: posSide}.Key()

		if size == 0 {
			if _, ok := s.positions[key]; ok {
				delete(s.positions, key)
				changed = true
			}
			continue
		}

		next := model.Position{
			InstID: model.NormalizeInstID(e.InstID), PosSide: posSide,
			Size: size, AvgPrice: avgPx, Leverage: lever,
			UPL: upl, UPLRatio: uplRatio, IMR: imr, CreateTime: createTime,
		}
		if existing, ok := s.positions[key]; !ok || positionDiffers(existing, next) {
			s.positions[key] = next
			changed = true
		}
	}
	if changed {
		s.publish()
	}
	return changed
}

func positionDiffers(a, b model.Position) bool {
	return a.Size != b.Size || a.AvgPrice != b.AvgPrice || !floatPtrEqual(a.Leverage, b.Leverage) ||
		a.UPL != b.UPL || a.UPLRatio != b.UPLRatio || a.IMR != b.IMR || !intPtrEqual(a.CreateTime, b.CreateTime)
}

// ApplyOrders merges inbound regular-order deltas.
func (s *State) ApplyOrders(entries []wsOrderEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, e := range entries {
		if !s.accepts(e.InstID) {
			continue
		}
		if !model.IsOrderActive(e.State) {
			if _, ok := s.openOrders[e.OrdID]; ok {
				delete(s.openOrders, e.OrdID)
				changed = true
			}
			continue
		}
		size, _ := model.ParseFloatStr(e.Sz)
		price := optionalFloat(e.Px)
		reduceOnly := parseBoolFlag(e.ReduceOnly)
		lever := optionalFloat(e.Lever)
		createTime := optionalInt(e.CTime)

		next := model.PendingOrderInfo{
			InstID: model.NormalizeInstID(e.InstID), OrdID: e.OrdID, Side: model.TradeSide(strings.ToLower(e.Side)),
			PosSide: optionalPosSide(e.PosSide), Price: price, Size: size, State: e.State,
			ReduceOnly: reduceOnly, Tag: e.Tag, Leverage: lever, Kind: model.KindRegular, CreateTime: createTime,
		}
		if existing, ok := s.openOrders[e.OrdID]; !ok || orderDiffers(existing, next) {
			s.openOrders[e.OrdID] = next
			changed = true
		}

		if fill, ok := fillFromOrder(e); ok {
			s.bus.Send(bus.TradeResult(model.TradeEvent{Fill: &fill}))
		}
	}
	if changed {
		s.publish()
	}
	return changed
}

func orderDiffers(a, b model.PendingOrderInfo) bool {
	return a.Size != b.Size || !floatPtrEqual(a.Price, b.Price) || a.State != b.State ||
		a.ReduceOnly != b.ReduceOnly || !floatPtrEqual(a.Leverage, b.Leverage) || a.Kind != b.Kind ||
		!intPtrEqual(a.CreateTime, b.CreateTime) || !floatPtrEqual(a.TriggerPrice, b.TriggerPrice)
}

// ApplyAlgoOrders merges inbound algo (TP/SL) order deltas.
func (s *State) ApplyAlgoOrders(entries []wsAlgoOrderEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, e := range entries {
		if !s.accepts(e.InstID) {
			continue
		}
		if !model.IsOrderActive(e.State) {
			if _, ok := s.openOrders[e.AlgoID]; ok {
				delete(s.openOrders, e.AlgoID)
				changed = true
			}
			continue
		}
		size, _ := model.ParseFloatStr(e.Sz)
		price := firstNonEmptyFloat(e.TpOrdPx, e.SlOrdPx, e.OrderPx)
		trigger := firstNonEmptyFloat(e.TpTriggerPx, e.SlTriggerPx, e.TriggerPx)
		reduceOnly := parseBoolFlag(e.ReduceOnly)
		lever := optionalFloat(e.Lever)
		kind := determineKind(e.TpTriggerPx, e.SlTriggerPx)
		createTime := optionalInt(e.CTime)

		next := model.PendingOrderInfo{
			InstID: model.NormalizeInstID(e.InstID), OrdID: e.AlgoID, Side: model.TradeSide(strings.ToLower(e.Side)),
			PosSide: optionalPosSide(e.PosSide), Price: price, TriggerPrice: trigger, Size: size, State: e.State,
			ReduceOnly: reduceOnly, Tag: e.Tag, Leverage: lever, Kind: kind, CreateTime: createTime,
		}
		if existing, ok := s.openOrders[e.AlgoID]; !ok || orderDiffers(existing, next) {
			s.openOrders[e.AlgoID] = next
			changed = true
		}
	}
	if changed {
		s.publish()
	}
	return changed
}

func determineKind(tpTrigger, slTrigger string) model.TradeOrderKind {
	if strings.TrimSpace(tpTrigger) != "" {
		return model.KindTakeProfit
	}
	if strings.TrimSpace(slTrigger) != "" {
		return model.KindStopLoss
	}
	return model.KindRegular
}

// ApplyBalances merges inbound account-balance deltas.
func (s *State) ApplyBalances(entries []wsAccountEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var totalEq float64
	if len(entries) > 0 {
		if v, ok := model.ParseFloatStr(entries[0].TotalEq); ok {
			totalEq = v
		}
	}
	var details []balanceDetail
	for _, e := range entries {
		details = append(details, e.Details...)
	}
	aggregated := aggregateBalanceDetails(details)
	changed := totalEq != s.balance.TotalEquity || !balanceDetailsEqual(s.balance.Details, aggregated)
	if changed {
		s.balance = model.AccountBalance{TotalEquity: totalEq, Details: aggregated}
		s.publish()
	}
	return changed
}

type balanceAgg struct {
	detail  model.AccountBalanceDetail
	usd     *float64
	hasCash bool
	hasEq   bool
	hasAvl  bool
}

func aggregateBalanceDetails(details []balanceDetail) []model.AccountBalanceDetail {
	agg := make(map[string]*balanceAgg)
	order := make([]string, 0)
	for _, d := range details {
		if availEq, ok := model.ParseFloatStr(d.AvailEq); ok && availEq <= 0 {
			continue
		}
		entry, ok := agg[d.Ccy]
		if !ok {
			entry = &balanceAgg{detail: model.AccountBalanceDetail{Currency: d.Ccy}}
			agg[d.Ccy] = entry
			order = append(order, d.Ccy)
		}
		accumulate(&entry.detail.CashBalance, &entry.hasCash, d.CashBal)
		accumulate(&entry.detail.Equity, &entry.hasEq, d.Eq)
		available := d.AvailEq
		if strings.TrimSpace(available) == "" {
			available = d.AvailBal
		}
		accumulate(&entry.detail.Available, &entry.hasAvl, available)
		accumulateUSD(&entry.usd, d.EqUsd)
	}
	sort.Strings(order)
	out := make([]model.AccountBalanceDetail, 0, len(order))
	for _, ccy := range order {
		entry := agg[ccy]
		if entry.usd != nil && *entry.usd < model.MinBalanceValueUSD {
			continue
		}
		out = append(out, entry.detail)
	}
	return out
}

func accumulate(target **float64, has *bool, raw string) {
	v, ok := model.ParseFloatStr(raw)
	if !ok {
		return
	}
	if *has {
		**target += v
	} else {
		val := v
		*target = &val
		*has = true
	}
}

func accumulateUSD(target **float64, raw string) {
	v, ok := model.ParseFloatStr(raw)
	if !ok {
		return
	}
	if *target == nil {
		val := v
		*target = &val
	} else {
		**target += v
	}
}

func balanceDetailsEqual(a, b []model.AccountBalanceDetail) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Currency != b[i].Currency || !floatPtrEqual(a[i].CashBalance, b[i].CashBalance) ||
			!floatPtrEqual(a[i].Equity, b[i].Equity) || !floatPtrEqual(a[i].Available, b[i].Available) {
			return false
		}
	}
	return true
}

func optionalFloat(raw string) *float64 {
	v, ok := model.ParseFloatStr(raw)
	if !ok {
		return nil
	}
	return &v
}

func firstNonEmptyFloat(candidates ...string) *float64 {
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if v, ok := model.ParseFloatStr(c); ok {
			return &v
		}
	}
	return nil
}

func optionalInt(raw string) *int64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func optionalPosSide(raw string) *model.PosSide {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	ps := model.PosSide(trimmed)
	return &ps
}

func parseBoolFlag(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		lowered := strings.ToLower(strings.TrimSpace(t))
		return lowered == "true" || lowered == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fillFromOrder(e wsOrderEntry) (model.TradeFill, bool) {
	if strings.TrimSpace(e.ExecType) == "" || strings.TrimSpace(e.TradeID) == "" {
		return model.TradeFill{}, false
	}
	fillSz, ok := model.ParseFloatStr(e.FillSz)
	if !ok || fillSz == 0 {
		return model.TradeFill{}, false
	}
	fillPx, _ := model.ParseFloatStr(e.FillPx)
	accFillSz, _ := model.ParseFloatStr(e.AccFillSz)
	avgPx, _ := model.ParseFloatStr(e.AvgPx)
	fee, _ := model.ParseFloatStr(e.FillFee)
	pnl, _ := model.ParseFloatStr(e.Pnl)
	fillTimeMs, err := strconv.ParseInt(strings.TrimSpace(e.FillTime), 10, 64)
	if err != nil {
		fillTimeMs = time.Now().UnixMilli()
	}
	return model.TradeFill{
		InstID: model.NormalizeInstID(e.InstID), Side: model.TradeSide(strings.ToLower(e.Side)),
		Price: fillPx, Size: fillSz, OrderID: e.OrdID, PosSide: optionalPosSide(e.PosSide),
		TradeID: e.TradeID, ExecType: e.ExecType, FillTimeMs: fillTimeMs, Fee: fee,
		FeeCurrency: e.FillFeeCcy, PNL: pnl, AccFillSize: accFillSz, AvgPrice: avgPx,
		Leverage: optionalFloat(e.Lever), Tag: e.Tag,
	}, true
}

// --- WebSocket client loops ---

// Client drives the private and business WebSocket connections.
type Client struct {
	creds okxapi.Credentials
	state *State
}

func NewClient(creds okxapi.Credentials, state *State) *Client {
	return &Client{creds: creds, state: state}
}

// RunPrivate drives the positions/orders/account channel connection with
// exponential-backoff reconnection.
func (c *Client) RunPrivate(ctx context.Context) {
	runReconnectLoop(ctx, "private", c.runPrivateOnce)
}

// RunBusiness drives the orders-algo channel connection with the same
// reconnection policy, independent of the private connection.
func (c *Client) RunBusiness(ctx context.Context) {
	runReconnectLoop(ctx, "business", c.runBusinessOnce)
}

// runReconnectLoop retries `once` forever. The backoff resets to 1s as soon
// as a dial succeeds (signalled through the connected callback), so an
// hour-long healthy stream that drops does not inherit the previous
// failure streak's delay.
func runReconnectLoop(ctx context.Context, name string, once func(context.Context, func()) error) {
	backoff := 1
	for {
		if ctx.Err() != nil {
			return
		}
		err := once(ctx, func() { backoff = 1 })
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		log.Warn().Err(err).Str("channel", name).Msg("account websocket disconnected, reconnecting")
		select {
		case <-time.After(time.Duration(backoff) * time.Second):
		case <-ctx.Done():
			return
		}
		backoff = int(math.Min(float64(backoff*2), float64(maxBackoffSeconds)))
	}
}

func (c *Client) login(conn *websocket.Conn) error {
	ts := okxapi.WSTimestamp(time.Now())
	sign := okxapi.WSLoginSign(c.creds.APISecret, ts)
	login := map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey": c.creds.APIKey, "passphrase": c.creds.Passphrase, "timestamp": ts, "sign": sign,
		}},
	}
	if err := conn.WriteJSON(login); err != nil {
		return fmt.Errorf("account: send login: %w", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("account: read login ack: %w", err)
		}
		var evt wsEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.Event == "" {
			continue
		}
		if evt.Event == "login" {
			if evt.Code == "0" {
				return nil
			}
			return fmt.Errorf("account: login failed (code %s): %s", evt.Code, evt.Msg)
		}
	}
}

type wsEvent struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
}

type wsDataFrame struct {
	Arg struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) runPrivateOnce(ctx context.Context, connected func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, privateWSURL, nil)
	if err != nil {
		return fmt.Errorf("account: dial private: %w", err)
	}
	defer conn.Close()
	connected()

	if err := c.login(conn); err != nil {
		return err
	}
	subscribe := map[string]any{"op": "subscribe", "args": []map[string]string{
		{"channel": "positions", "instType": "ANY"},
		{"channel": "orders", "instType": "ANY"},
		{"channel": "account"},
	}}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("account: subscribe private: %w", err)
	}

	return c.steadyState(ctx, conn, func(channel string, data json.RawMessage) {
		switch channel {
		case "positions":
			var entries []wsPositionEntry
			if json.Unmarshal(data, &entries) == nil {
				c.state.ApplyPositions(entries)
			}
		case "orders":
			var entries []wsOrderEntry
			if json.Unmarshal(data, &entries) == nil {
				c.state.ApplyOrders(entries)
			}
		case "account":
			var entries []wsAccountEntry
			if json.Unmarshal(data, &entries) == nil {
				c.state.ApplyBalances(entries)
			}
		}
	})
}

func (c *Client) runBusinessOnce(ctx context.Context, connected func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, businessWSURL, nil)
	if err != nil {
		return fmt.Errorf("account: dial business: %w", err)
	}
	defer conn.Close()
	connected()

	if err := c.login(conn); err != nil {
		return err
	}
	subscribe := map[string]any{"op": "subscribe", "args": []map[string]string{
		{"channel": "orders-algo", "instType": "ANY"},
	}}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("account: subscribe business: %w", err)
	}

	return c.steadyState(ctx, conn, func(channel string, data json.RawMessage) {
		if channel != "orders-algo" {
			return
		}
		var entries []wsAlgoOrderEntry
		if json.Unmarshal(data, &entries) == nil {
			c.state.ApplyAlgoOrders(entries)
		}
	})
}

func (c *Client) steadyState(ctx context.Context, conn *websocket.Conn, onData func(channel string, data json.RawMessage)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- data
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return fmt.Errorf("account: ping: %w", err)
			}
		case err := <-errCh:
			return fmt.Errorf("account: read: %w", err)
		case data := <-msgCh:
			if string(data) == "pong" {
				continue
			}
			var evt wsEvent
			if err := json.Unmarshal(data, &evt); err == nil && evt.Event != "" {
				if evt.Event == "error" {
					log.Warn().Str("code", evt.Code).Str("msg", evt.Msg).Msg("account websocket event error")
				}
				continue
			}
			var frame wsDataFrame
			if err := json.Unmarshal(data, &frame); err == nil && frame.Arg.Channel != "" {
				onData(frame.Arg.Channel, frame.Data)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
