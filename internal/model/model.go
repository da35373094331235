// Package model holds the data types shared across the account aggregator,
// trading gateway, decision executor and market telemetry packages. Kept
// separate to avoid import cycles between those packages.
package model

import "strings"

// TradeSide is the direction of an order.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Opposite returns the closing side for a given entry side.
func (s TradeSide) Opposite() TradeSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s TradeSide) OKXSide() string { return string(s) }

// TradeOrderKind discriminates the tagged variants of a working order or
// trade request. Dispatch inside the trading gateway switches on this field
// rather than using subtype polymorphism.
type TradeOrderKind string

const (
	KindRegular    TradeOrderKind = "regular"
	KindTakeProfit TradeOrderKind = "take_profit"
	KindStopLoss   TradeOrderKind = "stop_loss"
)

// TradeOrderType is the OKX ordType for a regular order.
type TradeOrderType string

const (
	OrdTypeMarket TradeOrderType = "market"
	OrdTypeLimit  TradeOrderType = "limit"
)

// TradeOperator identifies who initiated a trade request, for audit and
// notification purposes.
type TradeOperator struct {
	Kind string // "manual", "ai", "custom"
	Name string
}

func ManualOperator() TradeOperator        { return TradeOperator{Kind: "manual"} }
func AIOperator(name string) TradeOperator { return TradeOperator{Kind: "ai", Name: name} }
func CustomOperator(name string) TradeOperator {
	return TradeOperator{Kind: "custom", Name: name}
}

func (o TradeOperator) Label() string {
	switch o.Kind {
	case "ai":
		if o.Name != "" {
			return "ai:" + o.Name
		}
		return "ai"
	case "custom":
		return o.Name
	default:
		return "manual"
	}
}

// PosSide is the OKX position-side for swap/futures instruments.
type PosSide string

const (
	PosSideLong  PosSide = "long"
	PosSideShort PosSide = "short"
)

// InferPosSide returns the position side an entry on the given side implies
// for swap/futures instruments, and nil for spot.
func InferPosSide(instID string, side TradeSide) *PosSide {
	if !IsDerivative(instID) {
		return nil
	}
	ps := PosSideLong
	if side == SideSell {
		ps = PosSideShort
	}
	return &ps
}

// NormalizeInstID uppercases an instrument identifier for case-insensitive
// comparison and storage-key purposes.
func NormalizeInstID(instID string) string {
	return strings.ToUpper(strings.TrimSpace(instID))
}

// IsDerivative reports whether an instrument ID names a perpetual swap or
// dated futures contract, which require a position side.
func IsDerivative(instID string) bool {
	upper := NormalizeInstID(instID)
	return strings.HasSuffix(upper, "-SWAP") || strings.HasSuffix(upper, "-FUTURES")
}

// PricePoint is a mark-price observation with the precision of the raw
// string preserved alongside the parsed value, per the design notes: a bare
// float64 loses the source's fractional-digit count.
type PricePoint struct {
	InstID      string
	Price       float64
	TimestampMs int64
	Precision   int
}

// Position is a single open position for an instrument/pos-side pair.
type Position struct {
	InstID     string
	PosSide    *PosSide
	Size       float64 // signed when PosSide is nil
	AvgPrice   float64
	Leverage   *float64
	UPL        float64
	UPLRatio   float64
	IMR        float64
	CreateTime *int64
}

// PositionKey identifies a retained position in the merged account state.
type PositionKey struct {
	InstID  string
	PosSide string // "" when absent
}

func (p Position) Key() PositionKey {
	side := ""
	if p.PosSide != nil {
		side = string(*p.PosSide)
	}
	return PositionKey{InstID: NormalizeInstID(p.InstID), PosSide: side}
}

// PendingOrderInfo is a working order (regular or algorithmic) as observed
// by the account state aggregator.
type PendingOrderInfo struct {
	InstID       string
	OrdID        string
	Side         TradeSide
	PosSide      *PosSide
	Price        *float64
	TriggerPrice *float64
	Size         float64
	State        string
	ReduceOnly   bool
	Tag          string
	Leverage     *float64
	Kind         TradeOrderKind
	CreateTime   *int64
}

// IsOrderActive reports whether the order's lifecycle state is still live and
// should be retained in the merged account state.
func IsOrderActive(state string) bool {
	switch state {
	case "live", "partially_filled", "not_triggered", "partially_filled_not_triggered":
		return true
	default:
		return false
	}
}

// AccountBalanceDetail is a single currency's balance breakdown.
type AccountBalanceDetail struct {
	Currency    string
	CashBalance *float64
	Equity      *float64
	Available   *float64
}

// AccountBalance is the aggregated balance view: total equity plus a
// per-currency breakdown, with entries below the USD floor suppressed.
type AccountBalance struct {
	TotalEquity float64
	Details     []AccountBalanceDetail
}

// MinBalanceValueUSD is the floor below which a currency balance is
// suppressed from reports.
const MinBalanceValueUSD = 1.0

// AccountSnapshot is the full observed account state.
type AccountSnapshot struct {
	Positions  []Position
	OpenOrders []PendingOrderInfo
	Balance    AccountBalance
}

// TradeRequest is an intent to place a new order, produced by the decision
// executor or a manual collaborator and consumed by the trading gateway.
type TradeRequest struct {
	InstID     string
	Side       TradeSide
	Price      float64
	Size       float64
	PosSide    *PosSide
	OrdType    TradeOrderType
	ReduceOnly bool
	Tag        string
	Operator   TradeOperator
	Leverage   *float64
	Kind       TradeOrderKind
}

// TradeResponse is the canonicalized outcome of a Place or Cancel call.
type TradeResponse struct {
	InstID   string
	Side     TradeSide
	Price    float64
	Size     float64
	OrderID  string
	Message  string
	Success  bool
	Operator TradeOperator
	PosSide  *PosSide
	Leverage *float64
}

// CancelOrderRequest is an intent to cancel a working order.
type CancelOrderRequest struct {
	InstID   string
	OrdID    string
	Operator TradeOperator
	PosSide  *PosSide
	Kind     TradeOrderKind
}

// CancelResponse is the canonicalized outcome of a Cancel call.
type CancelResponse struct {
	InstID   string
	OrdID    string
	Message  string
	Success  bool
	Operator TradeOperator
	PosSide  *PosSide
}

// SetLeverageRequest is an intent to change leverage for an instrument/pos-side.
type SetLeverageRequest struct {
	InstID  string
	Lever   float64
	PosSide *PosSide
}

// TradeEvent is either an order outcome or a cancel outcome, broadcast on
// the command bus as part of a TradeResult.
type TradeEvent struct {
	Order  *TradeResponse
	Cancel *CancelResponse
	Fill   *TradeFill
}

func (e TradeEvent) LeverageHint() *float64 {
	if e.Order != nil {
		return e.Order.Leverage
	}
	return nil
}

// TradeFill is a concrete execution event against a working order, as
// observed on a private WebSocket channel, distinct from a pure
// state-field change.
type TradeFill struct {
	InstID      string
	Side        TradeSide
	Price       float64
	Size        float64
	OrderID     string
	PosSide     *PosSide
	TradeID     string
	ExecType    string
	FillTimeMs  int64
	Fee         float64
	FeeCurrency string
	PNL         float64
	AccFillSize float64
	AvgPrice    float64
	Leverage    *float64
	Tag         string
}

// TradingCommand is a unit of work consumed by the trading gateway's single
// consumer queue.
type TradingCommand struct {
	Place       *TradeRequest
	Cancel      *CancelOrderRequest
	SetLeverage *SetLeverageRequest
}

// LeverageKey identifies a cached leverage entry: instrument (uppercased)
// plus an optional, lowercase-trimmed position side.
type LeverageKey struct {
	InstID  string
	PosSide string // "" for absent
}

func NewLeverageKey(instID string, posSide *PosSide) LeverageKey {
	side := ""
	if posSide != nil {
		side = strings.ToLower(strings.TrimSpace(string(*posSide)))
	}
	return LeverageKey{InstID: NormalizeInstID(instID), PosSide: side}
}

// DecisionSignal is the discrete intent produced by the LLM advisor.
type DecisionSignal string

const (
	SignalBuyToEnter  DecisionSignal = "buy_to_enter"
	SignalSellToEnter DecisionSignal = "sell_to_enter"
	SignalHold        DecisionSignal = "hold"
	SignalClose       DecisionSignal = "close"
	SignalCancelOrder DecisionSignal = "cancel_order"
	SignalWait        DecisionSignal = "wait"
)

// MarketInfo is instrument metadata used to seed the leverage cache.
type MarketInfo struct {
	InstID   string
	InstType string
	Leverage float64
}
