// Package decision implements the decision executor: it parses the LLM
// advisor's free-form JSON output and translates each abstract signal into
// well-formed trading commands, aligning leverage before entries and
// attaching protective stop-loss/take-profit orders.
package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/indicators"
	"github.com/okxtrader/agent/internal/leverage"
	"github.com/okxtrader/agent/internal/model"
)

// Order tags stamped on every order the executor creates, interpreted by UI
// collaborators for labeling.
const (
	TagEntry      = "dsentry"
	TagStopLoss   = "dssl"
	TagTakeProfit = "dstp"
	TagClose      = "dsclose"
)

// PriceSource supplies the latest mark price for an instrument.
type PriceSource interface {
	PriceForInst(ctx context.Context, instID string) (float64, error)
}

// Submitter enqueues trading commands for the gateway's consumer loop.
type Submitter interface {
	Submit(ctx context.Context, cmd model.TradingCommand) error
}

// SnapshotSource returns an owned copy of the merged account state.
type SnapshotSource interface {
	Snapshot() model.AccountSnapshot
}

// ErrorStore receives the full raw advisor output when parsing fails, for
// later inspection. The audit-log collaborator implements it.
type ErrorStore interface {
	AppendMessage(message string) error
}

// Advisor produces the raw decision text for one run. Prompt assembly and
// the LLM call itself live behind this interface.
type Advisor interface {
	Advise(ctx context.Context, snapshot model.AccountSnapshot, analytics []*indicators.InstrumentAnalytics) (string, error)
}

// Executor translates advisor decisions into trading commands.
type Executor struct {
	state        SnapshotSource
	bus          *bus.Bus
	instIDs      []string
	prices       PriceSource
	gateway      Submitter
	leverage     *leverage.Cache
	errorLog     ErrorStore
	operatorName string
}

func NewExecutor(state SnapshotSource, b *bus.Bus, instIDs []string, prices PriceSource,
	gateway Submitter, cache *leverage.Cache, errorLog ErrorStore, operatorName string) *Executor {
	return &Executor{
		state: state, bus: b, instIDs: instIDs, prices: prices,
		gateway: gateway, leverage: cache, errorLog: errorLog, operatorName: operatorName,
	}
}

func (e *Executor) operator() model.TradeOperator {
	return model.AIOperator(e.operatorName)
}

// Execute parses the advisor output and runs every decision in it. A failed
// decision is reported and does not stop the remaining decisions; the
// joined errors are returned so the caller can log the run as failed.
func (e *Executor) Execute(ctx context.Context, response string) error {
	decisions, err := ParseDecisions(response)
	if err != nil {
		e.logParseFailure(err, response)
		return fmt.Errorf("decision: parse advisor output: %w", err)
	}
	var errs []error
	for _, d := range decisions {
		var runErr error
		switch d.Signal {
		case model.SignalHold, model.SignalWait:
			continue
		case model.SignalBuyToEnter, model.SignalSellToEnter:
			runErr = e.placeEntry(ctx, &d)
		case model.SignalClose:
			runErr = e.executeClose(ctx, &d)
		case model.SignalCancelOrder:
			runErr = e.cancelOrders(ctx, &d)
		default:
			runErr = fmt.Errorf("decision: unknown signal %q", d.Signal)
		}
		if runErr != nil {
			e.bus.Send(bus.ErrorMsg(fmt.Sprintf("%s decision failed: %v", e.operatorName, runErr)))
			errs = append(errs, runErr)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) placeEntry(ctx context.Context, d *Decision) error {
	instID, ok := ResolveInstID(d.Coin, e.instIDs)
	if !ok {
		return fmt.Errorf("decision: no configured instrument matches coin %q", d.Coin)
	}
	quantity := d.Quantity.Float64()
	if quantity <= 0 {
		return fmt.Errorf("decision: %s entry size must be positive (got %v)", instID, quantity)
	}
	entryPrice := d.EntryPrice.Float64()
	if entryPrice <= 0 {
		return fmt.Errorf("decision: %s entry price must be positive (got %v)", instID, entryPrice)
	}
	current, err := e.prices.PriceForInst(ctx, instID)
	if err != nil {
		return fmt.Errorf("decision: fetch %s mark price: %w", instID, err)
	}
	side := model.SideBuy
	if d.Signal == model.SignalSellToEnter {
		side = model.SideSell
	}
	// Market-improving price: a buy never pays more than the decision's
	// entry price, a sell never receives less.
	price := entryPrice
	if side == model.SideBuy {
		price = math.Min(current, entryPrice)
	} else {
		price = math.Max(current, entryPrice)
	}

	request := model.TradeRequest{
		InstID:   instID,
		Side:     side,
		Price:    price,
		Size:     quantity,
		OrdType:  model.OrdTypeMarket,
		Tag:      TagEntry,
		Operator: e.operator(),
		Kind:     model.KindRegular,
	}
	if lever := d.Leverage.Float64(); lever > 0 {
		request.Leverage = &lever
		posSide := model.InferPosSide(instID, side)
		if err := e.ensureLeverageAlignment(ctx, instID, posSide, lever); err != nil {
			return err
		}
	}
	if err := e.submit(ctx, model.TradingCommand{Place: &request}); err != nil {
		return err
	}
	return e.placeProtectiveOrders(ctx, &request, d)
}

func (e *Executor) placeProtectiveOrders(ctx context.Context, entry *model.TradeRequest, d *Decision) error {
	stopLoss := d.StopLoss.Float64()
	profitTarget := d.ProfitTarget.Float64()
	if stopLoss <= 0 && profitTarget <= 0 {
		return nil
	}
	closingSide := entry.Side.Opposite()
	posSide := model.InferPosSide(entry.InstID, entry.Side)
	entryPrice := entry.Price

	if profitTarget > 0 {
		if validTakeProfit(entry.Side, entryPrice, profitTarget) {
			request := model.TradeRequest{
				InstID: entry.InstID, Side: closingSide, Price: profitTarget, Size: entry.Size,
				PosSide: posSide, ReduceOnly: true, Tag: TagTakeProfit,
				Operator: e.operator(), Leverage: entry.Leverage, Kind: model.KindTakeProfit,
			}
			if err := e.submit(ctx, model.TradingCommand{Place: &request}); err != nil {
				return err
			}
		} else {
			e.warnInvalidProtectivePrice(entry.InstID, "take-profit", profitTarget, entry.Side)
		}
	}
	if stopLoss > 0 {
		if validStopLoss(entry.Side, entryPrice, stopLoss) {
			request := model.TradeRequest{
				InstID: entry.InstID, Side: closingSide, Price: stopLoss, Size: entry.Size,
				PosSide: posSide, ReduceOnly: true, Tag: TagStopLoss,
				Operator: e.operator(), Leverage: entry.Leverage, Kind: model.KindStopLoss,
			}
			if err := e.submit(ctx, model.TradingCommand{Place: &request}); err != nil {
				return err
			}
		} else {
			e.warnInvalidProtectivePrice(entry.InstID, "stop-loss", stopLoss, entry.Side)
		}
	}
	return nil
}

func (e *Executor) executeClose(ctx context.Context, d *Decision) error {
	instID, ok := ResolveInstID(d.Coin, e.instIDs)
	if !ok {
		return fmt.Errorf("decision: no configured instrument matches coin %q", d.Coin)
	}
	snapshot := e.state.Snapshot()
	var position *model.Position
	for i := range snapshot.Positions {
		if strings.EqualFold(snapshot.Positions[i].InstID, instID) {
			position = &snapshot.Positions[i]
			break
		}
	}
	if position == nil {
		return fmt.Errorf("decision: %s has no open position to close", instID)
	}
	available := math.Abs(position.Size)
	if available <= 0 {
		return fmt.Errorf("decision: %s position size is invalid", instID)
	}
	size := available
	if q := d.Quantity.Float64(); q > 0 {
		size = math.Min(q, available)
	}
	price, err := e.prices.PriceForInst(ctx, instID)
	if err != nil {
		return fmt.Errorf("decision: fetch %s mark price: %w", instID, err)
	}
	side, posSide := closeSideOf(position)
	request := model.TradeRequest{
		InstID: instID, Side: side, Price: price, Size: size, PosSide: posSide,
		OrdType: model.OrdTypeMarket, ReduceOnly: true, Tag: TagClose,
		Operator: e.operator(), Leverage: position.Leverage, Kind: model.KindRegular,
	}
	return e.submit(ctx, model.TradingCommand{Place: &request})
}

func (e *Executor) cancelOrders(ctx context.Context, d *Decision) error {
	instID, ok := ResolveInstID(d.Coin, e.instIDs)
	if !ok {
		return fmt.Errorf("decision: no configured instrument matches coin %q", d.Coin)
	}
	if len(d.CancelOrders) == 0 {
		return fmt.Errorf("decision: cancel signal for %s has no order list", instID)
	}
	wanted := make(map[string]struct{}, len(d.CancelOrders))
	for _, id := range d.CancelOrders {
		wanted[id] = struct{}{}
	}
	snapshot := e.state.Snapshot()
	var matched []model.PendingOrderInfo
	for _, order := range snapshot.OpenOrders {
		if !strings.EqualFold(order.InstID, instID) {
			continue
		}
		if _, ok := wanted[order.OrdID]; ok {
			matched = append(matched, order)
		}
	}
	if len(matched) == 0 {
		e.bus.Send(bus.Notify(instID, fmt.Sprintf("%s found no matching %s orders to cancel, signal ignored", e.operatorName, instID)))
		return nil
	}
	for _, order := range matched {
		request := model.CancelOrderRequest{
			InstID: order.InstID, OrdID: order.OrdID,
			Operator: e.operator(), PosSide: order.PosSide, Kind: order.Kind,
		}
		if err := e.submit(ctx, model.TradingCommand{Cancel: &request}); err != nil {
			return err
		}
	}
	return nil
}

// ensureLeverageAlignment sends a SetLeverage command when the cached
// leverage differs from the desired value, then records the new value. The
// command is fire-and-forget; no acknowledgment is awaited before the entry.
func (e *Executor) ensureLeverageAlignment(ctx context.Context, instID string, posSide *model.PosSide, desired float64) error {
	if desired <= 0 {
		return nil
	}
	if !e.leverage.NeedsUpdate(instID, posSide, desired) {
		return nil
	}
	request := model.SetLeverageRequest{InstID: instID, Lever: desired, PosSide: posSide}
	if err := e.submit(ctx, model.TradingCommand{SetLeverage: &request}); err != nil {
		return fmt.Errorf("decision: send leverage alignment: %w", err)
	}
	e.leverage.Record(instID, posSide, desired)
	return nil
}

func (e *Executor) submit(ctx context.Context, cmd model.TradingCommand) error {
	if err := e.gateway.Submit(ctx, cmd); err != nil {
		return fmt.Errorf("decision: submit trading command: %w", err)
	}
	return nil
}

func (e *Executor) warnInvalidProtectivePrice(instID, label string, price float64, side model.TradeSide) {
	expectation := "below the entry price"
	switch {
	case label == "stop-loss" && side == model.SideSell:
		expectation = "above the entry price"
	case label == "take-profit" && side == model.SideBuy:
		expectation = "above the entry price"
	}
	e.bus.Send(bus.ErrorMsg(fmt.Sprintf("%s %s %s price %.4f contradicts the %s direction (must be %s), skipped",
		e.operatorName, instID, label, price, side, expectation)))
}

func (e *Executor) logParseFailure(err error, response string) {
	if e.errorLog == nil {
		return
	}
	message := fmt.Sprintf("advisor decision parse failed: %v\nraw response:\n%s", err, response)
	if logErr := e.errorLog.AppendMessage(message); logErr != nil {
		log.Warn().Err(logErr).Msg("failed to append advisor parse failure to error log")
	}
}

func validTakeProfit(side model.TradeSide, entryPrice, target float64) bool {
	if entryPrice <= 0 || target <= 0 {
		return false
	}
	if side == model.SideBuy {
		return target > entryPrice
	}
	return target < entryPrice
}

func validStopLoss(side model.TradeSide, entryPrice, stop float64) bool {
	if entryPrice <= 0 || stop <= 0 {
		return false
	}
	if side == model.SideBuy {
		return stop < entryPrice
	}
	return stop > entryPrice
}

func closeSideOf(position *model.Position) (model.TradeSide, *model.PosSide) {
	if position.PosSide != nil {
		switch *position.PosSide {
		case model.PosSideLong:
			return model.SideSell, position.PosSide
		case model.PosSideShort:
			return model.SideBuy, position.PosSide
		}
	}
	if position.Size >= 0 {
		return model.SideSell, position.PosSide
	}
	return model.SideBuy, position.PosSide
}

// Run drives the executor on a fixed interval: each tick assembles the
// account snapshot and per-instrument analytics, asks the advisor for
// decisions and executes them. Advisor and analytics failures are reported
// and the loop continues with the next tick.
func (e *Executor) Run(ctx context.Context, interval time.Duration, advisor Advisor, fetcher *indicators.Fetcher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx, advisor, fetcher)
		}
	}
}

func (e *Executor) runOnce(ctx context.Context, advisor Advisor, fetcher *indicators.Fetcher) {
	snapshot := e.state.Snapshot()
	analytics := make([]*indicators.InstrumentAnalytics, 0, len(e.instIDs))
	for _, instID := range e.instIDs {
		bundle, err := fetcher.FetchInstrument(ctx, instID)
		if err != nil {
			log.Warn().Err(err).Str("instId", instID).Msg("analytics assembly failed, instrument excluded from this run")
			continue
		}
		analytics = append(analytics, bundle)
	}
	response, err := advisor.Advise(ctx, snapshot, analytics)
	if err != nil {
		e.bus.Send(bus.ErrorMsg(fmt.Sprintf("%s advisor call failed: %v", e.operatorName, err)))
		return
	}
	e.bus.Send(bus.AiInsight(response))
	if err := e.Execute(ctx, response); err != nil {
		log.Warn().Err(err).Msg("decision run finished with errors")
	}
}
