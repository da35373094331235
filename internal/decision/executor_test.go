package decision

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/leverage"
	"github.com/okxtrader/agent/internal/model"
)

type fakeGateway struct {
	commands []model.TradingCommand
	err      error
}

func (g *fakeGateway) Submit(_ context.Context, cmd model.TradingCommand) error {
	if g.err != nil {
		return g.err
	}
	g.commands = append(g.commands, cmd)
	return nil
}

type fakePrices struct {
	prices map[string]float64
}

func (p *fakePrices) PriceForInst(_ context.Context, instID string) (float64, error) {
	v, ok := p.prices[instID]
	if !ok {
		return 0, fmt.Errorf("no price for %s", instID)
	}
	return v, nil
}

type fakeState struct {
	snapshot model.AccountSnapshot
}

func (s *fakeState) Snapshot() model.AccountSnapshot { return s.snapshot }

type fakeErrorLog struct {
	messages []string
}

func (l *fakeErrorLog) AppendMessage(message string) error {
	l.messages = append(l.messages, message)
	return nil
}

type testHarness struct {
	executor *Executor
	gateway  *fakeGateway
	bus      *bus.Bus
	state    *fakeState
	errorLog *fakeErrorLog
	cache    *leverage.Cache
}

func newHarness(t *testing.T, markPrice float64) *testHarness {
	t.Helper()
	b := bus.New()
	gw := &fakeGateway{}
	state := &fakeState{}
	errorLog := &fakeErrorLog{}
	cache := leverage.NewCache()
	exec := NewExecutor(state, b, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"},
		&fakePrices{prices: map[string]float64{"BTC-USDT-SWAP": markPrice, "ETH-USDT-SWAP": 3500}},
		gw, cache, errorLog, "deepseek")
	return &testHarness{executor: exec, gateway: gw, bus: b, state: state, errorLog: errorLog, cache: cache}
}

func collectBus(t *testing.T, sub *bus.Subscription, n int) []bus.Command {
	t.Helper()
	out := make([]bus.Command, 0, n)
	timeout := time.After(time.Second)
	for len(out) < n {
		select {
		case cmd := <-sub.C():
			out = append(out, cmd)
		case <-timeout:
			t.Fatalf("timed out waiting for %d bus events, got %d", n, len(out))
		}
	}
	return out
}

const entryReply = `[{"signal":"buy_to_enter","coin":"BTC","quantity":"0.01","leverage":"3","entry_price":"90000.5","profit_target":"90500","stop_loss":"89000"}]`

func TestEntryDecisionEmitsLeverageEntryAndProtectives(t *testing.T) {
	h := newHarness(t, 90010)
	require.NoError(t, h.executor.Execute(context.Background(), entryReply))

	require.Len(t, h.gateway.commands, 4)

	lev := h.gateway.commands[0].SetLeverage
	require.NotNil(t, lev)
	assert.Equal(t, "BTC-USDT-SWAP", lev.InstID)
	assert.Equal(t, 3.0, lev.Lever)
	require.NotNil(t, lev.PosSide)
	assert.Equal(t, model.PosSideLong, *lev.PosSide)

	entry := h.gateway.commands[1].Place
	require.NotNil(t, entry)
	assert.Equal(t, "BTC-USDT-SWAP", entry.InstID)
	assert.Equal(t, model.SideBuy, entry.Side)
	assert.Equal(t, model.OrdTypeMarket, entry.OrdType)
	assert.Equal(t, 90000.5, entry.Price, "mark above entry keeps the decision price")
	assert.Equal(t, 0.01, entry.Size)
	assert.False(t, entry.ReduceOnly)
	assert.Equal(t, TagEntry, entry.Tag)
	assert.Equal(t, model.KindRegular, entry.Kind)

	tp := h.gateway.commands[2].Place
	require.NotNil(t, tp)
	assert.Equal(t, model.KindTakeProfit, tp.Kind)
	assert.Equal(t, model.SideSell, tp.Side)
	assert.Equal(t, 90500.0, tp.Price)
	assert.Equal(t, 0.01, tp.Size)
	assert.True(t, tp.ReduceOnly)
	assert.Equal(t, TagTakeProfit, tp.Tag)
	require.NotNil(t, tp.PosSide)
	assert.Equal(t, model.PosSideLong, *tp.PosSide)

	sl := h.gateway.commands[3].Place
	require.NotNil(t, sl)
	assert.Equal(t, model.KindStopLoss, sl.Kind)
	assert.Equal(t, model.SideSell, sl.Side)
	assert.Equal(t, 89000.0, sl.Price)
	assert.True(t, sl.ReduceOnly)
	assert.Equal(t, TagStopLoss, sl.Tag)

	lever, ok := h.cache.Lookup("BTC-USDT-SWAP", tp.PosSide)
	require.True(t, ok, "alignment records the new leverage")
	assert.Equal(t, 3.0, lever)
}

func TestBuyEntryImprovesOnLowerMarkPrice(t *testing.T) {
	h := newHarness(t, 89990)
	require.NoError(t, h.executor.Execute(context.Background(), entryReply))

	require.Len(t, h.gateway.commands, 4)
	entry := h.gateway.commands[1].Place
	require.NotNil(t, entry)
	assert.Equal(t, 89990.0, entry.Price, "buy takes the cheaper of mark and entry price")
	assert.Equal(t, 90500.0, h.gateway.commands[2].Place.Price)
	assert.Equal(t, 89000.0, h.gateway.commands[3].Place.Price)
}

func TestSellEntryImprovesOnHigherMarkPrice(t *testing.T) {
	h := newHarness(t, 90050)
	reply := `[{"signal":"sell_to_enter","coin":"BTC","quantity":0.02,"entry_price":90000}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))

	require.Len(t, h.gateway.commands, 1)
	entry := h.gateway.commands[0].Place
	require.NotNil(t, entry)
	assert.Equal(t, model.SideSell, entry.Side)
	assert.Equal(t, 90050.0, entry.Price, "sell takes the higher of mark and entry price")
	assert.Nil(t, entry.Leverage, "no leverage alignment without a leverage field")
}

func TestInvalidProtectivePricesWarnButDoNotAbortEntry(t *testing.T) {
	h := newHarness(t, 90010)
	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	reply := `[{"signal":"buy_to_enter","coin":"BTC","quantity":"0.01","entry_price":"90000.5","stop_loss":"90500","profit_target":"89000"}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))

	require.Len(t, h.gateway.commands, 1, "entry only, both protectives skipped")
	require.NotNil(t, h.gateway.commands[0].Place)
	assert.Equal(t, TagEntry, h.gateway.commands[0].Place.Tag)

	events := collectBus(t, sub, 2)
	for _, evt := range events {
		assert.Equal(t, bus.KindError, evt.Kind)
	}
}

func TestCloseDecisionEmitsReduceOnlyMarketOrder(t *testing.T) {
	h := newHarness(t, 90010)
	long := model.PosSideLong
	h.state.snapshot = model.AccountSnapshot{
		Positions: []model.Position{{InstID: "ETH-USDT-SWAP", PosSide: &long, Size: 0.8, AvgPrice: 3400}},
	}
	reply := `[{"signal":"close","coin":"ETH","quantity":0.5}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))

	require.Len(t, h.gateway.commands, 1)
	req := h.gateway.commands[0].Place
	require.NotNil(t, req)
	assert.Equal(t, "ETH-USDT-SWAP", req.InstID)
	assert.Equal(t, model.SideSell, req.Side)
	assert.Equal(t, 0.5, req.Size)
	assert.Equal(t, 3500.0, req.Price)
	assert.True(t, req.ReduceOnly)
	assert.Equal(t, model.OrdTypeMarket, req.OrdType)
	assert.Equal(t, TagClose, req.Tag)
	require.NotNil(t, req.PosSide)
	assert.Equal(t, model.PosSideLong, *req.PosSide)
}

func TestCloseCapsSizeAtPositionAndDerivesSideFromSign(t *testing.T) {
	h := newHarness(t, 90010)
	h.state.snapshot = model.AccountSnapshot{
		Positions: []model.Position{{InstID: "ETH-USDT-SWAP", Size: -0.3}},
	}
	reply := `[{"signal":"close","coin":"ETH","quantity":5}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))

	require.Len(t, h.gateway.commands, 1)
	req := h.gateway.commands[0].Place
	require.NotNil(t, req)
	assert.Equal(t, model.SideBuy, req.Side, "short position closes with a buy")
	assert.Equal(t, 0.3, req.Size, "size caps at the position size")
}

func TestCloseWithoutPositionFails(t *testing.T) {
	h := newHarness(t, 90010)
	err := h.executor.Execute(context.Background(), `[{"signal":"close","coin":"ETH"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open position")
	assert.Empty(t, h.gateway.commands)
}

func TestCancelOrdersPreservesKind(t *testing.T) {
	h := newHarness(t, 90010)
	h.state.snapshot = model.AccountSnapshot{
		OpenOrders: []model.PendingOrderInfo{
			{InstID: "BTC-USDT-SWAP", OrdID: "X1", Kind: model.KindRegular, State: "live"},
			{InstID: "BTC-USDT-SWAP", OrdID: "X2", Kind: model.KindTakeProfit, State: "live"},
			{InstID: "BTC-USDT-SWAP", OrdID: "X3", Kind: model.KindRegular, State: "live"},
		},
	}
	reply := `[{"signal":"cancel_orders","coin":"BTC","cancel_orders":["X1","X2"]}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))

	require.Len(t, h.gateway.commands, 2)
	first := h.gateway.commands[0].Cancel
	require.NotNil(t, first)
	assert.Equal(t, "X1", first.OrdID)
	assert.Equal(t, model.KindRegular, first.Kind)
	second := h.gateway.commands[1].Cancel
	require.NotNil(t, second)
	assert.Equal(t, "X2", second.OrdID)
	assert.Equal(t, model.KindTakeProfit, second.Kind)
}

func TestCancelWithNoMatchesNotifiesAndSucceeds(t *testing.T) {
	h := newHarness(t, 90010)
	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	reply := `[{"signal":"cancel_orders","coin":"BTC","cancel_orders":["ZZZ"]}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))
	assert.Empty(t, h.gateway.commands)

	events := collectBus(t, sub, 1)
	assert.Equal(t, bus.KindNotify, events[0].Kind)
}

func TestCancelWithoutListFails(t *testing.T) {
	h := newHarness(t, 90010)
	err := h.executor.Execute(context.Background(), `[{"signal":"cancel_orders","coin":"BTC"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no order list")
}

func TestHoldAndWaitAreNoOps(t *testing.T) {
	h := newHarness(t, 90010)
	reply := `[{"signal":"hold","coin":"BTC"},{"signal":"wait","coin":"ETH"}]`
	require.NoError(t, h.executor.Execute(context.Background(), reply))
	assert.Empty(t, h.gateway.commands)
}

func TestEntryValidationErrors(t *testing.T) {
	h := newHarness(t, 90010)
	err := h.executor.Execute(context.Background(), `[{"signal":"buy_to_enter","coin":"BTC","quantity":0,"entry_price":90000}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size must be positive")

	err = h.executor.Execute(context.Background(), `[{"signal":"buy_to_enter","coin":"BTC","quantity":1,"entry_price":"0"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price must be positive")

	err = h.executor.Execute(context.Background(), `[{"signal":"buy_to_enter","coin":"DOGE","quantity":1,"entry_price":1}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configured instrument")
	assert.Empty(t, h.gateway.commands)
}

func TestFailedDecisionDoesNotStopLaterOnes(t *testing.T) {
	h := newHarness(t, 90010)
	reply := `[{"signal":"close","coin":"BTC"},{"signal":"buy_to_enter","coin":"BTC","quantity":1,"entry_price":90000}]`
	err := h.executor.Execute(context.Background(), reply)
	require.Error(t, err, "the failed close is still reported")
	require.Len(t, h.gateway.commands, 1, "the entry after the failed close still runs")
	assert.Equal(t, TagEntry, h.gateway.commands[0].Place.Tag)
}

func TestSkippedLeverageAlignmentWhenCacheMatches(t *testing.T) {
	h := newHarness(t, 90010)
	long := model.PosSideLong
	h.cache.Record("BTC-USDT-SWAP", &long, 3)
	require.NoError(t, h.executor.Execute(context.Background(), entryReply))

	require.Len(t, h.gateway.commands, 3, "no SetLeverage when the cache already matches")
	assert.NotNil(t, h.gateway.commands[0].Place)
}

func TestParseFailureIsLoggedWithRawResponse(t *testing.T) {
	h := newHarness(t, 90010)
	raw := "the model refused to answer"
	err := h.executor.Execute(context.Background(), raw)
	require.Error(t, err)
	require.Len(t, h.errorLog.messages, 1)
	assert.Contains(t, h.errorLog.messages[0], raw)
}
