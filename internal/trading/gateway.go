// Package trading implements the trading gateway: a single consumer that
// drains the bounded TradingCommand queue, executes each command against
// OKX's signed trade endpoints, canonicalizes the heterogeneous replies into
// uniform outcomes and re-emits them on the command bus. The gateway holds
// no position state of its own; the account aggregator is the only owner of
// retained state.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/model"
	"github.com/okxtrader/agent/internal/okxapi"
)

const (
	tradeOrderEndpoint      = "/api/v5/trade/order"
	tradeOrderAlgoEndpoint  = "/api/v5/trade/order-algo"
	cancelOrderEndpoint     = "/api/v5/trade/cancel-order"
	cancelAlgoOrderEndpoint = "/api/v5/trade/cancel-algos"
	setLeverageEndpoint     = "/api/v5/account/set-leverage"

	queueCapacity = 64
	submitTimeout = 5 * time.Second
)

// ErrQueueFull is returned by Submit when the command queue stays full past
// the submit timeout. Callers treat it as a failed decision step.
var ErrQueueFull = errors.New("trading: command queue full")

// Gateway executes trading commands against OKX.
type Gateway struct {
	client *okxapi.Client
	tdMode string
	bus    *bus.Bus
	queue  chan model.TradingCommand
}

func NewGateway(client *okxapi.Client, tdMode string, b *bus.Bus) *Gateway {
	return &Gateway{
		client: client,
		tdMode: tdMode,
		bus:    b,
		queue:  make(chan model.TradingCommand, queueCapacity),
	}
}

// Submit enqueues a command for the consumer loop. It blocks while the queue
// is full, up to the submit timeout, then fails with ErrQueueFull.
func (g *Gateway) Submit(ctx context.Context, cmd model.TradingCommand) error {
	timer := time.NewTimer(submitTimeout)
	defer timer.Stop()
	select {
	case g.queue <- cmd:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. Every outcome is broadcast:
// places and cancels as TradeResult, leverage adjustments as Notify on
// success and Error on failure.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-g.queue:
			g.handle(ctx, cmd)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, cmd model.TradingCommand) {
	switch {
	case cmd.Place != nil:
		g.handlePlace(ctx, cmd.Place)
	case cmd.Cancel != nil:
		g.handleCancel(ctx, cmd.Cancel)
	case cmd.SetLeverage != nil:
		g.handleSetLeverage(ctx, cmd.SetLeverage)
	}
}

func (g *Gateway) handlePlace(ctx context.Context, request *model.TradeRequest) {
	response, err := g.placeOrder(ctx, request)
	if err != nil {
		response = model.TradeResponse{
			InstID: request.InstID, Side: request.Side, Price: request.Price, Size: request.Size,
			Message: fmt.Sprintf("OKX order failed: %v", err), Success: false,
			Operator: request.Operator, PosSide: request.PosSide, Leverage: request.Leverage,
		}
	}
	if !response.Success {
		g.bus.Send(bus.ErrorMsg(fmt.Sprintf("%s %s order failed: %s", response.InstID, response.Side, response.Message)))
	}
	resp := response
	g.bus.Send(bus.TradeResult(model.TradeEvent{Order: &resp}))
}

func (g *Gateway) placeOrder(ctx context.Context, request *model.TradeRequest) (model.TradeResponse, error) {
	switch request.Kind {
	case model.KindTakeProfit, model.KindStopLoss:
		return g.placeAlgoOrder(ctx, request)
	default:
		return g.placeRegularOrder(ctx, request)
	}
}

func (g *Gateway) placeRegularOrder(ctx context.Context, request *model.TradeRequest) (model.TradeResponse, error) {
	payload := newTradeOrderPayload(request, g.tdMode)
	env, err := okxapi.SignedPost[orderResultEntry](ctx, g.client, tradeOrderEndpoint, payload)
	if err != nil {
		return model.TradeResponse{}, err
	}
	log.Debug().Str("instId", request.InstID).Str("side", string(request.Side)).Str("code", env.Code).Msg("order submitted")
	return buildOrderResponse(request, env, false), nil
}

func (g *Gateway) placeAlgoOrder(ctx context.Context, request *model.TradeRequest) (model.TradeResponse, error) {
	payload := newAlgoOrderPayload(request, g.tdMode)
	env, err := okxapi.SignedPost[orderResultEntry](ctx, g.client, tradeOrderAlgoEndpoint, payload)
	if err != nil {
		return model.TradeResponse{}, err
	}
	log.Debug().Str("instId", request.InstID).Str("kind", string(request.Kind)).Str("code", env.Code).Msg("algo order submitted")
	return buildOrderResponse(request, env, true), nil
}

func (g *Gateway) handleCancel(ctx context.Context, request *model.CancelOrderRequest) {
	response, err := g.cancelOrder(ctx, request)
	if err != nil {
		response = model.CancelResponse{
			InstID: request.InstID, OrdID: request.OrdID,
			Message: fmt.Sprintf("OKX cancel failed: %v", err), Success: false,
			Operator: request.Operator, PosSide: request.PosSide,
		}
	}
	if !response.Success {
		g.bus.Send(bus.ErrorMsg(fmt.Sprintf("%s cancel failed: %s", response.InstID, response.Message)))
	}
	resp := response
	g.bus.Send(bus.TradeResult(model.TradeEvent{Cancel: &resp}))
}

func (g *Gateway) cancelOrder(ctx context.Context, request *model.CancelOrderRequest) (model.CancelResponse, error) {
	switch request.Kind {
	case model.KindTakeProfit, model.KindStopLoss:
		payload := []cancelAlgoPayloadEntry{{AlgoID: request.OrdID, InstID: request.InstID}}
		env, err := okxapi.SignedPost[cancelResultEntry](ctx, g.client, cancelAlgoOrderEndpoint, payload)
		if err != nil {
			return model.CancelResponse{}, err
		}
		return buildCancelResponse(request, env, true), nil
	default:
		payload := cancelOrderPayload{InstID: request.InstID, OrdID: request.OrdID}
		env, err := okxapi.SignedPost[cancelResultEntry](ctx, g.client, cancelOrderEndpoint, payload)
		if err != nil {
			return model.CancelResponse{}, err
		}
		return buildCancelResponse(request, env, false), nil
	}
}

func (g *Gateway) handleSetLeverage(ctx context.Context, request *model.SetLeverageRequest) {
	if err := g.setLeverage(ctx, request); err != nil {
		g.bus.Send(bus.ErrorMsg(fmt.Sprintf("leverage adjustment failed: %v", err)))
		return
	}
	g.bus.Send(bus.Notify(request.InstID, fmt.Sprintf("leverage adjusted to %sx", okxapi.FormatLeverage(request.Lever))))
}

func (g *Gateway) setLeverage(ctx context.Context, request *model.SetLeverageRequest) error {
	payload := setLeveragePayload{
		InstID:  request.InstID,
		Lever:   okxapi.FormatLeverage(request.Lever),
		MgnMode: g.tdMode,
	}
	if request.PosSide != nil {
		side := string(*request.PosSide)
		payload.PosSide = &side
	}
	env, err := okxapi.SignedPost[struct{}](ctx, g.client, setLeverageEndpoint, payload)
	if err != nil {
		return err
	}
	if env.Code != "0" {
		if env.Msg == "" {
			return fmt.Errorf("trading: set leverage rejected (code %s)", env.Code)
		}
		return errors.New(env.Msg)
	}
	return nil
}
