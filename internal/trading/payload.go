package trading

import (
	"fmt"

	"github.com/okxtrader/agent/internal/model"
	"github.com/okxtrader/agent/internal/okxapi"
)

// tradeOrderPayload is the wire shape of POST /trade/order.
type tradeOrderPayload struct {
	InstID     string  `json:"instId"`
	TdMode     string  `json:"tdMode"`
	Side       string  `json:"side"`
	OrdType    string  `json:"ordType"`
	Sz         string  `json:"sz"`
	Px         string  `json:"px"`
	PosSide    *string `json:"posSide,omitempty"`
	ReduceOnly *bool   `json:"reduceOnly,omitempty"`
	Tag        *string `json:"tag,omitempty"`
}

func newTradeOrderPayload(request *model.TradeRequest, tdMode string) tradeOrderPayload {
	payload := tradeOrderPayload{
		InstID:  request.InstID,
		TdMode:  tdMode,
		Side:    request.Side.OKXSide(),
		OrdType: string(orderTypeOf(request)),
		Sz:      okxapi.FormatFloat(request.Size),
		Px:      okxapi.FormatFloat(request.Price),
		PosSide: effectivePosSide(request),
	}
	if request.ReduceOnly {
		t := true
		payload.ReduceOnly = &t
	}
	if tag, ok := okxapi.SanitizeTag(request.Tag); ok {
		payload.Tag = &tag
	}
	return payload
}

func orderTypeOf(request *model.TradeRequest) model.TradeOrderType {
	if request.OrdType != "" {
		return request.OrdType
	}
	return model.OrdTypeLimit
}

// algoOrderPayload is the wire shape of POST /trade/order-algo with
// ordType=conditional. The request price populates the TP or SL trigger and
// order price pair depending on the request kind.
type algoOrderPayload struct {
	InstID      string  `json:"instId"`
	TdMode      string  `json:"tdMode"`
	Side        string  `json:"side"`
	OrdType     string  `json:"ordType"`
	Sz          string  `json:"sz"`
	PosSide     *string `json:"posSide,omitempty"`
	ReduceOnly  *bool   `json:"reduceOnly,omitempty"`
	TpTriggerPx *string `json:"tpTriggerPx,omitempty"`
	TpOrdPx     *string `json:"tpOrdPx,omitempty"`
	SlTriggerPx *string `json:"slTriggerPx,omitempty"`
	SlOrdPx     *string `json:"slOrdPx,omitempty"`
	Tag         *string `json:"tag,omitempty"`
}

func newAlgoOrderPayload(request *model.TradeRequest, tdMode string) algoOrderPayload {
	payload := algoOrderPayload{
		InstID:  request.InstID,
		TdMode:  tdMode,
		Side:    request.Side.OKXSide(),
		OrdType: "conditional",
		Sz:      okxapi.FormatFloat(request.Size),
		PosSide: effectivePosSide(request),
	}
	price := okxapi.FormatFloat(request.Price)
	switch request.Kind {
	case model.KindTakeProfit:
		payload.TpTriggerPx = &price
		payload.TpOrdPx = &price
	case model.KindStopLoss:
		payload.SlTriggerPx = &price
		payload.SlOrdPx = &price
	}
	if request.ReduceOnly {
		t := true
		payload.ReduceOnly = &t
	}
	if tag, ok := okxapi.SanitizeTag(request.Tag); ok {
		payload.Tag = &tag
	}
	return payload
}

// effectivePosSide returns the request's position side, inferring long/short
// from the trade side for swap/futures instruments when absent.
func effectivePosSide(request *model.TradeRequest) *string {
	ps := request.PosSide
	if ps == nil {
		ps = model.InferPosSide(request.InstID, request.Side)
	}
	if ps == nil {
		return nil
	}
	side := string(*ps)
	return &side
}

type cancelOrderPayload struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

type cancelAlgoPayloadEntry struct {
	AlgoID string `json:"algoId"`
	InstID string `json:"instId"`
}

type setLeveragePayload struct {
	InstID  string  `json:"instId"`
	Lever   string  `json:"lever"`
	MgnMode string  `json:"mgnMode"`
	PosSide *string `json:"posSide,omitempty"`
}

// orderResultEntry is a data entry in the reply to /trade/order and
// /trade/order-algo; exactly one of OrdID/AlgoID is populated depending on
// the endpoint.
type orderResultEntry struct {
	OrdID  string `json:"ordId"`
	AlgoID string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

type cancelResultEntry struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
	AlgoID string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

// buildOrderResponse canonicalizes a place reply: success requires the
// top-level code and every per-entry sCode to be "0"; the first entry's id
// is carried as the order id; the failure message is the first non-empty
// per-entry error text, falling back to the top-level message, falling back
// to a generic line.
func buildOrderResponse(request *model.TradeRequest, env *okxapi.Envelope[orderResultEntry], algo bool) model.TradeResponse {
	success := env.Code == "0"
	message := env.Msg
	var orderID string
	entryMessage := false
	for _, entry := range env.Data {
		id := entry.OrdID
		if algo {
			id = entry.AlgoID
		}
		if orderID == "" {
			orderID = id
		}
		if entry.SCode != "0" {
			success = false
			if entry.SMsg != "" && !entryMessage {
				message = entry.SMsg
				entryMessage = true
			}
		}
	}
	if success {
		label := "order"
		if algo {
			switch request.Kind {
			case model.KindTakeProfit:
				label = "take-profit order"
			case model.KindStopLoss:
				label = "stop-loss order"
			default:
				label = "algo order"
			}
		}
		message = fmt.Sprintf("OKX accepted %s %s %s %s %.4f @ %.4f",
			label, orderID, request.InstID, request.Side, request.Size, request.Price)
	} else if message == "" {
		message = "OKX order rejected"
	}
	return model.TradeResponse{
		InstID: request.InstID, Side: request.Side, Price: request.Price, Size: request.Size,
		OrderID: orderID, Message: message, Success: success,
		Operator: request.Operator, PosSide: request.PosSide, Leverage: request.Leverage,
	}
}

// buildCancelResponse canonicalizes a cancel reply under the same rule as
// buildOrderResponse.
func buildCancelResponse(request *model.CancelOrderRequest, env *okxapi.Envelope[cancelResultEntry], algo bool) model.CancelResponse {
	success := env.Code == "0"
	message := env.Msg
	ordID := request.OrdID
	instID := request.InstID
	entryMessage := false
	for _, entry := range env.Data {
		if entry.InstID != "" {
			instID = entry.InstID
		}
		id := entry.OrdID
		if algo {
			id = entry.AlgoID
		}
		if id != "" {
			ordID = id
		}
		if entry.SCode != "0" {
			success = false
			if entry.SMsg != "" && !entryMessage {
				message = entry.SMsg
				entryMessage = true
			}
		}
	}
	if success {
		message = fmt.Sprintf("OKX cancelled order %s", ordID)
	} else if message == "" {
		message = fmt.Sprintf("OKX cancel rejected for %s", ordID)
	}
	return model.CancelResponse{
		InstID: instID, OrdID: ordID, Message: message, Success: success,
		Operator: request.Operator, PosSide: request.PosSide,
	}
}
