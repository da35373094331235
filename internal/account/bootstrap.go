package account

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/model"
	"github.com/okxtrader/agent/internal/okxapi"
)

const (
	positionsEndpoint         = "/api/v5/account/positions"
	balanceEndpoint           = "/api/v5/account/balance"
	ordersPendingEndpoint     = "/api/v5/trade/orders-pending"
	ordersAlgoPendingEndpoint = "/api/v5/trade/orders-algo-pending"
	instrumentsEndpoint       = "/api/v5/account/instruments"
	leverageInfoEndpoint      = "/api/v5/account/leverage-info"
)

// FetchAccountSnapshot bootstraps the merged account state over REST before
// the WebSocket streams take over: positions, pending regular and algo
// orders per instrument, and balances, sorted the way Snapshot sorts.
func FetchAccountSnapshot(ctx context.Context, client *okxapi.Client, instIDs []string) (model.AccountSnapshot, error) {
	unique := uniqueInstIDs(instIDs)

	positions, err := fetchPositions(ctx, client, unique)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	orders, err := fetchPendingOrders(ctx, client, unique)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	algoOrders, err := fetchPendingAlgoOrders(ctx, client, unique)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	orders = append(orders, algoOrders...)
	balance, err := fetchBalances(ctx, client)
	if err != nil {
		return model.AccountSnapshot{}, err
	}

	sort.Slice(positions, func(i, j int) bool {
		return lessByCreateTimeThenKey(positions[i].CreateTime, positions[j].CreateTime,
			positions[i].InstID, positions[j].InstID,
			posSideStr(positions[i].PosSide), posSideStr(positions[j].PosSide))
	})
	sort.Slice(orders, func(i, j int) bool {
		return lessByCreateTimeThenKey(orders[i].CreateTime, orders[j].CreateTime,
			orders[i].InstID, orders[j].InstID, orders[i].OrdID, orders[j].OrdID)
	})
	return model.AccountSnapshot{Positions: positions, OpenOrders: orders, Balance: balance}, nil
}

func fetchPositions(ctx context.Context, client *okxapi.Client, instIDs []string) ([]model.Position, error) {
	env, err := okxapi.SignedGet[wsPositionEntry](ctx, client, positionsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("account: fetch positions: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("account: positions failed (code %s): %s", env.Code, env.Msg)
	}
	filter := instFilter(instIDs)
	var positions []model.Position
	for _, e := range env.Data {
		if filter != nil {
			if _, ok := filter[model.NormalizeInstID(e.InstID)]; !ok {
				continue
			}
		}
		size, _ := model.ParseFloatStr(e.Pos)
		if size == 0 {
			continue
		}
		avgPx, _ := model.ParseFloatStr(e.AvgPx)
		upl, _ := model.ParseFloatStr(e.Upl)
		uplRatio, _ := model.ParseFloatStr(e.UplRatio)
		imr, _ := model.ParseFloatStr(e.Imr)
		positions = append(positions, model.Position{
			InstID: model.NormalizeInstID(e.InstID), PosSide: optionalPosSide(e.PosSide),
			Size: size, AvgPrice: avgPx, Leverage: optionalFloat(e.Lever),
			UPL: upl, UPLRatio: uplRatio, IMR: imr, CreateTime: optionalInt(e.CTime),
		})
	}
	return positions, nil
}

func fetchPendingOrders(ctx context.Context, client *okxapi.Client, instIDs []string) ([]model.PendingOrderInfo, error) {
	var orders []model.PendingOrderInfo
	for _, instID := range instIDs {
		env, err := okxapi.SignedGet[wsOrderEntry](ctx, client, ordersPendingEndpoint, url.Values{"instId": {instID}})
		if err != nil {
			return nil, fmt.Errorf("account: fetch pending orders for %s: %w", instID, err)
		}
		if env.Code != "0" {
			return nil, fmt.Errorf("account: pending orders for %s failed (code %s): %s", instID, env.Code, env.Msg)
		}
		for _, e := range env.Data {
			size, _ := model.ParseFloatStr(e.Sz)
			orders = append(orders, model.PendingOrderInfo{
				InstID: model.NormalizeInstID(e.InstID), OrdID: e.OrdID,
				Side: model.TradeSide(strings.ToLower(e.Side)), PosSide: optionalPosSide(e.PosSide),
				Price: optionalFloat(e.Px), Size: size, State: e.State,
				ReduceOnly: parseBoolFlag(e.ReduceOnly), Tag: e.Tag, Leverage: optionalFloat(e.Lever),
				Kind: model.KindRegular, CreateTime: optionalInt(e.CTime),
			})
		}
	}
	return orders, nil
}

func fetchPendingAlgoOrders(ctx context.Context, client *okxapi.Client, instIDs []string) ([]model.PendingOrderInfo, error) {
	var orders []model.PendingOrderInfo
	for _, instID := range instIDs {
		query := url.Values{"instId": {instID}, "ordType": {"conditional"}}
		if instType := instTypeOf(instID); instType != "" {
			query.Set("instType", instType)
		}
		env, err := okxapi.SignedGet[wsAlgoOrderEntry](ctx, client, ordersAlgoPendingEndpoint, query)
		if err != nil {
			return nil, fmt.Errorf("account: fetch pending algo orders for %s: %w", instID, err)
		}
		if env.Code != "0" {
			return nil, fmt.Errorf("account: pending algo orders for %s failed (code %s): %s", instID, env.Code, env.Msg)
		}
		for _, e := range env.Data {
			if !model.IsOrderActive(e.State) {
				continue
			}
			size, _ := model.ParseFloatStr(e.Sz)
			orders = append(orders, model.PendingOrderInfo{
				InstID: model.NormalizeInstID(e.InstID), OrdID: e.AlgoID,
				Side: model.TradeSide(strings.ToLower(e.Side)), PosSide: optionalPosSide(e.PosSide),
				Price:        firstNonEmptyFloat(e.TpOrdPx, e.SlOrdPx, e.OrderPx),
				TriggerPrice: firstNonEmptyFloat(e.TpTriggerPx, e.SlTriggerPx, e.TriggerPx),
				Size:         size, State: e.State,
				ReduceOnly: parseBoolFlag(e.ReduceOnly), Tag: e.Tag, Leverage: optionalFloat(e.Lever),
				Kind: determineKind(e.TpTriggerPx, e.SlTriggerPx), CreateTime: optionalInt(e.CTime),
			})
		}
	}
	return orders, nil
}

func fetchBalances(ctx context.Context, client *okxapi.Client) (model.AccountBalance, error) {
	env, err := okxapi.SignedGet[wsAccountEntry](ctx, client, balanceEndpoint, nil)
	if err != nil {
		return model.AccountBalance{}, fmt.Errorf("account: fetch balances: %w", err)
	}
	if env.Code != "0" {
		return model.AccountBalance{}, fmt.Errorf("account: balances failed (code %s): %s", env.Code, env.Msg)
	}
	var totalEq float64
	if len(env.Data) > 0 {
		if v, ok := model.ParseFloatStr(env.Data[0].TotalEq); ok {
			totalEq = v
		}
	}
	var details []balanceDetail
	for _, e := range env.Data {
		details = append(details, e.Details...)
	}
	return model.AccountBalance{TotalEquity: totalEq, Details: aggregateBalanceDetails(details)}, nil
}

// FetchMarketInfo fetches instrument metadata and the account's current
// leverage per instrument, used to seed the leverage cache at startup.
func FetchMarketInfo(ctx context.Context, client *okxapi.Client, mgnMode string, instIDs []string) (map[string]model.MarketInfo, error) {
	markets := make(map[string]model.MarketInfo)
	for _, instID := range instIDs {
		env, err := okxapi.SignedGet[struct {
			InstID   string `json:"instId"`
			InstType string `json:"instType"`
			CtVal    string `json:"ctVal"`
		}](ctx, client, instrumentsEndpoint, url.Values{"instId": {instID}, "instType": {"SWAP"}})
		if err != nil {
			return nil, fmt.Errorf("account: fetch instruments for %s: %w", instID, err)
		}
		if env.Code != "0" {
			return nil, fmt.Errorf("account: instruments for %s failed (code %s): %s", instID, env.Code, env.Msg)
		}
		for _, e := range env.Data {
			markets[e.InstID] = model.MarketInfo{InstID: e.InstID, InstType: e.InstType, Leverage: 1}
		}
	}
	if len(instIDs) == 0 {
		return markets, nil
	}

	env, err := okxapi.SignedGet[struct {
		InstID string `json:"instId"`
		Lever  string `json:"lever"`
	}](ctx, client, leverageInfoEndpoint, url.Values{
		"mgnMode": {mgnMode},
		"instId":  {strings.Join(instIDs, ",")},
	})
	if err != nil {
		return nil, fmt.Errorf("account: fetch leverage info: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("account: leverage info failed (code %s): %s", env.Code, env.Msg)
	}
	for _, e := range env.Data {
		lever, ok := model.ParseFloatStr(e.Lever)
		if !ok {
			continue
		}
		if market, exists := markets[e.InstID]; exists {
			market.Leverage = lever
			markets[e.InstID] = market
		} else {
			log.Debug().Str("instId", e.InstID).Msg("leverage info for unrequested instrument, keeping anyway")
			markets[e.InstID] = model.MarketInfo{InstID: e.InstID, Leverage: lever}
		}
	}
	return markets, nil
}

func instTypeOf(instID string) string {
	upper := model.NormalizeInstID(instID)
	switch {
	case strings.HasSuffix(upper, "-SWAP"):
		return "SWAP"
	case strings.HasSuffix(upper, "-FUTURES"):
		return "FUTURES"
	default:
		return ""
	}
}

func uniqueInstIDs(instIDs []string) []string {
	seen := make(map[string]struct{}, len(instIDs))
	out := make([]string, 0, len(instIDs))
	for _, inst := range instIDs {
		key := model.NormalizeInstID(inst)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, inst)
	}
	return out
}

func instFilter(instIDs []string) map[string]struct{} {
	if len(instIDs) == 0 {
		return nil
	}
	filter := make(map[string]struct{}, len(instIDs))
	for _, inst := range instIDs {
		filter[model.NormalizeInstID(inst)] = struct{}{}
	}
	return filter
}
