package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"surgetrader/pkg/utils"
)

// orderResponse ответ /fapi/v1/order
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

func (r orderResponse) toOrder() *Order {
	return &Order{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		Status:        r.Status,
		Price:         parseFloat(r.Price),
		AvgPrice:      parseFloat(r.AvgPrice),
		OrigQty:       parseFloat(r.OrigQty),
		ExecutedQty:   parseFloat(r.ExecutedQty),
		ReduceOnly:    r.ReduceOnly,
		UpdateTime:    fromMillis(r.UpdateTime),
	}
}

// algoResponse ответ /fapi/v1/algoOrder
type algoResponse struct {
	AlgoID       int64  `json:"algoId"`
	ClientAlgoID string `json:"clientAlgoId"`
	OrderType    string `json:"orderType"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	AlgoStatus   string `json:"algoStatus"`
	TriggerPrice string `json:"triggerPrice"`
	Quantity     string `json:"quantity"`
	ReduceOnly   bool   `json:"reduceOnly"`
	CreateTime   int64  `json:"createTime"`
}

func (r algoResponse) toAlgoOrder() AlgoOrder {
	return AlgoOrder{
		AlgoID:       r.AlgoID,
		ClientAlgoID: r.ClientAlgoID,
		Symbol:       r.Symbol,
		Side:         r.Side,
		Type:         r.OrderType,
		Status:       r.AlgoStatus,
		TriggerPrice: parseFloat(r.TriggerPrice),
		Quantity:     parseFloat(r.Quantity),
		ReduceOnly:   r.ReduceOnly,
		CreateTime:   fromMillis(r.CreateTime),
	}
}

// rulesFor правила для округления параметров ордера
func (c *BinanceClient) rulesFor(ctx context.Context, symbol string) (*SymbolRules, error) {
	rules, err := c.rules.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", symbol, err)
	}
	return rules, nil
}

// PlaceLimitOrder лимитный GTC ордер
func (c *BinanceClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*Order, error) {
	symbol := utils.NormalizeSymbol(req.Symbol)
	rules, err := c.rulesFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", req.Side)
	params.Set("positionSide", "BOTH")
	params.Set("type", OrderTypeLimit)
	params.Set("timeInForce", "GTC")
	params.Set("quantity", rules.FormatQty(req.Quantity))
	params.Set("price", rules.FormatPrice(req.Price))
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	order, err := c.placeOrder(ctx, params, c.do)
	if err == nil || req.ClientOrderID == "" {
		return order, err
	}
	if APICode(err) != CodeDuplicateClientOrderID && !IsNetworkError(err) {
		return nil, err
	}

	// Первая попытка могла дойти до биржи: ордер ищется по clientOrderId
	adopted, lookupErr := c.QueryOrderByClientID(ctx, symbol, req.ClientOrderID)
	if lookupErr != nil {
		if IsOrderNotFound(lookupErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w (lookup by client id: %v)", err, lookupErr)
	}
	c.log.Warn("limit order adopted after ambiguous placement",
		utils.Symbol(symbol),
		utils.OrderID(adopted.OrderID),
		utils.String("client_order_id", req.ClientOrderID),
		utils.String("status", adopted.Status),
		utils.Err(err))
	return adopted, nil
}

// PlaceMarketOrder рыночный ордер
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (*Order, error) {
	symbol = utils.NormalizeSymbol(symbol)
	rules, err := c.rulesFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("positionSide", "BOTH")
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", rules.FormatQty(qty))
	if reduceOnly {
		params.Set("reduceOnly", "true")
		return c.placeOrder(ctx, params, c.do)
	}

	// Повтор обычного MARKET после неизвестного исхода может открыть
	// обратную позицию: одна попытка, решение за вызывающим
	return c.placeOrder(ctx, params, c.doOnce)
}

type doFunc func(ctx context.Context, method, endpoint string, params url.Values, auth authLevel, weight int) ([]byte, error)

func (c *BinanceClient) placeOrder(ctx context.Context, params url.Values, do doFunc) (*Order, error) {
	body, err := do(ctx, http.MethodPost, "/fapi/v1/order", params, authSigned, 1)
	if err != nil {
		return nil, fmt.Errorf("place %s order %s: %w", params.Get("type"), params.Get("symbol"), err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	c.log.Info("order placed",
		utils.Symbol(resp.Symbol),
		utils.OrderID(resp.OrderID),
		utils.String("type", resp.Type),
		utils.String("side", resp.Side),
		utils.String("status", resp.Status))
	return resp.toOrder(), nil
}

// QueryOrder статус ордера
func (c *BinanceClient) QueryOrder(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/order", params, authSigned, 1)
	if err != nil {
		return nil, fmt.Errorf("query order %d: %w", orderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(), nil
}

// QueryOrderByClientID статус ордера по origClientOrderId
func (c *BinanceClient) QueryOrderByClientID(ctx context.Context, symbol, clientID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))
	params.Set("origClientOrderId", clientID)

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/order", params, authSigned, 1)
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", clientID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(), nil
}

// CancelOrder отмена обычного ордера
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	if _, err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, authSigned, 1); err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return nil
}

// ============================================================
// Условные ордера
// ============================================================

// PlaceAlgoOrder условный reduce-only ордер
//
// Триггер по CONTRACT_PRICE с priceProtect: срабатывание по last price
// защищено от резкого расхождения с mark price.
func (c *BinanceClient) PlaceAlgoOrder(ctx context.Context, req AlgoOrderRequest) (*AlgoOrder, error) {
	symbol := utils.NormalizeSymbol(req.Symbol)
	rules, err := c.rulesFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("algoType", "CONDITIONAL")
	params.Set("symbol", symbol)
	params.Set("side", req.Side)
	params.Set("positionSide", "BOTH")
	params.Set("type", req.Type)
	params.Set("quantity", rules.FormatQty(req.Quantity))
	params.Set("triggerPrice", rules.FormatPrice(req.TriggerPrice))
	params.Set("reduceOnly", "true")
	params.Set("priceProtect", "TRUE")
	params.Set("workingType", "CONTRACT_PRICE")
	if req.ClientAlgoID != "" {
		params.Set("clientAlgoId", req.ClientAlgoID)
	}

	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/algoOrder", params, authSigned, 1)
	if err != nil {
		return nil, fmt.Errorf("place %s %s: %w", req.Type, symbol, err)
	}

	var resp algoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode algo order: %w", err)
	}
	order := resp.toAlgoOrder()
	if order.Type == "" {
		order.Type = req.Type
	}

	c.log.Info("conditional order placed",
		utils.Symbol(symbol),
		utils.AlgoID(order.AlgoID),
		utils.ClientID(order.ClientAlgoID),
		utils.String("type", order.Type),
		utils.Price(order.TriggerPrice))
	return &order, nil
}

// GetOpenAlgoOrders открытые условные ордера, от старых к новым
//
// Биржа отдаёт либо {"orders":[...]}, либо массив.
func (c *BinanceClient) GetOpenAlgoOrders(ctx context.Context, symbol string) ([]AlgoOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", utils.NormalizeSymbol(symbol))
	}

	weight := 1
	if symbol == "" {
		weight = 40
	}
	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/openAlgoOrders", params, authSigned, weight)
	if err != nil {
		return nil, fmt.Errorf("open algo orders %s: %w", symbol, err)
	}

	var raw []algoResponse
	var wrapped struct {
		Orders []algoResponse `json:"orders"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Orders != nil {
		raw = wrapped.Orders
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open algo orders: %w", err)
	}

	orders := make([]AlgoOrder, 0, len(raw))
	for _, r := range raw {
		orders = append(orders, r.toAlgoOrder())
	}
	SortAlgoOrders(orders)
	return orders, nil
}

// CancelAlgoOrder отмена условного ордера
func (c *BinanceClient) CancelAlgoOrder(ctx context.Context, symbol string, algoID int64) error {
	params := url.Values{}
	params.Set("symbol", utils.NormalizeSymbol(symbol))
	params.Set("algoId", strconv.FormatInt(algoID, 10))

	if _, err := c.do(ctx, http.MethodDelete, "/fapi/v1/algoOrder", params, authSigned, 1); err != nil {
		return fmt.Errorf("cancel algo order %d: %w", algoID, err)
	}
	return nil
}

// SortAlgoOrders сортирует от старых к новым (createTime, затем algoId)
func SortAlgoOrders(orders []AlgoOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreateTime.Equal(orders[j].CreateTime) {
			return orders[i].CreateTime.Before(orders[j].CreateTime)
		}
		return orders[i].AlgoID < orders[j].AlgoID
	})
}
