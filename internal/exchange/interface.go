package exchange

import (
	"context"
	"time"
)

// MarketData публичные рыночные данные (без подписи)
//
// Используется фильтрами риска и стратегией: свечи и премиальный индекс.
type MarketData interface {
	// GetKlines свечи в интервале [start, end], limit <= 1500
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]Kline, error)

	// GetPremiumIndex mark/index цена и ставка фандинга
	GetPremiumIndex(ctx context.Context, symbol string) (*PremiumIndex, error)
}

// Exchange торговый интерфейс фьючерсного аккаунта
//
// Все мутирующие вызовы безопасно повторять: ордера несут
// детерминированные client id, а исполнитель проверяет открытые
// условные ордера перед размещением.
type Exchange interface {
	MarketData

	// GetName возвращает имя биржи
	GetName() string

	// GetRules правила инструмента (шаг лота, шаг цены), кэш 4h
	GetRules(ctx context.Context, symbol string) (*SymbolRules, error)

	// GetBalance баланс USDT фьючерсного аккаунта
	GetBalance(ctx context.Context) (*Balance, error)

	// GetPositionAmount фактический объём позиции со знаком (0 = позиции нет)
	GetPositionAmount(ctx context.Context, symbol string) (float64, error)

	// GetPositions все ненулевые позиции аккаунта
	GetPositions(ctx context.Context) ([]PositionRisk, error)

	// SetLeverage устанавливает плечо для символа
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceLimitOrder лимитный GTC ордер
	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*Order, error)

	// PlaceMarketOrder рыночный ордер, reduceOnly только уменьшает позицию
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (*Order, error)

	// QueryOrder статус ордера
	QueryOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)

	// CancelOrder отмена обычного ордера
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// PlaceAlgoOrder условный ордер (TAKE_PROFIT_MARKET / STOP_MARKET)
	PlaceAlgoOrder(ctx context.Context, req AlgoOrderRequest) (*AlgoOrder, error)

	// GetOpenAlgoOrders открытые условные ордера символа
	GetOpenAlgoOrders(ctx context.Context, symbol string) ([]AlgoOrder, error)

	// CancelAlgoOrder отмена условного ордера
	CancelAlgoOrder(ctx context.Context, symbol string, algoID int64) error

	// GetDailyRealizedPnL реализованный PnL с начала UTC дня
	GetDailyRealizedPnL(ctx context.Context, now time.Time) (float64, error)

	// Close закрывает соединения
	Close() error
}

// ListenKeyAPI управление ключом user data stream
type ListenKeyAPI interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepaliveListenKey(ctx context.Context) error
	CloseListenKey(ctx context.Context) error
}

// ============================================================
// Типы данных
// ============================================================

// Kline свеча
//
// TakerBuyVolume - объём агрессивных покупок в базовой валюте.
// Объём продаж = Volume - TakerBuyVolume.
type Kline struct {
	OpenTime       time.Time `json:"open_time"`
	CloseTime      time.Time `json:"close_time"`
	Open           float64   `json:"open"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Close          float64   `json:"close"`
	Volume         float64   `json:"volume"`
	QuoteVolume    float64   `json:"quote_volume"`
	Trades         int64     `json:"trades"`
	TakerBuyVolume float64   `json:"taker_buy_volume"`
}

// BuyVolume объём покупок тейкера
func (k Kline) BuyVolume() float64 {
	return k.TakerBuyVolume
}

// SellVolume объём продаж тейкера
func (k Kline) SellVolume() float64 {
	return k.Volume - k.TakerBuyVolume
}

// PremiumIndex ответ /fapi/v1/premiumIndex
type PremiumIndex struct {
	Symbol          string    `json:"symbol"`
	MarkPrice       float64   `json:"mark_price"`
	IndexPrice      float64   `json:"index_price"`
	LastFundingRate float64   `json:"last_funding_rate"`
	Time            time.Time `json:"time"`
}

// Basis ставка базиса (mark - index) / index, 0 если index неизвестен
func (p PremiumIndex) Basis() float64 {
	if p.IndexPrice <= 0 {
		return 0
	}
	return (p.MarkPrice - p.IndexPrice) / p.IndexPrice
}

// SymbolRules торговые правила инструмента
type SymbolRules struct {
	Symbol      string  `json:"symbol"`
	StepSize    float64 `json:"step_size"`    // шаг объёма (LOT_SIZE)
	TickSize    float64 `json:"tick_size"`    // шаг цены (PRICE_FILTER)
	MinQty      float64 `json:"min_qty"`      // минимальный объём
	MaxQty      float64 `json:"max_qty"`      // максимальный объём
	MinNotional float64 `json:"min_notional"` // минимальная сумма ордера в USDT
}

// Balance баланс USDT
type Balance struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// PositionRisk позиция из /fapi/v2/positionRisk
type PositionRisk struct {
	Symbol        string    `json:"symbol"`
	Amount        float64   `json:"amount"` // > 0 long, < 0 short
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Leverage      int       `json:"leverage"`
	UpdateTime    time.Time `json:"update_time"`
}

// Side направление позиции по знаку объёма
func (p PositionRisk) Side() string {
	if p.Amount < 0 {
		return SideShort
	}
	return SideLong
}

// LimitOrderRequest параметры лимитного ордера
type LimitOrderRequest struct {
	Symbol        string
	Side          string // BUY / SELL
	Quantity      float64
	Price         float64
	ClientOrderID string
}

// Order обычный ордер
type Order struct {
	OrderID       int64     `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Price         float64   `json:"price"`
	AvgPrice      float64   `json:"avg_price"`
	OrigQty       float64   `json:"orig_qty"`
	ExecutedQty   float64   `json:"executed_qty"`
	ReduceOnly    bool      `json:"reduce_only"`
	UpdateTime    time.Time `json:"update_time"`
}

// IsFilled ордер полностью исполнен
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// IsFinal ордер больше не может исполниться
func (o *Order) IsFinal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// AlgoOrderRequest параметры условного ордера
type AlgoOrderRequest struct {
	Symbol       string
	Side         string // BUY / SELL
	Type         string // TAKE_PROFIT_MARKET / STOP_MARKET
	Quantity     float64
	TriggerPrice float64
	ClientAlgoID string
}

// AlgoOrder условный ордер (/fapi/v1/algoOrder)
type AlgoOrder struct {
	AlgoID       int64     `json:"algo_id"`
	ClientAlgoID string    `json:"client_algo_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	TriggerPrice float64   `json:"trigger_price"`
	Quantity     float64   `json:"quantity"`
	ReduceOnly   bool      `json:"reduce_only"`
	CreateTime   time.Time `json:"create_time"`
}

// IsTakeProfit ордер тейк-профита
func (a AlgoOrder) IsTakeProfit() bool {
	return a.Type == AlgoTypeTakeProfit
}

// IsStopLoss ордер стоп-лосса
func (a AlgoOrder) IsStopLoss() bool {
	return a.Type == AlgoTypeStopLoss
}

// ============================================================
// Константы
// ============================================================

// Стороны ордера
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Направления позиции
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Типы ордеров
const (
	OrderTypeLimit     = "LIMIT"
	OrderTypeMarket    = "MARKET"
	AlgoTypeTakeProfit = "TAKE_PROFIT_MARKET"
	AlgoTypeStopLoss   = "STOP_MARKET"
)

// Статусы ордеров
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"
	OrderStatusRejected        = "REJECTED"
)

// OpenSide сторона ордера открытия позиции
func OpenSide(positionSide string) string {
	if positionSide == SideShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide сторона ордера закрытия позиции
func CloseSide(positionSide string) string {
	if positionSide == SideShort {
		return SideBuy
	}
	return SideSell
}

// CloseSideForAmount сторона закрытия по знаку объёма: > 0 long → SELL, < 0 short → BUY
func CloseSideForAmount(amount float64) string {
	if amount < 0 {
		return SideBuy
	}
	return SideSell
}
