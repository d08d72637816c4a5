package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/internal/models"
	"surgetrader/internal/strategy"
	"surgetrader/pkg/utils"
)

// ExecutorConfig параметры размера и цены входа
type ExecutorConfig struct {
	Leverage        int
	FixedMarginUSDT float64 // > 0: фиксированная маржа
	PositionSizePct float64 // доля доступного баланса, если фиксированная маржа не задана
	EntryPremiumPct float64 // отступ лимитной цены от цены сигнала, %
	SizingBuffer    float64 // запас на комиссию и проскальзывание
}

// DefaultExecutorConfig значения по умолчанию
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Leverage:        3,
		FixedMarginUSDT: 5,
		PositionSizePct: 0.015,
		EntryPremiumPct: 0.5,
		SizingBuffer:    1.005,
	}
}

// OrderExecutor выставляет entry и защитные ордера
//
// Все операции повторяемы: перед выставлением защиты проверяются
// открытые условные ордера символа, найденные совпадения принимаются
// вместо создания дубликатов.
type OrderExecutor struct {
	ex       exchange.Exchange
	cfg      ExecutorConfig
	notifier Notifier
	log      *utils.Logger
	now      func() time.Time
}

// NewOrderExecutor создаёт исполнитель
func NewOrderExecutor(ex exchange.Exchange, cfg ExecutorConfig, notifier Notifier, logger *utils.Logger) *OrderExecutor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = utils.L()
	}
	if cfg.SizingBuffer <= 0 {
		cfg.SizingBuffer = 1
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &OrderExecutor{
		ex:       ex,
		cfg:      cfg,
		notifier: notifier,
		log:      logger.WithComponent("executor"),
		now:      time.Now,
	}
}

// EntryLimitPrice лимитная цена входа: SHORT выше цены сигнала, LONG ниже
func EntryLimitPrice(side string, signalPrice, premiumPct float64) float64 {
	if side == exchange.SideShort {
		return utils.OffsetPrice(signalPrice, premiumPct)
	}
	return utils.OffsetPrice(signalPrice, -premiumPct)
}

// margin маржа на позицию в USDT
func (e *OrderExecutor) margin(ctx context.Context) (float64, error) {
	if e.cfg.FixedMarginUSDT > 0 {
		return e.cfg.FixedMarginUSDT, nil
	}
	bal, err := e.ex.GetBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance for sizing: %w", err)
	}
	return bal.Available * e.cfg.PositionSizePct, nil
}

// PositionSize объём позиции: margin × leverage / (price × buffer), вниз к шагу
func (e *OrderExecutor) PositionSize(ctx context.Context, rules *exchange.SymbolRules, price float64) (float64, error) {
	margin, err := e.margin(ctx)
	if err != nil {
		return 0, err
	}
	qty := utils.PositionQty(margin, e.cfg.Leverage, price, e.cfg.SizingBuffer, rules.StepSize)
	if !rules.ValidQty(qty, price) {
		return 0, fmt.Errorf("%w: %s qty %v (min %v, margin %.2f)",
			ErrQuantityTooSmall, rules.Symbol, qty, rules.MinQty, margin)
	}
	return qty, nil
}

// clientPrefix префикс client id позиции, уникален в пределах аккаунта
func clientPrefix(at time.Time) string {
	return "st" + strconv.FormatInt(at.UnixMilli(), 36)
}

// OpenPosition выставляет лимитный entry ордер и возвращает Pending позицию
func (e *OrderExecutor) OpenPosition(ctx context.Context, signal models.Signal, d strategy.EntryDecision) (*models.TrackedPosition, error) {
	symbol := utils.NormalizeSymbol(signal.Symbol)

	rules, err := e.ex.GetRules(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", symbol, err)
	}

	limit := rules.RoundPrice(EntryLimitPrice(d.Side, signal.Price, e.cfg.EntryPremiumPct))
	qty, err := e.PositionSize(ctx, rules, signal.Price)
	if err != nil {
		return nil, err
	}

	now := e.now()
	pos := &models.TrackedPosition{
		Symbol:       symbol,
		Side:         d.Side,
		ClientPrefix: clientPrefix(now),
		Quantity:     qty,
		Leverage:     e.cfg.Leverage,
		LimitPrice:   limit,
		SignalPrice:  signal.Price,
		SignalRatio:  signal.Ratio,
		SignalTime:   signal.Timestamp,
		CurrentTPPct: d.TPPct,
		SLPct:        d.SLPct,
		Strength:     models.StrengthUnknown,
		State:        models.StatePending,
		CreatedAt:    now,
	}

	order, err := e.ex.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
		Symbol:        symbol,
		Side:          exchange.OpenSide(d.Side),
		Quantity:      qty,
		Price:         limit,
		ClientOrderID: pos.EntryClientID(),
	})
	if err != nil {
		RecordEntry("failed")
		return nil, fmt.Errorf("entry order %s: %w", symbol, err)
	}
	pos.EntryOrderID = order.OrderID
	RecordEntry("submitted")

	e.log.Info("entry submitted",
		utils.Symbol(symbol),
		utils.Side(d.Side),
		utils.OrderID(order.OrderID),
		utils.Price(limit),
		utils.Qty(qty))
	e.notifier.EntrySubmitted(pos.Snapshot())
	return pos, nil
}

// ============================================================
// Защита
// ============================================================

// protectionPrices цены TP и SL от цены входа, округлённые к тику
func protectionPrices(pos *models.TrackedPosition, rules *exchange.SymbolRules) (tp, sl float64) {
	tp = rules.RoundPrice(utils.TriggerPrice(pos.Side, pos.EntryPrice, pos.CurrentTPPct, true))
	sl = rules.RoundPrice(utils.TriggerPrice(pos.Side, pos.EntryPrice, pos.SLPct, false))
	return tp, sl
}

// matchingOrders открытые условные ордера заданного типа на закрытие позиции
func matchingOrders(open []exchange.AlgoOrder, orderType, closeSide string) []exchange.AlgoOrder {
	var out []exchange.AlgoOrder
	for _, o := range open {
		if o.Type == orderType && o.Side == closeSide {
			out = append(out, o)
		}
	}
	exchange.SortAlgoOrders(out)
	return out
}

// PlaceProtection выставляет TP и SL на подтверждённый объём
//
// Идемпотентна: существующий ордер того же типа и стороны закрытия
// принимается, лишние снимаются. Позиция помечается защищённой только
// когда есть оба ордера.
func (e *OrderExecutor) PlaceProtection(ctx context.Context, pos *models.TrackedPosition) error {
	rules, err := e.ex.GetRules(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("rules %s: %w", pos.Symbol, err)
	}
	qty := rules.RoundQty(pos.ProtectQty())
	if qty <= 0 {
		return fmt.Errorf("%w: %s protect qty %v", ErrQuantityTooSmall, pos.Symbol, pos.ProtectQty())
	}
	tpPrice, slPrice := protectionPrices(pos, rules)

	open, err := e.ex.GetOpenAlgoOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("open conditional orders %s: %w", pos.Symbol, err)
	}
	closeSide := exchange.CloseSide(pos.Side)

	tp, tpErr := e.ensureOrder(ctx, pos, matchingOrders(open, exchange.AlgoTypeTakeProfit, closeSide),
		exchange.AlgoOrderRequest{
			Symbol:       pos.Symbol,
			Side:         closeSide,
			Type:         exchange.AlgoTypeTakeProfit,
			Quantity:     qty,
			TriggerPrice: tpPrice,
			ClientAlgoID: pos.TPClientID(),
		})
	sl, slErr := e.ensureOrder(ctx, pos, matchingOrders(open, exchange.AlgoTypeStopLoss, closeSide),
		exchange.AlgoOrderRequest{
			Symbol:       pos.Symbol,
			Side:         closeSide,
			Type:         exchange.AlgoTypeStopLoss,
			Quantity:     qty,
			TriggerPrice: slPrice,
			ClientAlgoID: pos.SLClientID(),
		})

	if tpErr != nil || slErr != nil {
		// Выставленный ордер останется на бирже и будет принят следующим циклом
		pos.ClearProtection()
		return fmt.Errorf("%w for %s: %v", ErrProtectionIncomplete, pos.Symbol, errors.Join(tpErr, slErr))
	}

	pos.SetProtection(tp.AlgoID, tp.TriggerPrice, sl.AlgoID, sl.TriggerPrice)
	e.log.Info("protection in place",
		utils.Symbol(pos.Symbol),
		utils.Int64("tp_id", tp.AlgoID),
		utils.Float64("tp_price", tp.TriggerPrice),
		utils.Int64("sl_id", sl.AlgoID),
		utils.Float64("sl_price", sl.TriggerPrice),
		utils.Qty(qty))
	return nil
}

// ensureOrder принимает самый старый совпадающий ордер или выставляет новый
func (e *OrderExecutor) ensureOrder(ctx context.Context, pos *models.TrackedPosition, existing []exchange.AlgoOrder, req exchange.AlgoOrderRequest) (*exchange.AlgoOrder, error) {
	if len(existing) > 0 {
		keep := existing[0]
		for _, dup := range existing[1:] {
			if err := e.ex.CancelAlgoOrder(ctx, pos.Symbol, dup.AlgoID); err != nil && !exchange.IsOrderNotFound(err) {
				e.log.Warn("surplus conditional order not canceled",
					utils.Symbol(pos.Symbol), utils.AlgoID(dup.AlgoID), utils.Err(err))
				continue
			}
			DuplicatesSwept.Inc()
		}
		e.log.Info("adopted existing conditional order",
			utils.Symbol(pos.Symbol),
			utils.AlgoID(keep.AlgoID),
			utils.String("type", keep.Type),
			utils.Price(keep.TriggerPrice))
		return &keep, nil
	}

	order, err := e.ex.PlaceAlgoOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if order.TriggerPrice == 0 {
		order.TriggerPrice = req.TriggerPrice
	}
	return order, nil
}

// ============================================================
// Перевыставление TP
// ============================================================

// ReplaceTakeProfit снимает текущий TP и выставляет новый на newPct
//
// При отказе нового ордера восстанавливается прежний TP. Если и это не
// удалось, защита сбрасывается и поднимается критический алерт.
func (e *OrderExecutor) ReplaceTakeProfit(ctx context.Context, pos *models.TrackedPosition, newPct float64) error {
	if !pos.Protected() {
		return fmt.Errorf("%w: %s has no protection to adjust", ErrProtectionIncomplete, pos.Symbol)
	}
	rules, err := e.ex.GetRules(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("rules %s: %w", pos.Symbol, err)
	}
	qty := rules.RoundQty(pos.ProtectQty())
	closeSide := exchange.CloseSide(pos.Side)
	newPrice := rules.RoundPrice(utils.TriggerPrice(pos.Side, pos.EntryPrice, newPct, true))

	oldID, oldPrice, oldPct := pos.TPOrderID, pos.TPPrice, pos.CurrentTPPct

	if err := e.ex.CancelAlgoOrder(ctx, pos.Symbol, oldID); err != nil {
		// Не найден: TP мог сработать, решает сверка
		return fmt.Errorf("cancel take-profit %d for %s: %w", oldID, pos.Symbol, err)
	}

	pos.TPRevision++
	placed, placeErr := e.ex.PlaceAlgoOrder(ctx, exchange.AlgoOrderRequest{
		Symbol:       pos.Symbol,
		Side:         closeSide,
		Type:         exchange.AlgoTypeTakeProfit,
		Quantity:     qty,
		TriggerPrice: newPrice,
		ClientAlgoID: pos.TPClientID(),
	})
	if placeErr == nil {
		price := placed.TriggerPrice
		if price == 0 {
			price = newPrice
		}
		pos.SetProtection(placed.AlgoID, price, pos.SLOrderID, pos.SLPrice)
		pos.CurrentTPPct = newPct
		TPAdjustments.WithLabelValues("ok").Inc()
		e.log.Info("take-profit replaced",
			utils.Symbol(pos.Symbol),
			utils.Float64("old_pct", oldPct),
			utils.TPPct(newPct),
			utils.AlgoID(placed.AlgoID),
			utils.Price(price))
		return nil
	}

	e.log.Error("take-profit replacement failed, restoring previous",
		utils.Symbol(pos.Symbol), utils.TPPct(newPct), utils.Err(placeErr))

	pos.TPRevision++
	restored, restoreErr := e.ex.PlaceAlgoOrder(ctx, exchange.AlgoOrderRequest{
		Symbol:       pos.Symbol,
		Side:         closeSide,
		Type:         exchange.AlgoTypeTakeProfit,
		Quantity:     qty,
		TriggerPrice: oldPrice,
		ClientAlgoID: pos.TPClientID(),
	})
	if restoreErr == nil {
		pos.SetProtection(restored.AlgoID, oldPrice, pos.SLOrderID, pos.SLPrice)
		TPAdjustments.WithLabelValues("restored").Inc()
		return fmt.Errorf("%w: %s: %v", ErrTakeProfitRestored, pos.Symbol, placeErr)
	}

	// Следующий цикл выставит защиту заново уже на новый процент
	pos.ClearProtection()
	pos.CurrentTPPct = newPct
	transition(pos, models.StateFilled)
	TPAdjustments.WithLabelValues("lost").Inc()
	RecordCritical("restore_take_profit")
	err = fmt.Errorf("replace take-profit %s: %w; restore failed: %v", pos.Symbol, placeErr, restoreErr)
	e.log.Error("take-profit lost", utils.Symbol(pos.Symbol), utils.Err(err))
	e.notifier.Critical(pos.Symbol, "restore_take_profit", err)
	return err
}

// PlaceReplacement перевыставляет внешне отменённый ордер по исходной цене
func (e *OrderExecutor) PlaceReplacement(ctx context.Context, pos *models.TrackedPosition, kind string, qty float64) (*exchange.AlgoOrder, error) {
	req := exchange.AlgoOrderRequest{
		Symbol:   pos.Symbol,
		Side:     exchange.CloseSide(pos.Side),
		Quantity: qty,
	}
	switch kind {
	case "tp":
		pos.TPRevision++
		req.Type, req.TriggerPrice, req.ClientAlgoID = exchange.AlgoTypeTakeProfit, pos.TPPrice, pos.TPClientID()
	case "sl":
		pos.SLRevision++
		req.Type, req.TriggerPrice, req.ClientAlgoID = exchange.AlgoTypeStopLoss, pos.SLPrice, pos.SLClientID()
	default:
		return nil, fmt.Errorf("unknown protection kind %q", kind)
	}

	order, err := e.ex.PlaceAlgoOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("re-place %s for %s: %w", kind, pos.Symbol, err)
	}
	if order.TriggerPrice == 0 {
		order.TriggerPrice = req.TriggerPrice
	}
	return order, nil
}
