package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/internal/models"
	"surgetrader/internal/strategy"
	"surgetrader/pkg/retry"
	"surgetrader/pkg/utils"
)

// MonitorConfig параметры монитора
type MonitorConfig struct {
	Interval        time.Duration // плановый цикл сверки
	SplitCloseDelay time.Duration // пауза между половинами split close
	TriggerBuffer   int           // очередь внеочередных сверок
}

// DefaultMonitorConfig значения по умолчанию
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:        60 * time.Second,
		SplitCloseDelay: 500 * time.Millisecond,
		TriggerBuffer:   64,
	}
}

// PositionMonitor сопровождает открытые позиции
//
// Источник истины - фактическая позиция на бирже. События потока
// только ставят символ на внеочередную сверку, учёт меняет сверка.
//
// Позиции хранятся как неизменяемые снимки: сверка работает с копией
// под замком символа и публикует её целиком.
type PositionMonitor struct {
	ex       exchange.Exchange
	executor *OrderExecutor
	strategy strategy.Strategy
	notifier Notifier
	journal  *journal
	locker   *SymbolLocker
	cfg      MonitorConfig
	log      *utils.Logger

	mu        sync.RWMutex
	positions map[string]*models.TrackedPosition

	triggers chan string

	now   func() time.Time
	sleep retry.SleepFunc
}

// NewPositionMonitor создаёт монитор
func NewPositionMonitor(
	ex exchange.Exchange,
	executor *OrderExecutor,
	strat strategy.Strategy,
	notifier Notifier,
	store Store,
	locker *SymbolLocker,
	cfg MonitorConfig,
	logger *utils.Logger,
) *PositionMonitor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if locker == nil {
		locker = NewSymbolLocker()
	}
	if logger == nil {
		logger = utils.L()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorConfig().Interval
	}
	if cfg.TriggerBuffer <= 0 {
		cfg.TriggerBuffer = DefaultMonitorConfig().TriggerBuffer
	}
	log := logger.WithComponent("monitor")
	return &PositionMonitor{
		ex:        ex,
		executor:  executor,
		strategy:  strat,
		notifier:  notifier,
		journal:   newJournal(store, log),
		locker:    locker,
		cfg:       cfg,
		log:       log,
		positions: make(map[string]*models.TrackedPosition),
		triggers:  make(chan string, cfg.TriggerBuffer),
		now:       time.Now,
		sleep:     retry.ContextSleep,
	}
}

// ============================================================
// Реестр позиций
// ============================================================

// Track добавляет позицию; по символу допускается одна активная позиция
func (m *PositionMonitor) Track(pos *models.TrackedPosition) error {
	if pos == nil || pos.Symbol == "" {
		return fmt.Errorf("track: empty position")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[pos.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, pos.Symbol)
	}
	snapshot := pos.Snapshot()
	m.positions[pos.Symbol] = &snapshot
	UpdateTrackedPositions(len(m.positions))
	return nil
}

// Get снимок позиции
func (m *PositionMonitor) Get(symbol string) (models.TrackedPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return models.TrackedPosition{}, false
	}
	return *p, true
}

// Positions снимки всех позиций, по символу
func (m *PositionMonitor) Positions() []models.TrackedPosition {
	m.mu.RLock()
	out := make([]models.TrackedPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Count количество сопровождаемых позиций (включая Pending)
func (m *PositionMonitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// IsTracked позиция по символу сопровождается
func (m *PositionMonitor) IsTracked(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[symbol]
	return ok
}

func (m *PositionMonitor) symbols() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.positions))
	for s := range m.positions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// commit публикует результат сверки
func (m *PositionMonitor) commit(work *models.TrackedPosition, remove bool) {
	m.mu.Lock()
	if remove {
		delete(m.positions, work.Symbol)
	} else {
		snapshot := *work
		m.positions[work.Symbol] = &snapshot
	}
	count := len(m.positions)
	m.mu.Unlock()
	UpdateTrackedPositions(count)
}

// Trigger ставит символ на внеочередную сверку
func (m *PositionMonitor) Trigger(symbol string) bool {
	return tryEnqueueTrigger(m.triggers, symbol)
}

// ============================================================
// Циклы
// ============================================================

// Run плановые циклы и внеочередные сверки до отмены ctx
//
// Текущий цикл всегда доводится до конца: сверка работает на контексте
// без отмены, ctx проверяется только между циклами.
func (m *PositionMonitor) Run(ctx context.Context, events <-chan exchange.StreamEvent) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	work := context.WithoutCancel(ctx)
	m.log.Info("position monitor started", utils.String("interval", m.cfg.Interval.String()))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("position monitor stopped", utils.Int("tracked", m.Count()))
			return nil
		case <-ticker.C:
			m.RunCycle(work)
		case symbol := <-m.triggers:
			m.reconcileSymbol(work, symbol)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleStreamEvent(ev)
		}
	}
}

// handleStreamEvent событие потока только планирует сверку
func (m *PositionMonitor) handleStreamEvent(ev exchange.StreamEvent) {
	switch ev.Type {
	case exchange.EventOrderFilled, exchange.EventOrderCanceled, exchange.EventAlgoTriggered:
		symbol := utils.NormalizeSymbol(ev.Symbol)
		if m.IsTracked(symbol) {
			m.Trigger(symbol)
		}
	}
}

// RunCycle сверка всех позиций
func (m *PositionMonitor) RunCycle(ctx context.Context) {
	start := m.now()
	for _, symbol := range m.symbols() {
		m.reconcileSymbol(ctx, symbol)
	}
	MonitorCycleDuration.Observe(time.Since(start).Seconds())
}

func (m *PositionMonitor) reconcileSymbol(ctx context.Context, symbol string) {
	if err := m.Reconcile(ctx, symbol); err != nil && !errors.Is(err, ErrNotTracked) {
		m.log.Warn("reconciliation failed", utils.Symbol(symbol), utils.Err(err))
	}
}

// Reconcile сверка одной позиции под замком символа
func (m *PositionMonitor) Reconcile(ctx context.Context, symbol string) error {
	unlock := m.locker.Lock(symbol)
	defer unlock()

	work, ok := m.Get(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, symbol)
	}
	remove, err := m.reconcile(ctx, &work)
	m.commit(&work, remove)
	return err
}

// reconcile шаги цикла для одной позиции; true - позиция уходит из реестра
func (m *PositionMonitor) reconcile(ctx context.Context, pos *models.TrackedPosition) (bool, error) {
	// 1. Pending
	if !pos.EntryFilled {
		remove, err := m.checkEntry(ctx, pos)
		if err != nil || remove || !pos.EntryFilled {
			return remove, err
		}
	}

	// Защита ещё не выставлена
	if !pos.Protected() {
		return m.protect(ctx, pos)
	}

	open, err := m.ex.GetOpenAlgoOrders(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("open conditional orders: %w", err)
	}

	// 2. Дубликаты
	open = m.sweepDuplicates(ctx, pos, open)

	// 3. Исчезновение защитных ордеров
	closed, err := m.checkDisappearance(ctx, pos, open)
	if err != nil || closed {
		return closed, err
	}

	// 4. Политика
	return m.evaluate(ctx, pos)
}

// ============================================================
// Entry
// ============================================================

func (m *PositionMonitor) checkEntry(ctx context.Context, pos *models.TrackedPosition) (bool, error) {
	order, err := m.ex.QueryOrder(ctx, pos.Symbol, pos.EntryOrderID)
	if err != nil {
		if exchange.IsOrderNotFound(err) {
			m.log.Warn("entry order not found, dropping position",
				utils.Symbol(pos.Symbol), utils.OrderID(pos.EntryOrderID))
			m.dropEntry(ctx, pos, "not_found")
			return true, nil
		}
		return false, fmt.Errorf("query entry order: %w", err)
	}

	switch order.Status {
	case exchange.OrderStatusFilled:
		m.markFilled(ctx, pos, order, order.ExecutedQty)
		return false, nil

	case exchange.OrderStatusCanceled, exchange.OrderStatusExpired, exchange.OrderStatusRejected:
		if order.ExecutedQty > 0 {
			// Частично исполнен до отмены: сопровождаем исполненный объём
			m.markFilled(ctx, pos, order, order.ExecutedQty)
			return false, nil
		}
		m.dropEntry(ctx, pos, order.Status)
		return true, nil
	}

	m.log.Debug("entry still open",
		utils.Symbol(pos.Symbol), utils.State(order.Status), utils.Float64("executed", order.ExecutedQty))
	return false, nil
}

func (m *PositionMonitor) markFilled(ctx context.Context, pos *models.TrackedPosition, order *exchange.Order, qty float64) {
	price := order.AvgPrice
	if price <= 0 {
		price = order.Price
	}
	if price <= 0 {
		price = pos.LimitPrice
	}
	if qty <= 0 {
		qty = pos.Quantity
	}
	at := order.UpdateTime
	if at.IsZero() {
		at = m.now()
	}

	pos.MarkFilled(price, qty, at)
	transition(pos, models.StateFilled)
	RecordEntry("filled")

	m.log.Info("entry filled",
		utils.Symbol(pos.Symbol), utils.Price(price), utils.Qty(qty), utils.OrderID(pos.EntryOrderID))
	m.notifier.EntryFilled(pos.Snapshot())
	m.journal.event(ctx, pos, models.EventEntryFilled, pos.EntryOrderID, price, nil)
}

func (m *PositionMonitor) dropEntry(ctx context.Context, pos *models.TrackedPosition, status string) {
	RecordEntry("canceled")
	m.log.Info("entry not filled, position removed",
		utils.Symbol(pos.Symbol), utils.State(status), utils.OrderID(pos.EntryOrderID))
	m.journal.event(ctx, pos, models.EventEntryCanceled, pos.EntryOrderID, pos.LimitPrice,
		map[string]interface{}{"status": status})
}

// ============================================================
// Защита
// ============================================================

func (m *PositionMonitor) protect(ctx context.Context, pos *models.TrackedPosition) (bool, error) {
	amount, err := m.ex.GetPositionAmount(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("position amount: %w", err)
	}
	if amount == 0 {
		// Позиция закрыта вне движка до выставления защиты
		m.log.Warn("unprotected position gone from exchange", utils.Symbol(pos.Symbol))
		m.finishClose(ctx, pos, models.CloseForced, m.markPrice(ctx, pos))
		return true, nil
	}
	if err := m.checkSign(pos, amount); err != nil {
		return false, err
	}
	pos.FilledQty = utils.Abs(amount)

	if err := m.executor.PlaceProtection(ctx, pos); err != nil {
		return false, err
	}
	transition(pos, models.StateProtected)
	m.notifier.ProtectionPlaced(pos.Snapshot())
	m.journal.event(ctx, pos, models.EventProtected, pos.TPOrderID, pos.TPPrice,
		map[string]interface{}{"sl_id": pos.SLOrderID, "sl_price": pos.SLPrice})
	return false, nil
}

// checkSign знак объёма на бирже совпадает со стороной позиции
func (m *PositionMonitor) checkSign(pos *models.TrackedPosition, amount float64) error {
	side := exchange.SideLong
	if amount < 0 {
		side = exchange.SideShort
	}
	if side == pos.Side {
		return nil
	}
	err := &ReconciliationMismatch{
		Symbol:   pos.Symbol,
		Expected: pos.Side,
		Actual:   fmt.Sprintf("%s amount %v", side, amount),
	}
	RecordCritical("reconcile")
	m.notifier.Critical(pos.Symbol, "reconcile", err)
	return err
}

// sweepDuplicates снимает всё, кроме самого старого ордера каждого типа
func (m *PositionMonitor) sweepDuplicates(ctx context.Context, pos *models.TrackedPosition, open []exchange.AlgoOrder) []exchange.AlgoOrder {
	closeSide := exchange.CloseSide(pos.Side)
	canceled := make(map[int64]bool)

	for _, orderType := range []string{exchange.AlgoTypeTakeProfit, exchange.AlgoTypeStopLoss} {
		matches := matchingOrders(open, orderType, closeSide)
		if len(matches) <= 1 {
			continue
		}
		keep := matches[0]
		for _, dup := range matches[1:] {
			if err := m.ex.CancelAlgoOrder(ctx, pos.Symbol, dup.AlgoID); err != nil && !exchange.IsOrderNotFound(err) {
				m.log.Warn("duplicate not canceled",
					utils.Symbol(pos.Symbol), utils.AlgoID(dup.AlgoID), utils.Err(err))
				continue
			}
			canceled[dup.AlgoID] = true
		}

		// Учёт указывает на оставленный ордер
		switch orderType {
		case exchange.AlgoTypeTakeProfit:
			if canceled[pos.TPOrderID] {
				pos.SetProtection(keep.AlgoID, keep.TriggerPrice, pos.SLOrderID, pos.SLPrice)
			}
		case exchange.AlgoTypeStopLoss:
			if canceled[pos.SLOrderID] {
				pos.SetProtection(pos.TPOrderID, pos.TPPrice, keep.AlgoID, keep.TriggerPrice)
			}
		}
	}

	if len(canceled) == 0 {
		return open
	}

	DuplicatesSwept.Add(float64(len(canceled)))
	m.log.Warn("duplicate conditional orders swept",
		utils.Symbol(pos.Symbol), utils.Int("canceled", len(canceled)))
	m.notifier.DuplicatesSwept(pos.Symbol, len(canceled))

	remaining := open[:0:0]
	for _, o := range open {
		if !canceled[o.AlgoID] {
			remaining = append(remaining, o)
		}
	}
	return remaining
}

func containsAlgo(open []exchange.AlgoOrder, id int64) bool {
	for _, o := range open {
		if o.AlgoID == id {
			return true
		}
	}
	return false
}

// checkDisappearance разбирает пропажу отслеживаемого TP или SL
//
// Нулевой объём означает срабатывание, ненулевой - внешнюю отмену:
// ордер перевыставляется по исходной цене.
func (m *PositionMonitor) checkDisappearance(ctx context.Context, pos *models.TrackedPosition, open []exchange.AlgoOrder) (bool, error) {
	tpOpen := containsAlgo(open, pos.TPOrderID)
	slOpen := containsAlgo(open, pos.SLOrderID)
	if tpOpen && slOpen {
		return false, nil
	}

	amount, err := m.ex.GetPositionAmount(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("position amount: %w", err)
	}

	if amount == 0 {
		reason, exit := m.classifyTrigger(ctx, pos, tpOpen, slOpen)
		for _, sibling := range []struct {
			open bool
			id   int64
		}{{tpOpen, pos.TPOrderID}, {slOpen, pos.SLOrderID}} {
			if !sibling.open {
				continue
			}
			if err := m.ex.CancelAlgoOrder(ctx, pos.Symbol, sibling.id); err != nil && !exchange.IsOrderNotFound(err) {
				m.log.Warn("sibling order not canceled",
					utils.Symbol(pos.Symbol), utils.AlgoID(sibling.id), utils.Err(err))
			}
		}
		m.finishClose(ctx, pos, reason, exit)
		return true, nil
	}

	if err := m.checkSign(pos, amount); err != nil {
		return false, err
	}

	rules, err := m.ex.GetRules(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("rules: %w", err)
	}
	qty := rules.RoundQty(utils.Abs(amount))
	pos.FilledQty = qty

	for _, missing := range []struct {
		kind string
		open bool
	}{{"tp", tpOpen}, {"sl", slOpen}} {
		if missing.open {
			continue
		}
		order, err := m.executor.PlaceReplacement(ctx, pos, missing.kind, qty)
		if err != nil {
			// Следующий цикл выставит защиту с нуля и примет уцелевший ордер
			pos.ClearProtection()
			transition(pos, models.StateFilled)
			return false, err
		}
		if missing.kind == "tp" {
			pos.SetProtection(order.AlgoID, order.TriggerPrice, pos.SLOrderID, pos.SLPrice)
		} else {
			pos.SetProtection(pos.TPOrderID, pos.TPPrice, order.AlgoID, order.TriggerPrice)
		}

		ProtectionReplaced.WithLabelValues(missing.kind).Inc()
		m.log.Warn("protective order re-placed after external cancellation",
			utils.Symbol(pos.Symbol),
			utils.String("kind", missing.kind),
			utils.AlgoID(order.AlgoID),
			utils.Price(order.TriggerPrice))
		m.notifier.Replaced(pos.Snapshot(), missing.kind)
		m.journal.event(ctx, pos, models.EventReplaced, order.AlgoID, order.TriggerPrice,
			map[string]interface{}{"kind": missing.kind})
	}
	return false, nil
}

// classifyTrigger какой из ордеров сработал при нулевом объёме
//
// Если пропали оба, решает mark price относительно входа.
func (m *PositionMonitor) classifyTrigger(ctx context.Context, pos *models.TrackedPosition, tpOpen, slOpen bool) (models.CloseReason, float64) {
	switch {
	case !tpOpen && slOpen:
		return models.CloseTPTriggered, pos.TPPrice
	case tpOpen && !slOpen:
		return models.CloseSLTriggered, pos.SLPrice
	}

	mark := m.markPrice(ctx, pos)
	if utils.CalculatePNL(pos.Side, pos.EntryPrice, mark, 1) > 0 {
		return models.CloseTPTriggered, pos.TPPrice
	}
	return models.CloseSLTriggered, pos.SLPrice
}

// markPrice текущая mark price, при ошибке цена входа
func (m *PositionMonitor) markPrice(ctx context.Context, pos *models.TrackedPosition) float64 {
	idx, err := m.ex.GetPremiumIndex(ctx, pos.Symbol)
	if err != nil || idx == nil || idx.MarkPrice <= 0 {
		return pos.EntryPrice
	}
	return idx.MarkPrice
}

// ============================================================
// Политика
// ============================================================

func (m *PositionMonitor) evaluate(ctx context.Context, pos *models.TrackedPosition) (bool, error) {
	action, err := m.strategy.EvaluatePosition(ctx, pos, m.now())
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}

	switch action.Action {
	case strategy.ActionClose:
		reason := action.CloseReason
		if reason == "" {
			reason = models.CloseForced
		}
		m.log.Info("strategy requested close", utils.Symbol(pos.Symbol), utils.Reason(action.Reason))
		return m.forceClose(ctx, pos, reason)

	case strategy.ActionAdjustTP:
		oldPct := pos.CurrentTPPct
		if action.NewTPPct != oldPct {
			err := m.executor.ReplaceTakeProfit(ctx, pos, action.NewTPPct)
			if err != nil && !errors.Is(err, ErrTakeProfitRestored) && pos.Protected() {
				// Снятие не удалось: точка будет оценена повторно
				return false, err
			}
			if err == nil {
				transition(pos, models.StateAdjusted)
				m.notifier.TPAdjusted(pos.Snapshot(), oldPct, action.NewTPPct)
				m.journal.event(ctx, pos, models.EventTPAdjusted, pos.TPOrderID, pos.TPPrice,
					map[string]interface{}{"old_pct": oldPct, "new_pct": action.NewTPPct, "reason": action.Reason})
			}
			m.applyEvaluation(ctx, pos, action)
			return false, err
		}
		m.log.Info("take-profit kept", utils.Symbol(pos.Symbol), utils.TPPct(oldPct), utils.Reason(action.Reason))
		m.applyEvaluation(ctx, pos, action)
		return false, nil
	}

	if action.Checkpoint != models.CheckpointNone {
		m.applyEvaluation(ctx, pos, action)
	}
	return false, nil
}

func (m *PositionMonitor) applyEvaluation(ctx context.Context, pos *models.TrackedPosition, action strategy.PositionAction) {
	pos.MarkEvaluated(action.Checkpoint)
	if action.NewStrength != "" {
		pos.Strength = action.NewStrength
	}
	m.journal.event(ctx, pos, models.EventEvaluated, 0, 0, map[string]interface{}{
		"action":   string(action.Action),
		"strength": string(pos.Strength),
		"tp_pct":   pos.CurrentTPPct,
		"reason":   action.Reason,
	})
}

// ============================================================
// Принудительное закрытие
// ============================================================

// ForceClose закрывает позицию по запросу оператора
func (m *PositionMonitor) ForceClose(ctx context.Context, symbol string) error {
	symbol = utils.NormalizeSymbol(symbol)
	unlock := m.locker.Lock(symbol)
	defer unlock()

	work, ok := m.Get(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, symbol)
	}

	if !work.EntryFilled {
		if err := m.ex.CancelOrder(ctx, symbol, work.EntryOrderID); err != nil && !exchange.IsOrderNotFound(err) {
			return fmt.Errorf("cancel entry: %w", err)
		}
		remove, err := m.checkEntry(ctx, &work)
		if err != nil || remove || !work.EntryFilled {
			m.commit(&work, remove)
			return err
		}
	}

	closed, err := m.forceClose(ctx, &work, models.CloseForced)
	m.commit(&work, closed)
	return err
}

// forceClose снимает условные ордера и закрывает фактический объём
//
// reduce-only MARKET; отказ reduce-only → перечитать объём и обычный
// MARKET; нехватка маржи → закрытие половинами. Если все пути
// исчерпаны, учёт не меняется и поднимается критический алерт.
func (m *PositionMonitor) forceClose(ctx context.Context, pos *models.TrackedPosition, reason models.CloseReason) (bool, error) {
	if open, err := m.ex.GetOpenAlgoOrders(ctx, pos.Symbol); err != nil {
		m.log.Warn("open conditional orders unavailable before close", utils.Symbol(pos.Symbol), utils.Err(err))
	} else {
		for _, o := range open {
			if err := m.ex.CancelAlgoOrder(ctx, pos.Symbol, o.AlgoID); err != nil && !exchange.IsOrderNotFound(err) {
				m.log.Warn("conditional order not canceled before close",
					utils.Symbol(pos.Symbol), utils.AlgoID(o.AlgoID), utils.Err(err))
			}
		}
	}
	pos.ClearProtection()

	amount, err := m.ex.GetPositionAmount(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("position amount before close: %w", err)
	}
	if amount == 0 {
		m.finishClose(ctx, pos, reason, m.markPrice(ctx, pos))
		return true, nil
	}

	rules, err := m.ex.GetRules(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("rules: %w", err)
	}
	qty := rules.RoundQty(utils.Abs(amount))
	side := exchange.CloseSideForAmount(amount)

	reduceOnly := true
	order, err := m.ex.PlaceMarketOrder(ctx, pos.Symbol, side, qty, reduceOnly)
	if exchange.IsReduceOnlyRejected(err) {
		// Отказ reduce-only часто означает, что позиция уже закрыта биржей
		fresh, readErr := m.ex.GetPositionAmount(ctx, pos.Symbol)
		if readErr != nil {
			return false, m.closeFailed(ctx, pos, fmt.Errorf("re-read after reduce-only rejection: %w", readErr))
		}
		if fresh == 0 {
			m.finishClose(ctx, pos, reason, m.markPrice(ctx, pos))
			return true, nil
		}
		amount = fresh
		qty = rules.RoundQty(utils.Abs(amount))
		side = exchange.CloseSideForAmount(amount)

		ForcedCloseFallbacks.WithLabelValues("plain_market").Inc()
		m.log.Warn("reduce-only close rejected, retrying plain market", utils.Symbol(pos.Symbol), utils.Err(err))
		reduceOnly = false
		order, err = m.ex.PlaceMarketOrder(ctx, pos.Symbol, side, qty, reduceOnly)
	}
	if exchange.IsInsufficientMargin(err) {
		ForcedCloseFallbacks.WithLabelValues("split").Inc()
		m.log.Warn("insufficient margin on close, splitting", utils.Symbol(pos.Symbol), utils.Err(err))
		order, err = m.splitClose(ctx, pos.Symbol, rules, reduceOnly)
	}
	if err != nil && !exchange.IsNetworkError(err) {
		return false, m.closeFailed(ctx, pos, err)
	}
	closeErr := err

	// Исход ордера после сетевого сбоя неизвестен: решает фактический объём
	remaining, err := m.ex.GetPositionAmount(ctx, pos.Symbol)
	if err != nil {
		if closeErr != nil {
			return false, m.closeFailed(ctx, pos, closeErr)
		}
		return false, fmt.Errorf("position amount after close: %w", err)
	}
	if remaining != 0 {
		if closeErr != nil {
			return false, m.closeFailed(ctx, pos, closeErr)
		}
		mismatch := &ReconciliationMismatch{
			Symbol:   pos.Symbol,
			Expected: "flat after close",
			Actual:   fmt.Sprintf("amount %v", remaining),
		}
		return false, m.closeFailed(ctx, pos, mismatch)
	}

	exit := 0.0
	if order != nil {
		exit = order.AvgPrice
	}
	if exit <= 0 {
		exit = m.markPrice(ctx, pos)
	}
	m.finishClose(ctx, pos, reason, exit)
	return true, nil
}

// splitClose закрытие примерно половиной, пауза, остаток по новому объёму
//
// Объём перечитывается перед каждой половиной; nil ордер без ошибки
// означает, что позиция уже плоская.
func (m *PositionMonitor) splitClose(ctx context.Context, symbol string, rules *exchange.SymbolRules, reduceOnly bool) (*exchange.Order, error) {
	amount, err := m.ex.GetPositionAmount(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("split close read: %w", err)
	}
	if amount == 0 {
		return nil, nil
	}

	first, _ := utils.SplitHalf(utils.Abs(amount), rules.StepSize)
	if first <= 0 {
		return nil, fmt.Errorf("split close %s: amount %v below step", symbol, amount)
	}

	order, err := m.ex.PlaceMarketOrder(ctx, symbol, exchange.CloseSideForAmount(amount), first, reduceOnly)
	if err != nil {
		return nil, fmt.Errorf("split close first part: %w", err)
	}

	if err := m.sleep(ctx, m.cfg.SplitCloseDelay); err != nil {
		return nil, err
	}

	remaining, err := m.ex.GetPositionAmount(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("split close re-read: %w", err)
	}
	if remaining == 0 {
		return order, nil
	}

	rest, err := m.ex.PlaceMarketOrder(ctx, symbol, exchange.CloseSideForAmount(remaining), rules.RoundQty(utils.Abs(remaining)), reduceOnly)
	if err != nil {
		return nil, fmt.Errorf("split close remainder: %w", err)
	}
	return rest, nil
}

func (m *PositionMonitor) closeFailed(ctx context.Context, pos *models.TrackedPosition, cause error) error {
	ForcedCloseFallbacks.WithLabelValues("failed").Inc()
	RecordCritical("force_close")
	err := fmt.Errorf("%w: %s: %w", ErrCloseFailed, pos.Symbol, cause)
	m.log.Error("forced close failed, manual action required", utils.Symbol(pos.Symbol), utils.Err(err))
	m.notifier.Critical(pos.Symbol, "force_close", err)
	m.journal.event(ctx, pos, models.EventCloseFailed, 0, 0, map[string]interface{}{"error": cause.Error()})
	return err
}

// finishClose терминальный переход, уведомление и журнал
func (m *PositionMonitor) finishClose(ctx context.Context, pos *models.TrackedPosition, reason models.CloseReason, exitPrice float64) {
	pos.ClearProtection()
	pos.MarkClosed(reason, m.now())
	RecordClose(string(reason))

	m.log.Info("position closed",
		utils.Symbol(pos.Symbol),
		utils.Reason(string(reason)),
		utils.Price(exitPrice),
		utils.PNL(utils.CalculatePNL(pos.Side, pos.EntryPrice, exitPrice, pos.ProtectQty())))

	snapshot := pos.Snapshot()
	switch reason {
	case models.CloseTPTriggered:
		m.notifier.TPTriggered(snapshot)
	case models.CloseSLTriggered:
		m.notifier.SLTriggered(snapshot)
	case models.CloseTimedOut:
		m.notifier.TimedOut(snapshot)
	default:
		m.notifier.ForceClosed(snapshot)
	}
	m.journal.event(ctx, pos, models.EventClosed, 0, exitPrice, map[string]interface{}{"reason": string(reason)})
	m.journal.trade(ctx, pos, exitPrice)
}
