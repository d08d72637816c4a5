package bot

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

// RecoveryConfig настройки восстановления
type RecoveryConfig struct {
	// RecoveryTimeout таймаут на операции восстановления
	RecoveryTimeout time.Duration

	// CancelOrphanedOrders снимать наши условные ордера символов без позиции
	CancelOrphanedOrders bool

	// TP/SL по умолчанию, если ордер не найден и процент не вычислить
	DefaultTPPct float64
	DefaultSLPct float64
}

// DefaultRecoveryConfig значения по умолчанию
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		RecoveryTimeout:      60 * time.Second,
		CancelOrphanedOrders: true,
		DefaultTPPct:         33,
		DefaultSLPct:         18,
	}
}

// RecoveryResult итог восстановления
type RecoveryResult struct {
	PositionsFound   int
	Restored         []string
	Unprotected      []string // защита будет выставлена ближайшим циклом
	OrphanedCanceled int
	Errors           []error
}

// RecoveryManager восстанавливает учёт после рестарта
//
// Локального состояния нет: позиции и их защита заново выводятся из
// данных биржи.
//
// Шаги:
// 1. Ненулевые позиции аккаунта
// 2. Открытые условные ордера по каждому символу (tp_/sl_ client id, затем тип)
// 3. Флаги оценки по времени удержания
// 4. Передача позиций монитору
// 5. Снятие наших условных ордеров без позиции
type RecoveryManager struct {
	ex       exchange.Exchange
	monitor  *PositionMonitor
	notifier Notifier
	cfg      RecoveryConfig
	log      *utils.Logger
	now      func() time.Time
}

// NewRecoveryManager создаёт менеджер восстановления
func NewRecoveryManager(ex exchange.Exchange, monitor *PositionMonitor, notifier Notifier, cfg RecoveryConfig, logger *utils.Logger) *RecoveryManager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = utils.L()
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryConfig().RecoveryTimeout
	}
	return &RecoveryManager{
		ex:       ex,
		monitor:  monitor,
		notifier: notifier,
		cfg:      cfg,
		log:      logger.WithComponent("recovery"),
		now:      time.Now,
	}
}

// Recover выполняет восстановление
func (rm *RecoveryManager) Recover(ctx context.Context) (*RecoveryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, rm.cfg.RecoveryTimeout)
	defer cancel()

	result := &RecoveryResult{}

	positions, err := rm.ex.GetPositions(ctx)
	if err != nil {
		return result, fmt.Errorf("recovery positions: %w", err)
	}
	result.PositionsFound = len(positions)

	withPosition := make(map[string]bool, len(positions))
	for _, p := range positions {
		symbol := utils.NormalizeSymbol(p.Symbol)
		withPosition[symbol] = true

		if rm.monitor.IsTracked(symbol) {
			continue
		}

		orders, err := rm.ex.GetOpenAlgoOrders(ctx, symbol)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("open orders %s: %w", symbol, err))
			orders = nil
		}

		pos := rm.rebuild(p, orders)
		if err := rm.monitor.Track(pos); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		result.Restored = append(result.Restored, symbol)
		if !pos.Protected() {
			result.Unprotected = append(result.Unprotected, symbol)
		}

		rm.log.Info("position recovered",
			utils.Symbol(symbol),
			utils.Side(pos.Side),
			utils.Price(pos.EntryPrice),
			utils.Qty(pos.FilledQty),
			utils.Bool("protected", pos.Protected()),
			utils.TPPct(pos.CurrentTPPct),
			utils.String("held", utils.FormatDuration(pos.HoldTime(rm.now()))))
		rm.notifier.Recovered(pos.Snapshot())
		rm.monitor.journal.event(ctx, pos, models.EventRecovered, pos.TPOrderID, pos.EntryPrice,
			map[string]interface{}{"protected": pos.Protected()})
	}

	if rm.cfg.CancelOrphanedOrders {
		result.OrphanedCanceled = rm.cancelOrphaned(ctx, withPosition, result)
	}

	rm.log.Info("recovery complete",
		utils.Int("found", result.PositionsFound),
		utils.Int("restored", len(result.Restored)),
		utils.Int("unprotected", len(result.Unprotected)),
		utils.Int("orphaned_canceled", result.OrphanedCanceled),
		utils.Int("errors", len(result.Errors)))
	return result, nil
}

// rebuild собирает TrackedPosition по позиции и её условным ордерам
func (rm *RecoveryManager) rebuild(p exchange.PositionRisk, orders []exchange.AlgoOrder) *models.TrackedPosition {
	now := rm.now()
	side := p.Side()
	qty := utils.Abs(p.Amount)

	pos := &models.TrackedPosition{
		Symbol:       utils.NormalizeSymbol(p.Symbol),
		Side:         side,
		Quantity:     qty,
		Leverage:     p.Leverage,
		EntryFilled:  true,
		EntryPrice:   p.EntryPrice,
		FilledQty:    qty,
		CurrentTPPct: rm.cfg.DefaultTPPct,
		SLPct:        rm.cfg.DefaultSLPct,
		Strength:     models.StrengthUnknown,
		State:        models.StateFilled,
		CreatedAt:    now,
		Recovered:    true,
	}

	tp, sl := classifyProtection(orders, exchange.CloseSide(side))

	// Время входа неизвестно: самый старый защитный ордер, иначе обновление позиции
	fill := p.UpdateTime
	for _, o := range []*exchange.AlgoOrder{tp, sl} {
		if o != nil && !o.CreateTime.IsZero() && (fill.IsZero() || o.CreateTime.Before(fill)) {
			fill = o.CreateTime
		}
	}
	if fill.IsZero() {
		fill = now
	}
	pos.EntryFillTime = fill
	pos.ClientPrefix = recoveredPrefix(tp, sl, fill)

	if tp != nil && pos.EntryPrice > 0 {
		pos.CurrentTPPct = roundPct(utils.Abs(tp.TriggerPrice-pos.EntryPrice) / pos.EntryPrice * 100)
	}
	if sl != nil && pos.EntryPrice > 0 {
		pos.SLPct = roundPct(utils.Abs(sl.TriggerPrice-pos.EntryPrice) / pos.EntryPrice * 100)
	}

	if tp != nil {
		pos.TPRevision = revisionOf(tp.ClientAlgoID)
	}
	if sl != nil {
		pos.SLRevision = revisionOf(sl.ClientAlgoID)
	}

	if tp != nil && sl != nil {
		pos.SetProtection(tp.AlgoID, tp.TriggerPrice, sl.AlgoID, sl.TriggerPrice)
		pos.State = models.StateProtected
	}

	// Пройденные по времени точки не переоцениваются
	held := pos.HoldTime(now)
	if held >= 12*time.Hour {
		pos.MarkEvaluated(models.Checkpoint12h)
	} else if held >= 2*time.Hour {
		pos.MarkEvaluated(models.Checkpoint2h)
	}
	return pos
}

// classifyProtection TP и SL по префиксу client id, затем по типу
func classifyProtection(orders []exchange.AlgoOrder, closeSide string) (tp, sl *exchange.AlgoOrder) {
	sorted := append([]exchange.AlgoOrder(nil), orders...)
	exchange.SortAlgoOrders(sorted)

	for i := range sorted {
		o := &sorted[i]
		if o.Side != "" && o.Side != closeSide {
			continue
		}
		switch {
		case tp == nil && strings.HasPrefix(o.ClientAlgoID, "tp_"):
			tp = o
		case sl == nil && strings.HasPrefix(o.ClientAlgoID, "sl_"):
			sl = o
		}
	}
	for i := range sorted {
		o := &sorted[i]
		if o.Side != "" && o.Side != closeSide {
			continue
		}
		switch {
		case tp == nil && o.IsTakeProfit():
			tp = o
		case sl == nil && o.IsStopLoss():
			sl = o
		}
	}
	return tp, sl
}

// recoveredPrefix префикс из client id найденного ордера, иначе новый
func recoveredPrefix(tp, sl *exchange.AlgoOrder, fill time.Time) string {
	for _, o := range []*exchange.AlgoOrder{tp, sl} {
		if o == nil {
			continue
		}
		id := o.ClientAlgoID
		if !strings.HasPrefix(id, "tp_") && !strings.HasPrefix(id, "sl_") {
			continue
		}
		prefix := id[3:]
		if i := strings.LastIndex(prefix, "_r"); i > 0 {
			prefix = prefix[:i]
		}
		if prefix != "" {
			return prefix
		}
	}
	return "rc" + clientPrefix(fill)[2:]
}

// revisionOf номер перевыставления из суффикса _r<N>
func revisionOf(clientID string) int {
	i := strings.LastIndex(clientID, "_r")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(clientID[i+2:])
	if err != nil {
		return 0
	}
	return n
}

func roundPct(v float64) float64 {
	return math.Round(v*100) / 100
}

// cancelOrphaned снимает наши условные ордера символов без позиции
func (rm *RecoveryManager) cancelOrphaned(ctx context.Context, withPosition map[string]bool, result *RecoveryResult) int {
	orders, err := rm.ex.GetOpenAlgoOrders(ctx, "")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("open orders: %w", err))
		return 0
	}

	canceled := 0
	for _, o := range orders {
		symbol := utils.NormalizeSymbol(o.Symbol)
		if withPosition[symbol] || rm.monitor.IsTracked(symbol) {
			continue
		}
		if !strings.HasPrefix(o.ClientAlgoID, "tp_") && !strings.HasPrefix(o.ClientAlgoID, "sl_") {
			continue
		}
		if err := rm.ex.CancelAlgoOrder(ctx, symbol, o.AlgoID); err != nil && !exchange.IsOrderNotFound(err) {
			result.Errors = append(result.Errors, fmt.Errorf("cancel orphaned %s %d: %w", symbol, o.AlgoID, err))
			continue
		}
		canceled++
		rm.log.Info("orphaned conditional order canceled",
			utils.Symbol(symbol), utils.AlgoID(o.AlgoID), utils.ClientID(o.ClientAlgoID))
	}
	return canceled
}
