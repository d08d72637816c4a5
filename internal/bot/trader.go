package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/internal/models"
	"surgetrader/internal/strategy"
	"surgetrader/pkg/utils"
)

// TraderConfig лимиты входа
type TraderConfig struct {
	MaxPositions       int     // активные + Pending
	MaxEntriesPerDay   int     // UTC день
	DailyLossLimitUSDT float64 // реализованный убыток за UTC день
	Leverage           int
}

// DefaultTraderConfig значения по умолчанию
func DefaultTraderConfig() TraderConfig {
	return TraderConfig{
		MaxPositions:       6,
		MaxEntriesPerDay:   4,
		DailyLossLimitUSDT: 50,
		Leverage:           3,
	}
}

// Trader принимает сигналы и открывает позиции
//
// Фильтрация идёт параллельно по разным символам, но не больше одного
// решения на символ. Проверка лимитов и выставление entry выполняются
// под одним глобальным мьютексом, поэтому лимиты не превышаются при
// одновременных сигналах.
type Trader struct {
	ex       exchange.Exchange
	strategy strategy.Strategy
	executor *OrderExecutor
	monitor  *PositionMonitor
	notifier Notifier
	journal  *journal
	cfg      TraderConfig
	log      *utils.Logger

	entryMu      sync.Mutex
	day          time.Time
	entriesToday int

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	now func() time.Time
}

// NewTrader создаёт обработчик сигналов
func NewTrader(
	ex exchange.Exchange,
	strat strategy.Strategy,
	executor *OrderExecutor,
	monitor *PositionMonitor,
	notifier Notifier,
	store Store,
	cfg TraderConfig,
	logger *utils.Logger,
) *Trader {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = utils.L()
	}
	log := logger.WithComponent("trader")
	return &Trader{
		ex:       ex,
		strategy: strat,
		executor: executor,
		monitor:  monitor,
		notifier: notifier,
		journal:  newJournal(store, log),
		cfg:      cfg,
		log:      log,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Run обрабатывает сигналы из канала до отмены ctx
func (t *Trader) Run(ctx context.Context, signals <-chan models.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if _, err := t.HandleSignal(ctx, sig); err != nil {
				t.log.Warn("signal dropped", utils.Symbol(sig.Symbol), utils.Err(err))
			}
		}
	}
}

// HandleSignal решение по сигналу и вход
//
// Ошибка возвращается только для невалидного сигнала. Отказы фильтров,
// лимиты и сбои входа фиксируются в SignalEvent.
func (t *Trader) HandleSignal(ctx context.Context, sig models.Signal) (models.SignalEvent, error) {
	if err := sig.Validate(); err != nil {
		return models.SignalEvent{}, err
	}
	sig.Symbol = utils.NormalizeSymbol(sig.Symbol)
	now := t.now()
	if sig.Timestamp.IsZero() {
		sig.Timestamp = now
	}

	ev := models.SignalEvent{
		Symbol:      sig.Symbol,
		Ratio:       sig.Ratio,
		SignalPrice: sig.Price,
		SignalTime:  sig.Timestamp,
		CreatedAt:   now,
	}

	if t.monitor.IsTracked(sig.Symbol) {
		return t.finish(ctx, ev, models.DecisionSkipped, "position already tracked"), nil
	}
	if !t.acquire(sig.Symbol) {
		return t.finish(ctx, ev, models.DecisionSkipped, "entry decision in flight"), nil
	}
	defer t.release(sig.Symbol)

	if reason := t.capacityReason(now); reason != "" {
		return t.finish(ctx, ev, models.DecisionSkipped, reason), nil
	}

	ev.EntryPrice = t.currentPrice(ctx, sig)
	decision, err := t.strategy.FilterEntry(ctx, sig, ev.EntryPrice, now)
	if err != nil {
		return t.finish(ctx, ev, models.DecisionSkipped, "filter error: "+err.Error()), nil
	}
	ev.Metrics = decision.Metrics
	if !decision.Accept {
		reason := decision.RejectReason
		if decision.RejectedBy != "" {
			reason = decision.RejectedBy + ": " + reason
		}
		return t.finish(ctx, ev, models.DecisionRejected, reason), nil
	}

	return t.enter(ctx, sig, decision, ev)
}

// enter проверка лимитов и entry под глобальным мьютексом
func (t *Trader) enter(ctx context.Context, sig models.Signal, decision strategy.EntryDecision, ev models.SignalEvent) (models.SignalEvent, error) {
	t.entryMu.Lock()
	defer t.entryMu.Unlock()

	now := t.now()
	if reason := t.limitReason(ctx, now); reason != "" {
		return t.finish(ctx, ev, models.DecisionSkipped, reason), nil
	}
	if t.monitor.IsTracked(sig.Symbol) {
		return t.finish(ctx, ev, models.DecisionSkipped, "position already tracked"), nil
	}

	if err := t.ex.SetLeverage(ctx, sig.Symbol, t.cfg.Leverage); err != nil {
		t.log.Warn("set leverage failed, using account setting",
			utils.Symbol(sig.Symbol), utils.Int("leverage", t.cfg.Leverage), utils.Err(err))
	}

	pos, err := t.executor.OpenPosition(ctx, sig, decision)
	if err != nil {
		return t.finish(ctx, ev, models.DecisionSkipped, "entry failed: "+err.Error()), nil
	}

	if err := t.monitor.Track(pos); err != nil {
		// Ордер уже на бирже: без учёта его никто не сопровождает
		RecordCritical("track_entry")
		t.notifier.Critical(sig.Symbol, "track_entry", err)
	}
	t.entriesToday++
	t.journal.event(ctx, pos, models.EventEntrySubmitted, pos.EntryOrderID, pos.LimitPrice,
		map[string]interface{}{"tp_pct": pos.CurrentTPPct, "sl_pct": pos.SLPct})

	return t.finish(ctx, ev, models.DecisionAccepted, ""), nil
}

func (t *Trader) finish(ctx context.Context, ev models.SignalEvent, decision, reason string) models.SignalEvent {
	ev.Decision = decision
	ev.Reason = reason
	RecordSignal(decision)
	t.log.Info("signal processed",
		utils.Symbol(ev.Symbol),
		utils.String("decision", decision),
		utils.Reason(reason),
		utils.Float64("ratio", ev.Ratio),
		utils.Price(ev.SignalPrice))
	t.journal.signal(ctx, &ev)
	return ev
}

// currentPrice mark price на момент решения, иначе цена сигнала
func (t *Trader) currentPrice(ctx context.Context, sig models.Signal) float64 {
	idx, err := t.ex.GetPremiumIndex(ctx, sig.Symbol)
	if err != nil || idx == nil || idx.MarkPrice <= 0 {
		return sig.Price
	}
	return idx.MarkPrice
}

func (t *Trader) acquire(symbol string) bool {
	t.inflightMu.Lock()
	defer t.inflightMu.Unlock()
	if _, busy := t.inflight[symbol]; busy {
		return false
	}
	t.inflight[symbol] = struct{}{}
	return true
}

func (t *Trader) release(symbol string) {
	t.inflightMu.Lock()
	delete(t.inflight, symbol)
	t.inflightMu.Unlock()
}

// ============================================================
// Лимиты
// ============================================================

// rollDay сброс счётчика входов на новом UTC дне. Вызывать под entryMu.
func (t *Trader) rollDay(now time.Time) {
	if !utils.SameUTCDay(t.day, now) {
		t.day = utils.GetDayStartFrom(now)
		t.entriesToday = 0
	}
}

// capacityReason быстрая проверка до фильтров
func (t *Trader) capacityReason(now time.Time) string {
	t.entryMu.Lock()
	defer t.entryMu.Unlock()
	t.rollDay(now)
	return t.countReason()
}

func (t *Trader) countReason() string {
	if t.cfg.MaxPositions > 0 && t.monitor.Count() >= t.cfg.MaxPositions {
		return fmt.Sprintf("max positions reached (%d)", t.cfg.MaxPositions)
	}
	if t.cfg.MaxEntriesPerDay > 0 && t.entriesToday >= t.cfg.MaxEntriesPerDay {
		return fmt.Sprintf("max entries per day reached (%d)", t.cfg.MaxEntriesPerDay)
	}
	return ""
}

// limitReason полная проверка под entryMu
func (t *Trader) limitReason(ctx context.Context, now time.Time) string {
	t.rollDay(now)
	if reason := t.countReason(); reason != "" {
		return reason
	}
	if t.cfg.DailyLossLimitUSDT <= 0 {
		return ""
	}
	pnl, err := t.ex.GetDailyRealizedPnL(ctx, now)
	if err != nil {
		// Без подтверждённого PnL не входим
		return "daily pnl unavailable: " + err.Error()
	}
	if pnl <= -t.cfg.DailyLossLimitUSDT {
		return fmt.Sprintf("daily loss limit reached (%.2f <= -%.2f)", pnl, t.cfg.DailyLossLimitUSDT)
	}
	return ""
}

// EntriesToday количество входов за текущий UTC день
func (t *Trader) EntriesToday() int {
	t.entryMu.Lock()
	defer t.entryMu.Unlock()
	t.rollDay(t.now())
	return t.entriesToday
}

// ============================================================
// Дневная сводка
// ============================================================

// Summary сводка за UTC день, которому принадлежит day
func (t *Trader) Summary(ctx context.Context, day time.Time) (models.DailySummary, error) {
	summary := models.DailySummary{
		Date:          utils.GetDayStartFrom(day),
		OpenPositions: t.monitor.Count(),
	}

	bal, err := t.ex.GetBalance(ctx)
	if err != nil {
		return summary, fmt.Errorf("summary balance: %w", err)
	}
	summary.Balance = bal.Total
	summary.Available = bal.Available

	pnl, err := t.ex.GetDailyRealizedPnL(ctx, day)
	if err != nil {
		return summary, fmt.Errorf("summary pnl: %w", err)
	}
	summary.RealizedPnl = pnl

	t.entryMu.Lock()
	if utils.SameUTCDay(t.day, day) {
		summary.EntriesToday = t.entriesToday
	}
	t.entryMu.Unlock()
	return summary, nil
}

// RunDailySummary отправляет сводку за прошедший день после смены UTC дня
func (t *Trader) RunDailySummary(ctx context.Context, check time.Duration) error {
	if check <= 0 {
		check = time.Minute
	}
	ticker := time.NewTicker(check)
	defer ticker.Stop()

	last := t.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := t.now()
			if utils.SameUTCDay(last, now) {
				continue
			}
			summary, err := t.Summary(ctx, last)
			if err != nil {
				t.log.Warn("daily summary incomplete", utils.Err(err))
			}
			t.notifier.DailySummary(summary)
			last = now
		}
	}
}
