// Package notify доставка событий позиций операторам.
//
// Service реализует bot.Notifier: каждое событие превращается в
// models.Notification и отправляется во все каналы (Telegram, email,
// WebSocket hub, лог). Каналы независимы, ошибка одного не мешает
// остальным и никогда не возвращается вызывающему.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"surgetrader/internal/bot"
	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

// Sender канал доставки
type Sender interface {
	Send(ctx context.Context, n *models.Notification) error
	Name() string
}

// Config параметры доставки
type Config struct {
	SendTimeout time.Duration // таймаут одной отправки (default 10s)
}

// Service рассылает уведомления во все каналы
type Service struct {
	senders []Sender
	cfg     Config
	log     *utils.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewService создаёт рассылку; без каналов уведомления только логируются
func NewService(senders []Sender, cfg Config, logger *utils.Logger) *Service {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Service{
		senders: senders,
		cfg:     cfg,
		log:     logger.WithComponent("notify"),
		now:     time.Now,
	}
}

// Notify отправляет уведомление во все каналы без ожидания
func (s *Service) Notify(n *models.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	if n.Severity == "" {
		n.Severity = models.SeverityFor(n.Type)
	}

	for _, sender := range s.senders {
		s.wg.Add(1)
		go func(sender Sender) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("notification sender panic",
						utils.String("sender", sender.Name()),
						utils.String("type", n.Type),
						utils.Symbol(n.Symbol),
						utils.Any("panic", r))
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
			defer cancel()

			if err := sender.Send(ctx, n); err != nil {
				s.log.Warn("notification not delivered",
					utils.String("sender", sender.Name()),
					utils.String("type", n.Type),
					utils.Symbol(n.Symbol),
					utils.Err(err))
			}
		}(sender)
	}
}

// Wait ждёт завершения отправок (остановка приложения)
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============ bot.Notifier ============

func (s *Service) EntrySubmitted(p models.TrackedPosition) {
	s.Notify(positionNotification(models.NotificationEntrySubmitted, p,
		fmt.Sprintf("Entry submitted: %s %s %s @ %s", p.Symbol, p.Side, fmtNum(p.Quantity), fmtNum(p.LimitPrice)),
		map[string]interface{}{"order_id": p.EntryOrderID, "signal_price": p.SignalPrice, "ratio": p.SignalRatio}))
}

func (s *Service) EntryFilled(p models.TrackedPosition) {
	s.Notify(positionNotification(models.NotificationEntryFilled, p,
		fmt.Sprintf("Entry filled: %s %s %s @ %s", p.Symbol, p.Side, fmtNum(p.FilledQty), fmtNum(p.EntryPrice)), nil))
}

func (s *Service) ProtectionPlaced(p models.TrackedPosition) {
	s.Notify(positionNotification(models.NotificationProtectionPlaced, p,
		fmt.Sprintf("TP/SL placed: %s TP %s (%s%%) SL %s (%s%%)",
			p.Symbol, fmtNum(p.TPPrice), fmtNum(p.CurrentTPPct), fmtNum(p.SLPrice), fmtNum(p.SLPct)),
		map[string]interface{}{"tp_id": p.TPOrderID, "sl_id": p.SLOrderID}))
}

func (s *Service) TPTriggered(p models.TrackedPosition) {
	s.Notify(positionNotification(models.NotificationTPTriggered, p,
		fmt.Sprintf("Take-profit hit: %s %s (TP %s%%, strength %s)", p.Symbol, p.Side, fmtNum(p.CurrentTPPct), p.Strength), nil))
}

func (s *Service) SLTriggered(p models.TrackedPosition) {
	s.Notify(positionNotification(models.NotificationSLTriggered, p,
		fmt.Sprintf("Stop-loss hit: %s %s (SL %s%%)", p.Symbol, p.Side, fmtNum(p.SLPct)), nil))
}

func (s *Service) TimedOut(p models.TrackedPosition) {
	held := p.ClosedAt.Sub(p.EntryFillTime)
	s.Notify(positionNotification(models.NotificationTimedOut, p,
		fmt.Sprintf("Max hold reached: %s closed at market after %s", p.Symbol, utils.FormatDuration(held)), nil))
}

func (s *Service) ForceClosed(p models.TrackedPosition) {
	s.Notify(positionNotification(models.NotificationForceClosed, p,
		fmt.Sprintf("Position force-closed: %s %s", p.Symbol, p.Side), nil))
}

func (s *Service) Replaced(p models.TrackedPosition, kind string) {
	s.Notify(positionNotification(models.NotificationReplaced, p,
		fmt.Sprintf("%s order for %s was canceled externally and re-placed", kindLabel(kind), p.Symbol),
		map[string]interface{}{"kind": kind}))
}

func (s *Service) DuplicatesSwept(symbol string, canceled int) {
	s.Notify(&models.Notification{
		Type:    models.NotificationDuplicates,
		Symbol:  symbol,
		Message: fmt.Sprintf("Canceled %d duplicate conditional order(s) on %s", canceled, symbol),
		Meta:    map[string]interface{}{"canceled": canceled},
	})
}

func (s *Service) TPAdjusted(p models.TrackedPosition, oldPct, newPct float64) {
	s.Notify(positionNotification(models.NotificationTPAdjusted, p,
		fmt.Sprintf("Take-profit adjusted: %s %s%% -> %s%% (strength %s)", p.Symbol, fmtNum(oldPct), fmtNum(newPct), p.Strength),
		map[string]interface{}{"old_pct": oldPct, "new_pct": newPct}))
}

func (s *Service) Recovered(p models.TrackedPosition) {
	state := "unprotected"
	if p.Protected() {
		state = "protected"
	}
	s.Notify(positionNotification(models.NotificationRecovered, p,
		fmt.Sprintf("Recovered %s %s %s @ %s (%s)", p.Symbol, p.Side, fmtNum(p.FilledQty), fmtNum(p.EntryPrice), state), nil))
}

func (s *Service) DailySummary(sum models.DailySummary) {
	s.Notify(&models.Notification{
		Type: models.NotificationDailySummary,
		Message: fmt.Sprintf("Daily summary %s: balance %s USDT, realized PnL %s USDT, open %d, entries %d",
			sum.Date.Format("2006-01-02"), fmtNum(sum.Balance), fmtNum(sum.RealizedPnl), sum.OpenPositions, sum.EntriesToday),
		Meta: map[string]interface{}{
			"balance":        sum.Balance,
			"available":      sum.Available,
			"realized_pnl":   sum.RealizedPnl,
			"open_positions": sum.OpenPositions,
			"entries_today":  sum.EntriesToday,
		},
	})
}

// Critical требуется ручное вмешательство
func (s *Service) Critical(symbol, action string, err error) {
	msg := fmt.Sprintf("CRITICAL %s on %s", action, symbol)
	if err != nil {
		msg += ": " + err.Error()
	}
	s.Notify(&models.Notification{
		Type:    models.NotificationCritical,
		Symbol:  symbol,
		Message: msg,
		Meta:    map[string]interface{}{"action": action},
	})
}

var _ bot.Notifier = (*Service)(nil)
