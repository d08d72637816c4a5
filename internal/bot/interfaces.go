package bot

import (
	"context"

	"surgetrader/internal/models"
)

// Notifier уведомления о событиях позиций
//
// Все методы fire-and-forget: ошибки доставки остаются внутри
// реализации. Critical пытается доставить алерт по всем каналам
// независимо друг от друга.
type Notifier interface {
	EntrySubmitted(pos models.TrackedPosition)
	EntryFilled(pos models.TrackedPosition)
	ProtectionPlaced(pos models.TrackedPosition)
	TPTriggered(pos models.TrackedPosition)
	SLTriggered(pos models.TrackedPosition)
	TimedOut(pos models.TrackedPosition)
	ForceClosed(pos models.TrackedPosition)
	Replaced(pos models.TrackedPosition, kind string)
	DuplicatesSwept(symbol string, canceled int)
	TPAdjusted(pos models.TrackedPosition, oldPct, newPct float64)
	Recovered(pos models.TrackedPosition)
	DailySummary(summary models.DailySummary)
	Critical(symbol, action string, err error)
}

// Store журнал событий (append-only)
//
// Недоступность хранилища не останавливает торговлю.
type Store interface {
	SavePositionEvent(ctx context.Context, ev *models.PositionEvent) error
	SaveTrade(ctx context.Context, trade *models.TradeRecord) error
	SaveSignalEvent(ctx context.Context, ev *models.SignalEvent) error
}

// nopNotifier заглушка, когда каналы уведомлений не настроены
type nopNotifier struct{}

func (nopNotifier) EntrySubmitted(models.TrackedPosition)               {}
func (nopNotifier) EntryFilled(models.TrackedPosition)                  {}
func (nopNotifier) ProtectionPlaced(models.TrackedPosition)             {}
func (nopNotifier) TPTriggered(models.TrackedPosition)                  {}
func (nopNotifier) SLTriggered(models.TrackedPosition)                  {}
func (nopNotifier) TimedOut(models.TrackedPosition)                     {}
func (nopNotifier) ForceClosed(models.TrackedPosition)                  {}
func (nopNotifier) Replaced(models.TrackedPosition, string)             {}
func (nopNotifier) DuplicatesSwept(string, int)                         {}
func (nopNotifier) TPAdjusted(models.TrackedPosition, float64, float64) {}
func (nopNotifier) Recovered(models.TrackedPosition)                    {}
func (nopNotifier) DailySummary(models.DailySummary)                    {}
func (nopNotifier) Critical(string, string, error)                      {}
