package bot

import (
	"context"
	"time"

	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

// journal обёртка над Store: ошибки записи только логируются
type journal struct {
	store Store
	log   *utils.Logger
	now   func() time.Time
}

func newJournal(store Store, logger *utils.Logger) *journal {
	return &journal{store: store, log: logger, now: time.Now}
}

func (j *journal) event(ctx context.Context, pos *models.TrackedPosition, event string, orderID int64, price float64, details map[string]interface{}) {
	if j == nil || j.store == nil {
		return
	}
	ev := &models.PositionEvent{
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Event:     event,
		State:     pos.State,
		OrderID:   orderID,
		Price:     price,
		Quantity:  pos.ProtectQty(),
		Details:   details,
		CreatedAt: j.now().UTC(),
	}
	if err := j.store.SavePositionEvent(ctx, ev); err != nil {
		j.log.Warn("position event not saved",
			utils.Symbol(pos.Symbol), utils.String("event", event), utils.Err(err))
	}
}

func (j *journal) trade(ctx context.Context, pos *models.TrackedPosition, exitPrice float64) {
	if j == nil || j.store == nil {
		return
	}
	qty := pos.ProtectQty()
	pnl := utils.CalculatePNL(pos.Side, pos.EntryPrice, exitPrice, qty)
	var pnlPct float64
	if margin := pos.EntryPrice * qty / float64(max(pos.Leverage, 1)); margin > 0 {
		pnlPct = pnl / margin * 100
	}
	rec := &models.TradeRecord{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    qty,
		Leverage:    pos.Leverage,
		PnlUSDT:     pnl,
		PnlPct:      pnlPct,
		CloseReason: pos.CloseReason,
		Strength:    pos.Strength,
		TPPct:       pos.CurrentTPPct,
		OpenedAt:    pos.EntryFillTime,
		ClosedAt:    pos.ClosedAt,
	}
	if err := j.store.SaveTrade(ctx, rec); err != nil {
		j.log.Warn("trade not saved", utils.Symbol(pos.Symbol), utils.Err(err))
	}
}

func (j *journal) signal(ctx context.Context, ev *models.SignalEvent) {
	if j == nil || j.store == nil {
		return
	}
	if err := j.store.SaveSignalEvent(ctx, ev); err != nil {
		j.log.Warn("signal event not saved", utils.Symbol(ev.Symbol), utils.Err(err))
	}
}
