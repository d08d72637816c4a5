package repository

import (
	"context"
	"database/sql"

	"surgetrader/internal/models"
)

// Store журнал бота поверх трёх репозиториев (реализует bot.Store)
type Store struct {
	Events  *PositionEventRepository
	Trades  *TradeRepository
	Signals *SignalEventRepository
}

// NewStore создаёт журнал на одном подключении
func NewStore(db *sql.DB) *Store {
	return &Store{
		Events:  NewPositionEventRepository(db),
		Trades:  NewTradeRepository(db),
		Signals: NewSignalEventRepository(db),
	}
}

func (s *Store) SavePositionEvent(ctx context.Context, ev *models.PositionEvent) error {
	return s.Events.Create(ctx, ev)
}

func (s *Store) SaveTrade(ctx context.Context, t *models.TradeRecord) error {
	return s.Trades.Create(ctx, t)
}

func (s *Store) SaveSignalEvent(ctx context.Context, ev *models.SignalEvent) error {
	return s.Signals.Create(ctx, ev)
}
