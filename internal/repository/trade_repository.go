package repository

import (
	"context"
	"database/sql"
	"time"

	"surgetrader/internal/models"
)

// TradeRepository завершённые сделки (trades)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create записывает закрытую сделку
func (r *TradeRepository) Create(ctx context.Context, t *models.TradeRecord) error {
	query := `
		INSERT INTO trades (symbol, side, entry_price, exit_price, quantity, leverage, pnl_usdt, pnl_pct,
			close_reason, strength, tp_pct, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		t.Symbol,
		t.Side,
		t.EntryPrice,
		t.ExitPrice,
		t.Quantity,
		t.Leverage,
		t.PnlUSDT,
		t.PnlPct,
		string(t.CloseReason),
		string(t.Strength),
		t.TPPct,
		t.OpenedAt,
		t.ClosedAt,
	).Scan(&t.ID)
}

// GetRecent последние N сделок
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, quantity, leverage, pnl_usdt, pnl_pct,
			close_reason, strength, tp_pct, opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t := &models.TradeRecord{}
		var reason, strength string
		if err := rows.Scan(
			&t.ID,
			&t.Symbol,
			&t.Side,
			&t.EntryPrice,
			&t.ExitPrice,
			&t.Quantity,
			&t.Leverage,
			&t.PnlUSDT,
			&t.PnlPct,
			&reason,
			&strength,
			&t.TPPct,
			&t.OpenedAt,
			&t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.CloseReason = models.CloseReason(reason)
		t.Strength = models.Strength(strength)
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// SumPnLSince суммарный PnL сделок, закрытых после since
func (r *TradeRepository) SumPnLSince(ctx context.Context, since time.Time) (float64, int, error) {
	query := `
		SELECT COALESCE(SUM(pnl_usdt), 0), COUNT(*)
		FROM trades
		WHERE closed_at >= $1`

	var total float64
	var count int
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&total, &count); err != nil {
		return 0, 0, err
	}
	return total, count, nil
}
