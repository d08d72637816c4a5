package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"surgetrader/internal/models"
)

// PositionEventRepository журнал переходов позиций (position_events)
type PositionEventRepository struct {
	db *sql.DB
}

// NewPositionEventRepository создает новый экземпляр репозитория
func NewPositionEventRepository(db *sql.DB) *PositionEventRepository {
	return &PositionEventRepository{db: db}
}

// Create добавляет событие
func (r *PositionEventRepository) Create(ctx context.Context, ev *models.PositionEvent) error {
	query := `
		INSERT INTO position_events (symbol, side, event, state, order_id, price, quantity, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	details, err := encodeJSON(ev.Details)
	if err != nil {
		return fmt.Errorf("encode event details: %w", err)
	}

	return r.db.QueryRowContext(ctx, query,
		ev.Symbol,
		ev.Side,
		ev.Event,
		string(ev.State),
		ev.OrderID,
		ev.Price,
		ev.Quantity,
		details,
		ev.CreatedAt,
	).Scan(&ev.ID)
}

// GetBySymbol последние события символа, новые первыми
func (r *PositionEventRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.PositionEvent, error) {
	query := `
		SELECT id, symbol, side, event, state, order_id, price, quantity, details, created_at
		FROM position_events
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.PositionEvent
	for rows.Next() {
		ev := &models.PositionEvent{}
		var state string
		var details []byte
		if err := rows.Scan(
			&ev.ID,
			&ev.Symbol,
			&ev.Side,
			&ev.Event,
			&state,
			&ev.OrderID,
			&ev.Price,
			&ev.Quantity,
			&details,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.State = models.PositionState(state)
		if ev.Details, err = decodeJSON(details); err != nil {
			return nil, fmt.Errorf("decode event details: %w", err)
		}
		events = append(events, ev)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
