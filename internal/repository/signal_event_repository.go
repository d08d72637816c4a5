package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"surgetrader/internal/models"
)

// SignalEventRepository решения по сигналам (signal_events)
type SignalEventRepository struct {
	db *sql.DB
}

// NewSignalEventRepository создает новый экземпляр репозитория
func NewSignalEventRepository(db *sql.DB) *SignalEventRepository {
	return &SignalEventRepository{db: db}
}

// Create записывает решение по сигналу вместе с метриками фильтров
func (r *SignalEventRepository) Create(ctx context.Context, ev *models.SignalEvent) error {
	query := `
		INSERT INTO signal_events (symbol, ratio, signal_price, entry_price, decision, reason, metrics, signal_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	metrics, err := encodeJSON(ev.Metrics)
	if err != nil {
		return fmt.Errorf("encode signal metrics: %w", err)
	}

	return r.db.QueryRowContext(ctx, query,
		ev.Symbol,
		ev.Ratio,
		ev.SignalPrice,
		ev.EntryPrice,
		ev.Decision,
		ev.Reason,
		metrics,
		ev.SignalTime,
		ev.CreatedAt,
	).Scan(&ev.ID)
}

// GetRecent последние N решений
func (r *SignalEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.SignalEvent, error) {
	query := `
		SELECT id, symbol, ratio, signal_price, entry_price, decision, reason, metrics, signal_time, created_at
		FROM signal_events
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.SignalEvent
	for rows.Next() {
		ev := &models.SignalEvent{}
		var metrics []byte
		if err := rows.Scan(
			&ev.ID,
			&ev.Symbol,
			&ev.Ratio,
			&ev.SignalPrice,
			&ev.EntryPrice,
			&ev.Decision,
			&ev.Reason,
			&metrics,
			&ev.SignalTime,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		if ev.Metrics, err = decodeJSON(metrics); err != nil {
			return nil, fmt.Errorf("decode signal metrics: %w", err)
		}
		events = append(events, ev)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
