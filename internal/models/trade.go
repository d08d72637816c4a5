package models

import "time"

// PositionEvent переход позиции в журнале (position_events)
type PositionEvent struct {
	ID        int64                  `json:"id" db:"id"`
	Symbol    string                 `json:"symbol" db:"symbol"`
	Side      string                 `json:"side" db:"side"`
	Event     string                 `json:"event" db:"event"` // entry_submitted, filled, protected, ...
	State     PositionState          `json:"state" db:"state"`
	OrderID   int64                  `json:"order_id,omitempty" db:"order_id"`
	Price     float64                `json:"price,omitempty" db:"price"`
	Quantity  float64                `json:"quantity,omitempty" db:"quantity"`
	Details   map[string]interface{} `json:"details,omitempty" db:"details"` // JSON в БД
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// События журнала позиций
const (
	EventEntrySubmitted = "entry_submitted"
	EventEntryFilled    = "entry_filled"
	EventEntryCanceled  = "entry_canceled"
	EventProtected      = "protected"
	EventEvaluated      = "evaluated"
	EventTPAdjusted     = "tp_adjusted"
	EventReplaced       = "replaced"
	EventClosed         = "closed"
	EventCloseFailed    = "close_failed"
	EventRecovered      = "recovered"
)

// TradeRecord итог сделки (trades)
type TradeRecord struct {
	ID          int64       `json:"id" db:"id"`
	Symbol      string      `json:"symbol" db:"symbol"`
	Side        string      `json:"side" db:"side"`
	EntryPrice  float64     `json:"entry_price" db:"entry_price"`
	ExitPrice   float64     `json:"exit_price" db:"exit_price"`
	Quantity    float64     `json:"quantity" db:"quantity"`
	Leverage    int         `json:"leverage" db:"leverage"`
	PnlUSDT     float64     `json:"pnl_usdt" db:"pnl_usdt"`
	PnlPct      float64     `json:"pnl_pct" db:"pnl_pct"`
	CloseReason CloseReason `json:"close_reason" db:"close_reason"`
	Strength    Strength    `json:"strength" db:"strength"`
	TPPct       float64     `json:"tp_pct" db:"tp_pct"`
	OpenedAt    time.Time   `json:"opened_at" db:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at" db:"closed_at"`
}

// DailySummary дневная сводка для уведомления и /api/summary
type DailySummary struct {
	Date          time.Time `json:"date"`
	Balance       float64   `json:"balance"`
	Available     float64   `json:"available"`
	RealizedPnl   float64   `json:"realized_pnl"`
	OpenPositions int       `json:"open_positions"`
	EntriesToday  int       `json:"entries_today"`
}
