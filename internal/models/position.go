package models

import (
	"strconv"
	"time"
)

// PositionState состояние позиции в жизненном цикле
type PositionState string

// Состояния позиции (state machine)
const (
	StatePending   PositionState = "PENDING"   // entry ордер выставлен, ждём исполнения
	StateFilled    PositionState = "FILLED"    // entry исполнен, защиты ещё нет
	StateProtected PositionState = "PROTECTED" // TP и SL выставлены
	StateAdjusted  PositionState = "ADJUSTED"  // TP перевыставлен после оценки
	StateClosed    PositionState = "CLOSED"    // терминальное состояние
)

// Strength сила монеты по результатам оценки
type Strength string

const (
	StrengthUnknown Strength = "unknown"
	StrengthWeak    Strength = "weak"
	StrengthMedium  Strength = "medium"
	StrengthStrong  Strength = "strong"
)

// CloseReason причина закрытия позиции
type CloseReason string

const (
	CloseTPTriggered CloseReason = "tp_triggered"
	CloseSLTriggered CloseReason = "sl_triggered"
	CloseTimedOut    CloseReason = "timed_out"
	CloseForced      CloseReason = "force_closed"
)

// Checkpoint контрольная точка оценки позиции
type Checkpoint int

const (
	CheckpointNone Checkpoint = iota
	Checkpoint2h
	Checkpoint12h
)

// TrackedPosition отслеживаемая позиция по одному символу
//
// Создаётся и изменяется только монитором и исполнителем ордеров.
// Инвариант защиты: Protected() == true тогда и только тогда, когда
// выставлены оба условных ордера (TP и SL).
type TrackedPosition struct {
	// Идентификация
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"` // LONG, SHORT
	EntryOrderID int64   `json:"entry_order_id"`
	ClientPrefix string  `json:"client_prefix"`
	Quantity     float64 `json:"quantity"` // запрошенный объём
	Leverage     int     `json:"leverage"`
	LimitPrice   float64 `json:"limit_price"`

	// Сигнал
	SignalPrice float64   `json:"signal_price"`
	SignalRatio float64   `json:"signal_ratio"`
	SignalTime  time.Time `json:"signal_time"`

	// Исполнение entry
	EntryFilled   bool      `json:"entry_filled"`
	EntryPrice    float64   `json:"entry_price"`
	EntryFillTime time.Time `json:"entry_fill_time"`
	FilledQty     float64   `json:"filled_qty"`

	// Защита
	TPOrderID int64   `json:"tp_order_id,omitempty"`
	SLOrderID int64   `json:"sl_order_id,omitempty"`
	TPPrice   float64 `json:"tp_price,omitempty"`
	SLPrice   float64 `json:"sl_price,omitempty"`
	// Номера перевыставлений, входят в client id нового ордера
	TPRevision int `json:"tp_revision"`
	SLRevision int `json:"sl_revision"`

	// Оценка
	CurrentTPPct   float64  `json:"current_tp_pct"`
	SLPct          float64  `json:"sl_pct"`
	EvaluatedAt2h  bool     `json:"evaluated_2h"`
	EvaluatedAt12h bool     `json:"evaluated_12h"`
	Strength       Strength `json:"strength"`

	// Состояние
	State       PositionState `json:"state"`
	Closed      bool          `json:"closed"`
	CloseReason CloseReason   `json:"close_reason,omitempty"`
	ClosedAt    time.Time     `json:"closed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Recovered   bool          `json:"recovered"` // восстановлена с биржи после рестарта
}

// Protected оба защитных ордера выставлены
func (p *TrackedPosition) Protected() bool {
	return p.TPOrderID != 0 && p.SLOrderID != 0
}

// SetProtection записывает оба защитных ордера сразу
func (p *TrackedPosition) SetProtection(tpID int64, tpPrice float64, slID int64, slPrice float64) {
	if tpID == 0 || slID == 0 {
		p.ClearProtection()
		return
	}
	p.TPOrderID, p.TPPrice = tpID, tpPrice
	p.SLOrderID, p.SLPrice = slID, slPrice
}

// ClearProtection сбрасывает оба защитных ордера
func (p *TrackedPosition) ClearProtection() {
	p.TPOrderID, p.SLOrderID = 0, 0
}

// MarkFilled фиксирует исполнение entry ордера
func (p *TrackedPosition) MarkFilled(price, qty float64, at time.Time) {
	p.EntryFilled = true
	p.EntryPrice = price
	p.FilledQty = qty
	p.EntryFillTime = at
}

// MarkClosed переводит позицию в терминальное состояние
func (p *TrackedPosition) MarkClosed(reason CloseReason, at time.Time) {
	p.Closed = true
	p.CloseReason = reason
	p.ClosedAt = at
	p.State = StateClosed
}

// MarkEvaluated отмечает пройденную контрольную точку
func (p *TrackedPosition) MarkEvaluated(cp Checkpoint) {
	switch cp {
	case Checkpoint2h:
		p.EvaluatedAt2h = true
	case Checkpoint12h:
		p.EvaluatedAt2h = true
		p.EvaluatedAt12h = true
	}
}

// HoldTime время удержания от исполнения entry (или от создания)
func (p *TrackedPosition) HoldTime(now time.Time) time.Duration {
	start := p.EntryFillTime
	if start.IsZero() {
		start = p.CreatedAt
	}
	if start.IsZero() {
		return 0
	}
	return now.Sub(start)
}

// ProtectQty объём для защитных ордеров: подтверждённый, иначе запрошенный
func (p *TrackedPosition) ProtectQty() float64 {
	if p.FilledQty > 0 {
		return p.FilledQty
	}
	return p.Quantity
}

// ============ Client order ids ============

// EntryClientID client id entry ордера
func (p *TrackedPosition) EntryClientID() string {
	return p.ClientPrefix + "_entry"
}

// TPClientID client id take-profit ордера с учётом перевыставлений
func (p *TrackedPosition) TPClientID() string {
	if p.TPRevision > 0 {
		return "tp_" + p.ClientPrefix + "_r" + strconv.Itoa(p.TPRevision)
	}
	return "tp_" + p.ClientPrefix
}

// SLClientID client id stop-loss ордера
func (p *TrackedPosition) SLClientID() string {
	if p.SLRevision > 0 {
		return "sl_" + p.ClientPrefix + "_r" + strconv.Itoa(p.SLRevision)
	}
	return "sl_" + p.ClientPrefix
}

// Snapshot копия для чтения вне монитора
func (p *TrackedPosition) Snapshot() TrackedPosition {
	return *p
}
