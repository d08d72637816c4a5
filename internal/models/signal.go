package models

import (
	"errors"
	"strings"
	"time"
)

// Signal входящий сигнал от детектора
type Signal struct {
	Symbol    string    `json:"symbol"`
	Ratio     float64   `json:"ratio"` // кратность всплеска объёма продаж
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"` // redis, api
}

var (
	ErrSignalSymbol = errors.New("signal symbol is required")
	ErrSignalPrice  = errors.New("signal price must be positive")
)

// Validate минимальная проверка сигнала перед обработкой
func (s *Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return ErrSignalSymbol
	}
	if s.Price <= 0 {
		return ErrSignalPrice
	}
	return nil
}

// Решения по сигналу
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
	DecisionSkipped  = "skipped" // лимиты, дубликат, ошибка входа
)

// SignalEvent запись о решении по сигналу (signal_events)
type SignalEvent struct {
	ID          int64                  `json:"id" db:"id"`
	Symbol      string                 `json:"symbol" db:"symbol"`
	Ratio       float64                `json:"ratio" db:"ratio"`
	SignalPrice float64                `json:"signal_price" db:"signal_price"`
	EntryPrice  float64                `json:"entry_price" db:"entry_price"`
	Decision    string                 `json:"decision" db:"decision"`
	Reason      string                 `json:"reason,omitempty" db:"reason"`
	Metrics     map[string]interface{} `json:"metrics,omitempty" db:"metrics"` // JSON в БД
	SignalTime  time.Time              `json:"signal_time" db:"signal_time"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}
