// Package strategy политика входа и сопровождения позиции.
//
// Strategy намеренно плоский интерфейс из двух операций: решение по
// сигналу и оценка открытой позиции. Конкретная политика выбирается
// при сборке приложения.
package strategy

import (
	"context"
	"time"

	"surgetrader/internal/models"
)

// Action действие над позицией
type Action string

const (
	ActionHold     Action = "hold"
	ActionClose    Action = "close"
	ActionAdjustTP Action = "adjust_tp"
)

// EntryDecision решение по сигналу
type EntryDecision struct {
	Accept       bool
	Side         string // LONG, SHORT
	TPPct        float64
	SLPct        float64
	RejectReason string // только при Accept == false
	RejectedBy   string
	Metrics      map[string]interface{}
}

// PositionAction результат оценки позиции
type PositionAction struct {
	Action      Action
	NewTPPct    float64 // только для adjust_tp
	NewStrength models.Strength
	Reason      string
	CloseReason models.CloseReason // только для close
	// Checkpoint пройденная контрольная точка, монитор отмечает её на позиции
	Checkpoint models.Checkpoint
}

// Hold действие по умолчанию
func Hold() PositionAction {
	return PositionAction{Action: ActionHold}
}

// Strategy политика входа и сопровождения
type Strategy interface {
	FilterEntry(ctx context.Context, signal models.Signal, entryPrice float64, now time.Time) (EntryDecision, error)
	EvaluatePosition(ctx context.Context, pos *models.TrackedPosition, now time.Time) (PositionAction, error)
}
