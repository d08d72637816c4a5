package bot

import "surgetrader/internal/models"

// ValidTransitions допустимые переходы жизненного цикла позиции
var ValidTransitions = map[models.PositionState][]models.PositionState{
	models.StatePending:   {models.StateFilled, models.StateClosed},
	models.StateFilled:    {models.StateProtected, models.StateClosed},
	models.StateProtected: {models.StateAdjusted, models.StateFilled, models.StateClosed}, // Filled при потере защиты
	models.StateAdjusted:  {models.StateFilled, models.StateClosed},
	models.StateClosed:    {}, // терминальное
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.PositionState) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo описание состояния для API
func StateInfo(s models.PositionState) string {
	switch s {
	case models.StatePending:
		return "Entry order placed, waiting for fill"
	case models.StateFilled:
		return "Entry filled, protection pending"
	case models.StateProtected:
		return "Take-profit and stop-loss placed"
	case models.StateAdjusted:
		return "Take-profit adjusted after evaluation"
	case models.StateClosed:
		return "Position closed"
	default:
		return "Unknown state"
	}
}

// IsActive позиция ещё требует сопровождения
func IsActive(s models.PositionState) bool {
	return s != models.StateClosed && s != ""
}

// HasProtection состояние предполагает выставленные TP и SL
func HasProtection(s models.PositionState) bool {
	return s == models.StateProtected || s == models.StateAdjusted
}

// transition меняет состояние позиции, недопустимый переход отклоняется
func transition(pos *models.TrackedPosition, to models.PositionState) bool {
	if pos.State == to {
		return true
	}
	if !CanTransition(pos.State, to) {
		return false
	}
	pos.State = to
	return true
}
