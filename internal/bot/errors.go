package bot

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyTracked по символу уже есть активная позиция
	ErrAlreadyTracked = errors.New("position already tracked")

	// ErrNotTracked позиция по символу не сопровождается
	ErrNotTracked = errors.New("position not tracked")

	// ErrQuantityTooSmall объём после округления меньше минимального
	ErrQuantityTooSmall = errors.New("quantity below exchange minimum")

	// ErrProtectionIncomplete выставлен только один из защитных ордеров
	ErrProtectionIncomplete = errors.New("protection incomplete")

	// ErrTakeProfitRestored новый TP не выставлен, прежний восстановлен
	ErrTakeProfitRestored = errors.New("take-profit replacement failed, previous restored")

	// ErrCloseFailed все пути принудительного закрытия исчерпаны
	ErrCloseFailed = errors.New("forced close failed")
)

// ReconciliationMismatch состояние биржи противоречит учёту
type ReconciliationMismatch struct {
	Symbol   string
	Expected string
	Actual   string
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("reconciliation mismatch for %s: expected %s, exchange reports %s",
		e.Symbol, e.Expected, e.Actual)
}
