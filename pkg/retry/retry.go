package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// retry.go - повторные попытки по фиксированной таблице задержек
//
// Назначение:
// Явный счётный цикл поверх таблицы задержек. Никакой экспоненты
// "на лету" и никакого jitter: последовательность задержек видна
// в конфигурации и проверяется тестами один к одному.
//
// Функции:
// - Do / DoWithResult: выполнение операции с повторами
// - ExchangeSchedule: таблица 2s, 4s, 8s, 16s, 32s для REST биржи
// - Once: одна попытка для запросов, которые нельзя повторять вслепую
// - Permanent / OnlyMarked: явная разметка ошибок
// - ExhaustedError: все попытки исчерпаны

// SleepFunc ожидает d или отмену контекста
type SleepFunc func(ctx context.Context, d time.Duration) error

// Schedule конфигурация повторов
//
// Количество попыток = len(Delays) + 1. Delays[i] - пауза после
// неудачной попытки i+1.
type Schedule struct {
	// Delays - пауза перед каждым повтором
	Delays []time.Duration

	// RetryIf - нужно ли повторять ошибку (nil = IsRetryable)
	RetryIf func(error) bool

	// OnRetry - вызывается перед паузой, удобно для логирования
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep - ожидание между попытками (nil = таймер с учётом ctx)
	Sleep SleepFunc
}

// ExchangeSchedule таблица задержек для сетевых ошибок REST
//
// 5 повторов: 2s, 4s, 8s, 16s, 32s (всего 62s). Шестая неудача - ошибка.
func ExchangeSchedule() Schedule {
	return Schedule{
		Delays: []time.Duration{
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
		},
	}
}

// Once одна попытка без повторов (неидемпотентные запросы)
func Once() Schedule {
	return Schedule{RetryIf: OnlyMarked}
}

// Attempts общее число попыток
func (s Schedule) Attempts() int {
	return len(s.Delays) + 1
}

// Total суммарное время ожидания при полном исчерпании
func (s Schedule) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Delays {
		total += d
	}
	return total
}

// ExhaustedError все попытки неудачны
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do выполняет операцию с повторами по таблице
//
// Возвращает:
//   - nil: операция успешна
//   - ошибку без обёртки: ошибка не подлежит повтору
//   - *ExhaustedError: все попытки неудачны
//   - ctx.Err(): контекст отменён во время паузы
func Do(ctx context.Context, operation func(ctx context.Context) error, s Schedule) error {
	_, err := DoWithResult(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	}, s)
	return err
}

// DoWithResult выполняет операцию с результатом и повторами
//
//	body, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
//	    return c.send(ctx, req)
//	}, retry.ExchangeSchedule())
func DoWithResult[T any](ctx context.Context, operation func(ctx context.Context) (T, error), s Schedule) (T, error) {
	var zero T

	retryIf := s.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}

	attempts := s.Attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) {
			return zero, err
		}

		// Последняя попытка - без паузы
		if attempt == attempts-1 {
			break
		}

		delay := s.Delays[attempt]
		if s.OnRetry != nil {
			s.OnRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// ContextSleep ожидает d или отмену контекста
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError ошибка, которая сама знает можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли повторять ошибку
//
// Ошибки контекста не повторяются. Ошибки с Retryable() решают сами.
// Остальные - повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// OnlyMarked повторяет только ошибки, явно помеченные как Retryable
func OnlyMarked(err error) bool {
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return false
}

// PermanentError ошибка, которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
