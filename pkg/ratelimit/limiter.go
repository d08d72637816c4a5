package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WeightLimiter - token bucket по "весу" запросов
//
// Биржа считает не количество запросов, а их суммарный вес за минуту
// (exchangeInfo = 1, klines до 10, и т.д.). Ведро вмещает capacity
// единиц веса и пополняется равномерно за window.
//
// Кроме локального учёта, limiter принимает фактическое значение
// использованного веса из заголовка ответа (X-MBX-USED-WEIGHT-1M) и
// подстраивается под него: если биржа видит больше, чем мы насчитали
// (другой процесс на том же IP), свободных токенов становится меньше.
//
// Использование:
//
//	l := NewWeightLimiter(2400, time.Minute)
//	if err := l.Wait(ctx, 5); err != nil { return err }
//	resp := do(req)
//	l.Observe(usedWeightFromHeader(resp))
type WeightLimiter struct {
	capacity   float64
	perSecond  float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewWeightLimiter создаёт limiter с ёмкостью capacity за окно window
func NewWeightLimiter(capacity int, window time.Duration) *WeightLimiter {
	if capacity <= 0 {
		capacity = 2400
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &WeightLimiter{
		capacity:  float64(capacity),
		perSecond: float64(capacity) / window.Seconds(),
		tokens:    float64(capacity),
		now:       time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// refill пополняет токены; вызывается под lock'ом
func (l *WeightLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.perSecond
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
	}
	l.lastRefill = now
}

// Wait блокирует до получения weight токенов или отмены контекста
//
// Вес больше ёмкости ограничивается ёмкостью, иначе ожидание было бы вечным.
func (l *WeightLimiter) Wait(ctx context.Context, weight int) error {
	if weight <= 0 {
		return nil
	}
	need := float64(weight)
	if need > l.capacity {
		need = l.capacity
	}

	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= need {
			l.tokens -= need
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((need - l.tokens) / l.perSecond * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает weight токенов без ожидания
func (l *WeightLimiter) Allow(weight int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= float64(weight) {
		l.tokens -= float64(weight)
		return true
	}
	return false
}

// Observe учитывает вес, о котором сообщила биржа
//
// Токены не могут превышать capacity - used. Значения <= 0 игнорируются.
func (l *WeightLimiter) Observe(used int) {
	if used <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	remaining := l.capacity - float64(used)
	if remaining < 0 {
		remaining = 0
	}
	if l.tokens > remaining {
		l.tokens = remaining
	}
}

// Available текущее количество свободных токенов
func (l *WeightLimiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}
