package exchange

import (
	"sync"
	"time"
)

// BanGuard отметка "заблокирован до" для одного клиента
//
// Устанавливается только ответом бана и проверяется перед каждым
// запросом. Время разбана только продлевается: более ранний ответ
// не сокращает уже известное окно.
type BanGuard struct {
	mu    sync.RWMutex
	until time.Time
	now   func() time.Time
}

// NewBanGuard создаёт guard с системными часами
func NewBanGuard() *BanGuard {
	return &BanGuard{now: time.Now}
}

// Set фиксирует окно бана
func (g *BanGuard) Set(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.until) {
		g.until = until
	}
}

// Check возвращает *RateLimitBanError, если окно ещё активно
func (g *BanGuard) Check() error {
	g.mu.RLock()
	until := g.until
	g.mu.RUnlock()

	if g.now().Before(until) {
		return &RateLimitBanError{
			Until:   until,
			Message: "request blocked locally, " + until.Sub(g.now()).Round(time.Second).String() + " remaining",
		}
	}
	return nil
}

// Until время окончания бана (нулевое, если бана не было)
func (g *BanGuard) Until() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.until
}

// Active бан действует сейчас
func (g *BanGuard) Active() bool {
	return g.Check() != nil
}
