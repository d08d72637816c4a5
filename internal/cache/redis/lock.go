package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"surgetrader/pkg/utils"
)

// ErrLockHeld блокировку держит другой экземпляр
var ErrLockHeld = errors.New("instance lock held by another process")

// ErrLockLost блокировка истекла или перехвачена
var ErrLockLost = errors.New("instance lock lost")

// снять ключ, только если значение совпадает с нашим токеном
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// продлить ключ, только если он всё ещё наш
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// InstanceLock эксклюзивная блокировка аккаунта (SET NX PX + токен)
type InstanceLock struct {
	rdb      *redis.Client
	key      string
	token    string
	ttl      time.Duration
	unlockSc *redis.Script
	refresh  *redis.Script
	log      *utils.Logger

	mu       sync.Mutex
	acquired bool
}

// NewInstanceLock блокировка на ключ lock:<name>
func NewInstanceLock(c *Client, name string, ttl time.Duration, logger *utils.Logger) *InstanceLock {
	if logger == nil {
		logger = utils.L()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InstanceLock{
		rdb:      c.rdb,
		key:      "lock:" + name,
		token:    uuid.New().String(),
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
		refresh:  redis.NewScript(refreshLua),
		log:      logger.WithComponent("instance_lock"),
	}
}

// Acquire захватывает блокировку или возвращает ErrLockHeld
func (l *InstanceLock) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockHeld
	}

	l.mu.Lock()
	l.acquired = true
	l.mu.Unlock()

	l.log.Info("instance lock acquired", utils.String("key", l.key), utils.String("token", l.token))
	return nil
}

// Keep продлевает блокировку каждые ttl/3 до отмены ctx.
// Возвращает ErrLockLost, если ключ исчез или принадлежит другому.
func (l *InstanceLock) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := l.refresh.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// сеть: пробуем снова на следующем тике, ключ ещё живёт
				l.log.Warn("instance lock refresh failed", utils.Err(err))
				continue
			}
			if res == 0 {
				l.log.Error("instance lock lost", utils.String("key", l.key))
				return ErrLockLost
			}
		}
	}
}

// Release снимает блокировку (повторный вызов безопасен)
func (l *InstanceLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.acquired {
		return
	}
	l.acquired = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.unlockSc.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		l.log.Warn("instance lock release failed", utils.Err(err))
		return
	}
	l.log.Info("instance lock released", utils.String("key", l.key))
}
