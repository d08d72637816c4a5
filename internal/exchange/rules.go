package exchange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"surgetrader/pkg/utils"
)

// DefaultRulesTTL время жизни кэша exchangeInfo
const DefaultRulesTTL = 4 * time.Hour

// RulesFetcher загрузка правил всех инструментов
type RulesFetcher func(ctx context.Context) (map[string]SymbolRules, error)

// RulesCache кэш правил инструментов
//
// Один запрос exchangeInfo весит 40 единиц, поэтому результат
// хранится TTL. Параллельные обновления схлопываются в один запрос.
type RulesCache struct {
	fetch RulesFetcher
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	rules     map[string]SymbolRules
	fetchedAt time.Time

	group singleflight.Group
}

// NewRulesCache создаёт кэш
func NewRulesCache(fetch RulesFetcher, ttl time.Duration) *RulesCache {
	if ttl <= 0 {
		ttl = DefaultRulesTTL
	}
	return &RulesCache{
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get правила символа (обновляет кэш по истечении TTL)
func (c *RulesCache) Get(ctx context.Context, symbol string) (*SymbolRules, error) {
	symbol = utils.NormalizeSymbol(symbol)

	if r, ok := c.lookup(symbol); ok {
		return &r, nil
	}

	if err := c.refresh(ctx); err != nil {
		// Ошибка обновления: отдаём устаревшие правила, если они есть
		c.mu.RLock()
		r, ok := c.rules[symbol]
		c.mu.RUnlock()
		if ok {
			return &r, nil
		}
		return nil, err
	}

	if r, ok := c.lookup(symbol); ok {
		return &r, nil
	}
	return nil, ErrSymbolNotFound
}

// Invalidate сбрасывает кэш
func (c *RulesCache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func (c *RulesCache) lookup(symbol string) (SymbolRules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rules == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return SymbolRules{}, false
	}
	r, ok := c.rules[symbol]
	return r, ok
}

func (c *RulesCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("rules", func() (interface{}, error) {
		rules, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.rules = rules
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// ============================================================
// Округление под правила
// ============================================================

// RoundQty объём вниз к шагу лота
func (r *SymbolRules) RoundQty(qty float64) float64 {
	return utils.RoundToStep(qty, r.StepSize)
}

// RoundPrice цена вниз к шагу цены
func (r *SymbolRules) RoundPrice(price float64) float64 {
	return utils.RoundToStep(price, r.TickSize)
}

// FormatQty объём строкой для параметров запроса
func (r *SymbolRules) FormatQty(qty float64) string {
	return utils.FormatToStep(qty, r.StepSize)
}

// FormatPrice цена строкой для параметров запроса
func (r *SymbolRules) FormatPrice(price float64) string {
	return utils.FormatToStep(price, r.TickSize)
}

// ValidQty объём не меньше минимального и проходит minNotional
func (r *SymbolRules) ValidQty(qty, price float64) bool {
	if qty <= 0 || qty < r.MinQty {
		return false
	}
	if r.MinNotional > 0 && price > 0 && qty*price < r.MinNotional {
		return false
	}
	return true
}
