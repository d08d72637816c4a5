// Package filters реализует цепочку риск-фильтров перед входом в позицию.
//
// Каждый фильтр независим и работает на живых рыночных данных. Ошибка
// получения данных не блокирует вход: фильтр возвращает pass и помечает
// результат как DataUnavailable (fail-open). Цепочка останавливается на
// первом отказе, метрики всех отработавших фильтров собираются для аудита.
package filters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/pkg/utils"
)

// ErrDataUnavailable у фильтра нет данных для проверки (fail-open)
var ErrDataUnavailable = errors.New("filter data unavailable")

// Candidate кандидат на вход
type Candidate struct {
	Symbol      string
	SignalPrice float64
	EntryPrice  float64
	At          time.Time // момент проверки, правая граница окон
}

// Result результат одного фильтра
type Result struct {
	Pass    bool
	Reason  string
	Metrics map[string]interface{}
	// Err заполнен при fail-open (оборачивает ErrDataUnavailable)
	Err error
}

// Filter одна независимая проверка
type Filter interface {
	Name() string
	Check(ctx context.Context, c Candidate) Result
}

func pass(metrics map[string]interface{}) Result {
	return Result{Pass: true, Metrics: metrics}
}

func reject(metrics map[string]interface{}, format string, args ...interface{}) Result {
	return Result{Pass: false, Reason: fmt.Sprintf(format, args...), Metrics: metrics}
}

// unavailable fail-open: пропускаем, но сохраняем причину
func unavailable(metrics map[string]interface{}, cause error) Result {
	if cause == nil {
		cause = ErrDataUnavailable
	} else if !errors.Is(cause, ErrDataUnavailable) {
		cause = fmt.Errorf("%w: %v", ErrDataUnavailable, cause)
	}
	return Result{Pass: true, Metrics: metrics, Err: cause}
}

// ============================================================
// Pipeline
// ============================================================

// Observer учёт отказов и fail-open срабатываний (метрики)
type Observer interface {
	FilterRejected(filter string)
	FilterUnavailable(filter string)
}

// Outcome итог цепочки
type Outcome struct {
	Pass       bool
	Reason     string // причина первого отказа
	RejectedBy string
	Metrics    map[string]interface{}
	// Unavailable фильтры, пропустившие кандидата без данных
	Unavailable []string
}

// Pipeline упорядоченная цепочка фильтров
type Pipeline struct {
	filters  []Filter
	log      *utils.Logger
	observer Observer
}

// NewPipeline создаёт цепочку в заданном порядке
func NewPipeline(logger *utils.Logger, filters ...Filter) *Pipeline {
	if logger == nil {
		logger = utils.L()
	}
	return &Pipeline{
		filters: filters,
		log:     logger.WithComponent("filters"),
	}
}

// SetObserver подключает метрики
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// Len количество фильтров
func (p *Pipeline) Len() int {
	return len(p.filters)
}

// Names имена фильтров в порядке проверки
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.filters))
	for _, f := range p.filters {
		names = append(names, f.Name())
	}
	return names
}

// Check прогоняет кандидата через все фильтры до первого отказа
func (p *Pipeline) Check(ctx context.Context, c Candidate) Outcome {
	out := Outcome{Pass: true, Metrics: make(map[string]interface{})}

	for _, f := range p.filters {
		if ctx.Err() != nil {
			// Отмена не отказ: вызывающий сам решает по ctx
			break
		}

		res := f.Check(ctx, c)
		for k, v := range res.Metrics {
			out.Metrics[k] = v
		}

		if res.Err != nil {
			out.Unavailable = append(out.Unavailable, f.Name())
			p.log.Warn("filter data unavailable, passing",
				utils.Filter(f.Name()), utils.Symbol(c.Symbol), utils.Err(res.Err))
			if p.observer != nil {
				p.observer.FilterUnavailable(f.Name())
			}
		}

		if !res.Pass {
			out.Pass = false
			out.Reason = res.Reason
			out.RejectedBy = f.Name()
			p.log.Info("signal rejected by filter",
				utils.Filter(f.Name()), utils.Symbol(c.Symbol), utils.Reason(res.Reason))
			if p.observer != nil {
				p.observer.FilterRejected(f.Name())
			}
			return out
		}
	}

	return out
}

// ============================================================
// Данные
// ============================================================

// hourlyKlines часовые свечи за hours часов до c.At
func hourlyKlines(ctx context.Context, md exchange.MarketData, c Candidate, hours, limit int) ([]exchange.Kline, error) {
	end := c.At
	start := end.Add(-time.Duration(hours) * time.Hour)
	klines, err := md.GetKlines(ctx, c.Symbol, "1h", start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s: %v", ErrDataUnavailable, c.Symbol, err)
	}
	return klines, nil
}

func inAnyRange(v float64, ranges []Range) (Range, bool) {
	for _, r := range ranges {
		if utils.InRange(v, r.Lo, r.Hi) {
			return r, true
		}
	}
	return Range{}, false
}
