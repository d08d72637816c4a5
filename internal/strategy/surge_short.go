package strategy

import (
	"context"
	"fmt"
	"time"

	"surgetrader/internal/exchange"
	"surgetrader/internal/filters"
	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

// Config параметры SurgeShort
type Config struct {
	StrongTPPct float64
	MediumTPPct float64
	WeakTPPct   float64
	SLPct       float64

	// 2h: доля 5m свечей ниже входа более чем на Strength2hGrowth
	Strength2hGrowth float64
	Strength2hRatio  float64 // strong
	Medium2hRatio    float64 // medium

	// 12h
	Strength12hGrowth float64
	Strength12hRatio  float64

	// Всплеск продаж: объём часа против среднего за сутки до сигнала
	SurgeMultiplier    float64
	SurgeBaselineHours int

	MaxHold time.Duration
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		StrongTPPct:        33,
		MediumTPPct:        21,
		WeakTPPct:          10,
		SLPct:              18,
		Strength2hGrowth:   0.055,
		Strength2hRatio:    0.60,
		Medium2hRatio:      0.30,
		Strength12hGrowth:  0.075,
		Strength12hRatio:   0.60,
		SurgeMultiplier:    10,
		SurgeBaselineHours: 24,
		MaxHold:            72 * time.Hour,
	}
}

const (
	checkpoint2h  = 2 * time.Hour
	checkpoint12h = 12 * time.Hour
)

// SurgeShort шорт после всплеска продаж
//
// Вход: SHORT после прохождения риск-фильтров, TP 33% / SL 18%.
// Сопровождение: оценка силы на 2h и 12h, закрытие по MaxHold.
type SurgeShort struct {
	cfg      Config
	md       exchange.MarketData
	pipeline *filters.Pipeline
	log      *utils.Logger
}

// NewSurgeShort создаёт стратегию; pipeline может быть nil (без фильтров)
func NewSurgeShort(cfg Config, md exchange.MarketData, pipeline *filters.Pipeline, logger *utils.Logger) *SurgeShort {
	if logger == nil {
		logger = utils.L()
	}
	return &SurgeShort{
		cfg:      cfg,
		md:       md,
		pipeline: pipeline,
		log:      logger.WithComponent("strategy"),
	}
}

// FilterEntry прогоняет сигнал через фильтры и фиксирует параметры входа
func (s *SurgeShort) FilterEntry(ctx context.Context, signal models.Signal, entryPrice float64, now time.Time) (EntryDecision, error) {
	if s.pipeline != nil {
		out := s.pipeline.Check(ctx, filters.Candidate{
			Symbol:      signal.Symbol,
			SignalPrice: signal.Price,
			EntryPrice:  entryPrice,
			At:          now,
		})
		if err := ctx.Err(); err != nil {
			return EntryDecision{}, err
		}
		if !out.Pass {
			return EntryDecision{
				Accept:       false,
				RejectReason: out.Reason,
				RejectedBy:   out.RejectedBy,
				Metrics:      out.Metrics,
			}, nil
		}
		return s.accept(out.Metrics), nil
	}
	return s.accept(nil), nil
}

func (s *SurgeShort) accept(metrics map[string]interface{}) EntryDecision {
	return EntryDecision{
		Accept:  true,
		Side:    exchange.SideShort,
		TPPct:   s.cfg.StrongTPPct,
		SLPct:   s.cfg.SLPct,
		Metrics: metrics,
	}
}

// EvaluatePosition решение по открытой позиции
//
// MaxHold имеет приоритет над контрольными точками. Каждая точка
// оценивается один раз, за вызов проходится не больше одной точки.
func (s *SurgeShort) EvaluatePosition(ctx context.Context, pos *models.TrackedPosition, now time.Time) (PositionAction, error) {
	if !pos.EntryFilled || pos.EntryPrice <= 0 {
		return Hold(), nil
	}

	held := pos.HoldTime(now)

	if s.cfg.MaxHold > 0 && held >= s.cfg.MaxHold {
		return PositionAction{
			Action:      ActionClose,
			CloseReason: models.CloseTimedOut,
			Reason:      fmt.Sprintf("max hold %s reached", utils.FormatDuration(s.cfg.MaxHold)),
		}, nil
	}

	switch {
	case !pos.EvaluatedAt2h && held >= checkpoint2h:
		return s.evaluate2h(ctx, pos)
	case !pos.EvaluatedAt12h && held >= checkpoint12h:
		return s.evaluate12h(ctx, pos)
	}
	return Hold(), nil
}

func (s *SurgeShort) evaluate2h(ctx context.Context, pos *models.TrackedPosition) (PositionAction, error) {
	ratio, ok := s.dropRatio(ctx, pos, checkpoint2h, s.cfg.Strength2hGrowth)
	if err := ctx.Err(); err != nil {
		return Hold(), err
	}

	var strength models.Strength
	var tp float64
	switch {
	case !ok:
		// Без данных оставляем повышенный TP
		strength, tp = models.StrengthMedium, s.cfg.MediumTPPct
	case ratio >= s.cfg.Strength2hRatio:
		strength, tp = models.StrengthStrong, s.cfg.StrongTPPct
	case ratio >= s.cfg.Medium2hRatio:
		strength, tp = models.StrengthMedium, s.cfg.MediumTPPct
	default:
		strength, tp = models.StrengthWeak, s.cfg.WeakTPPct
	}

	s.log.Info("2h evaluation",
		utils.Symbol(pos.Symbol),
		utils.Float64("drop_ratio", ratio),
		utils.Bool("data_ok", ok),
		utils.Strength(string(strength)),
		utils.TPPct(tp))

	return s.tpAction(pos, tp, strength, models.Checkpoint2h,
		fmt.Sprintf("2h strength %s (drop ratio %.2f)", strength, ratio)), nil
}

func (s *SurgeShort) evaluate12h(ctx context.Context, pos *models.TrackedPosition) (PositionAction, error) {
	ratio, ok := s.dropRatio(ctx, pos, checkpoint12h, s.cfg.Strength12hGrowth)
	if err := ctx.Err(); err != nil {
		return Hold(), err
	}

	if ok && ratio >= s.cfg.Strength12hRatio {
		s.log.Info("12h evaluation: strong",
			utils.Symbol(pos.Symbol), utils.Float64("drop_ratio", ratio))
		return s.tpAction(pos, s.cfg.StrongTPPct, models.StrengthStrong, models.Checkpoint12h,
			fmt.Sprintf("12h strength strong (drop ratio %.2f)", ratio)), nil
	}

	confirmed, err := s.ConsecutiveSurge(ctx, pos.Symbol, signalTimeOf(pos))
	if err != nil {
		if ctx.Err() != nil {
			return Hold(), ctx.Err()
		}
		// Не смогли подтвердить всплеск: консервативно понижаем TP
		s.log.Warn("consecutive surge check unavailable", utils.Symbol(pos.Symbol), utils.Err(err))
		confirmed = false
	}

	if confirmed {
		// Подтверждённый всплеск: strong остаётся 33%, остальные поднимаются до medium
		strength, tp := models.StrengthMedium, s.cfg.MediumTPPct
		if pos.Strength == models.StrengthStrong {
			strength, tp = models.StrengthStrong, s.cfg.StrongTPPct
		}
		s.log.Info("12h evaluation: surge confirmed",
			utils.Symbol(pos.Symbol), utils.Strength(string(strength)), utils.TPPct(tp))
		return PositionAction{
			Action:      ActionAdjustTP,
			NewTPPct:    tp,
			NewStrength: strength,
			Checkpoint:  models.Checkpoint12h,
			Reason:      "12h consecutive surge confirmed",
		}, nil
	}

	s.log.Info("12h evaluation: weak",
		utils.Symbol(pos.Symbol), utils.Float64("drop_ratio", ratio))
	return PositionAction{
		Action:      ActionAdjustTP,
		NewTPPct:    s.cfg.WeakTPPct,
		NewStrength: models.StrengthWeak,
		Checkpoint:  models.Checkpoint12h,
		Reason:      fmt.Sprintf("12h surge not confirmed (drop ratio %.2f)", ratio),
	}, nil
}

// tpAction adjust_tp при смене процента, иначе hold с обновлённой силой
func (s *SurgeShort) tpAction(pos *models.TrackedPosition, tp float64, strength models.Strength, cp models.Checkpoint, reason string) PositionAction {
	action := PositionAction{
		Action:      ActionHold,
		NewStrength: strength,
		Checkpoint:  cp,
		Reason:      reason,
	}
	if tp != pos.CurrentTPPct {
		action.Action = ActionAdjustTP
		action.NewTPPct = tp
	}
	return action
}

// dropRatio доля 5m свечей, закрывшихся ниже входа более чем на threshold
func (s *SurgeShort) dropRatio(ctx context.Context, pos *models.TrackedPosition, window time.Duration, threshold float64) (float64, bool) {
	start := pos.EntryFillTime
	klines, err := s.md.GetKlines(ctx, pos.Symbol, "5m", start, start.Add(window), 1500)
	if err != nil {
		s.log.Debug("drop ratio klines failed", utils.Symbol(pos.Symbol), utils.Err(err))
		return 0, false
	}
	if len(klines) < 2 {
		return 0, false
	}

	drops := 0
	for _, k := range klines {
		if (k.Close-pos.EntryPrice)/pos.EntryPrice < -threshold {
			drops++
		}
	}
	return float64(drops) / float64(len(klines)), true
}

// ConsecutiveSurge час сигнала и следующий за ним час оба с объёмом
// продаж не ниже SurgeMultiplier × среднего часового объёма продаж за
// SurgeBaselineHours часов до часа сигнала.
//
// Зависит только от исторического окна, повторный вызов даёт тот же ответ.
func (s *SurgeShort) ConsecutiveSurge(ctx context.Context, symbol string, signalTime time.Time) (bool, error) {
	signalHour := utils.TruncateHour(signalTime)
	baselineStart := signalHour.Add(-time.Duration(s.cfg.SurgeBaselineHours) * time.Hour)
	end := signalHour.Add(2*time.Hour - time.Millisecond)

	klines, err := s.md.GetKlines(ctx, symbol, "1h", baselineStart, end, s.cfg.SurgeBaselineHours+2)
	if err != nil {
		return false, fmt.Errorf("surge klines %s: %w", symbol, err)
	}

	var baseline []float64
	var signalSell, entrySell float64
	var haveSignal, haveEntry bool
	for _, k := range klines {
		open := k.OpenTime.UTC()
		switch {
		case open.Before(signalHour) && !open.Before(baselineStart):
			baseline = append(baseline, k.SellVolume())
		case open.Equal(signalHour):
			signalSell, haveSignal = k.SellVolume(), true
		case open.Equal(signalHour.Add(time.Hour)):
			entrySell, haveEntry = k.SellVolume(), true
		}
	}

	if len(baseline) == 0 || !haveSignal || !haveEntry {
		return false, fmt.Errorf("%w: surge window incomplete for %s", filters.ErrDataUnavailable, symbol)
	}

	avg := utils.Mean(baseline)
	if avg <= 0 {
		return false, nil
	}
	threshold := avg * s.cfg.SurgeMultiplier
	return signalSell >= threshold && entrySell >= threshold, nil
}

// signalTimeOf время сигнала; у восстановленной позиции его нет,
// тогда берём час до исполнения входа
func signalTimeOf(pos *models.TrackedPosition) time.Time {
	if !pos.SignalTime.IsZero() {
		return pos.SignalTime
	}
	return pos.EntryFillTime.Add(-time.Hour)
}

var _ Strategy = (*SurgeShort)(nil)
