package filters

import (
	"context"

	"surgetrader/internal/exchange"
	"surgetrader/pkg/utils"
)

// ============================================================
// CVD new low
// ============================================================

// CVDNewLowFilter накопленная дельта объёма на минимуме окна
//
// CVD = Σ(buy - sell). Новый минимум означает панические продажи на
// исходе, риск разворота для шорта высокий.
type CVDNewLowFilter struct {
	md  exchange.MarketData
	cfg CVDConfig
}

func (f *CVDNewLowFilter) Name() string { return "cvd_new_low" }

func (f *CVDNewLowFilter) Check(ctx context.Context, c Candidate) Result {
	metrics := map[string]interface{}{"cvd_is_new_low": nil}

	klines, err := hourlyKlines(ctx, f.md, c, f.cfg.LookbackHours, f.cfg.LookbackHours+1)
	if err != nil {
		return unavailable(metrics, err)
	}
	if len(klines) < 2 {
		return unavailable(metrics, nil)
	}

	var cum float64
	low := 0.0
	for i, k := range klines {
		cum += k.BuyVolume() - k.SellVolume()
		if i == 0 || cum < low {
			low = cum
		}
	}
	isLow := cum <= low

	metrics["cvd_current"] = cum
	metrics["cvd_min"] = low
	metrics["cvd_is_new_low"] = isLow

	if isLow {
		return reject(metrics, "CVD at new low (%.0f, min %.0f)", cum, low)
	}
	return pass(metrics)
}

// ============================================================
// Buy acceleration
// ============================================================

const (
	accelHours    = 24
	accelMinHours = 12
	accelRecent   = 6
)

// BuyAccelerationFilter ускорение покупок: последние 6 часов против предыдущих
type BuyAccelerationFilter struct {
	md  exchange.MarketData
	cfg BuyAccelerationConfig
}

func (f *BuyAccelerationFilter) Name() string { return "buy_acceleration" }

func (f *BuyAccelerationFilter) Check(ctx context.Context, c Candidate) Result {
	metrics := map[string]interface{}{"buy_acceleration": nil}

	klines, err := hourlyKlines(ctx, f.md, c, accelHours, accelHours)
	if err != nil {
		return unavailable(metrics, err)
	}
	if len(klines) < accelMinHours {
		return unavailable(metrics, nil)
	}

	accel := buyAcceleration(klines)
	metrics["buy_acceleration"] = accel

	if r, ok := inAnyRange(accel, f.cfg.DangerRanges); ok {
		return reject(metrics, "buy acceleration %.4f in danger range [%g, %g]", accel, r.Lo, r.Hi)
	}
	return pass(metrics)
}

// buyAcceleration mean(buy/sell за последние 6ч) - mean(buy/sell до них)
func buyAcceleration(klines []exchange.Kline) float64 {
	ratios := make([]float64, len(klines))
	for i, k := range klines {
		ratios[i] = k.BuyVolume() / (k.SellVolume() + 1e-10)
	}
	split := len(ratios) - accelRecent
	return utils.Mean(ratios[split:]) - utils.Mean(ratios[:split])
}

// ============================================================
// Consecutive buy surge
// ============================================================

// ConsecutiveBuyFilter серия часов с ростом покупок выше порога к прошлому часу
type ConsecutiveBuyFilter struct {
	md  exchange.MarketData
	cfg ConsecutiveBuyConfig
}

func (f *ConsecutiveBuyFilter) Name() string { return "consecutive_buy" }

func (f *ConsecutiveBuyFilter) Check(ctx context.Context, c Candidate) Result {
	metrics := map[string]interface{}{"max_consecutive_buy": 0}

	klines, err := hourlyKlines(ctx, f.md, c, 12, 12)
	if err != nil {
		return unavailable(metrics, err)
	}
	if len(klines) < f.cfg.Hours+1 {
		return unavailable(metrics, nil)
	}

	run, maxRun := 0, 0
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].BuyVolume()
		if prev > 0 && klines[i].BuyVolume()/prev > f.cfg.Threshold {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	metrics["max_consecutive_buy"] = maxRun

	if maxRun >= f.cfg.Hours {
		return reject(metrics, "consecutive %dh buy surge above %.1fx", maxRun, f.cfg.Threshold)
	}
	return pass(metrics)
}

// ============================================================
// Buy/sell ratio extremes
// ============================================================

// BuySellRatioFilter отношение максимальных почасовых приростов покупок и продаж
//
// Соотношение около 1 означает неясное направление. Дополнительно
// проверяется сам максимальный прирост покупок (intraday).
type BuySellRatioFilter struct {
	md  exchange.MarketData
	cfg BuySellRatioConfig
}

func (f *BuySellRatioFilter) Name() string { return "buy_sell_ratio" }

func (f *BuySellRatioFilter) Check(ctx context.Context, c Candidate) Result {
	metrics := map[string]interface{}{"buy_sell_ratio": nil}

	klines, err := hourlyKlines(ctx, f.md, c, 12, 12)
	if err != nil {
		return unavailable(metrics, err)
	}
	if len(klines) < 2 {
		return unavailable(metrics, nil)
	}

	var maxBuy, maxSell float64
	for i := 1; i < len(klines); i++ {
		prevBuy, prevSell := klines[i-1].BuyVolume(), klines[i-1].SellVolume()
		if prevBuy > 0 {
			maxBuy = utils.Max(maxBuy, klines[i].BuyVolume()/prevBuy)
		}
		if prevSell > 0 {
			maxSell = utils.Max(maxSell, klines[i].SellVolume()/prevSell)
		}
	}

	var ratio float64
	if maxSell > 0 {
		ratio = maxBuy / maxSell
	}
	metrics["buy_sell_ratio"] = ratio
	metrics["max_buy_ratio"] = maxBuy
	metrics["max_sell_ratio"] = maxSell

	if r, ok := inAnyRange(ratio, f.cfg.DangerRanges); ok {
		return reject(metrics, "buy/sell ratio %.3f in danger range [%g, %g]", ratio, r.Lo, r.Hi)
	}
	if f.cfg.IntradayEnabled {
		if r, ok := inAnyRange(maxBuy, f.cfg.IntradayDangerRanges); ok {
			return reject(metrics, "intraday buy ratio %.2fx in danger range [%g, %g]", maxBuy, r.Lo, r.Hi)
		}
	}
	return pass(metrics)
}
