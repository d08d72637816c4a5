package filters

import (
	"context"

	"surgetrader/internal/exchange"
)

// Premium24hFilter изменение цены за 24 часа по часовым свечам
//
// Резкое падение за сутки (ниже порога) означает, что основной импульс
// уже отыгран и шорт входит слишком поздно.
type Premium24hFilter struct {
	md  exchange.MarketData
	cfg Premium24hConfig
}

func (f *Premium24hFilter) Name() string { return "premium_24h" }

func (f *Premium24hFilter) Check(ctx context.Context, c Candidate) Result {
	metrics := map[string]interface{}{"premium_24h_change": nil}

	klines, err := hourlyKlines(ctx, f.md, c, 25, 25)
	if err != nil {
		return unavailable(metrics, err)
	}
	if len(klines) < 2 {
		return unavailable(metrics, nil)
	}

	first := klines[0].Close
	last := klines[len(klines)-1].Close
	if first <= 0 {
		return unavailable(metrics, nil)
	}

	change := (last - first) / first * 100
	metrics["premium_24h_change"] = change

	if change < f.cfg.DropThresholdPct {
		return reject(metrics, "24h change %.2f%% below %.1f%%", change, f.cfg.DropThresholdPct)
	}
	return pass(metrics)
}

// PremiumRealtimeFilter текущий базис (mark - index) / index
//
// Сильно отрицательный базис делает шорт дорогим по фандингу.
type PremiumRealtimeFilter struct {
	md  exchange.MarketData
	cfg PremiumRealtimeConfig
}

func (f *PremiumRealtimeFilter) Name() string { return "premium_realtime" }

func (f *PremiumRealtimeFilter) Check(ctx context.Context, c Candidate) Result {
	metrics := map[string]interface{}{"premium_realtime": nil}

	idx, err := f.md.GetPremiumIndex(ctx, c.Symbol)
	if err != nil {
		return unavailable(metrics, err)
	}
	if idx == nil || idx.IndexPrice <= 0 {
		return unavailable(metrics, nil)
	}

	basis := idx.Basis()
	metrics["premium_realtime"] = basis

	if basis < f.cfg.MinBasis {
		return reject(metrics, "premium %.3f%% below %.1f%%", basis*100, f.cfg.MinBasis*100)
	}
	return pass(metrics)
}
