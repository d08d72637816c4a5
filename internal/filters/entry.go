package filters

import "context"

// EntryGainFilter отклонение цены входа от цены сигнала
//
// Рост выше MaxPct: цена уже развернулась вверх. Падение ниже MinPct:
// движение уже произошло без нас.
type EntryGainFilter struct {
	cfg EntryGainConfig
}

func (f *EntryGainFilter) Name() string { return "entry_gain" }

func (f *EntryGainFilter) Check(_ context.Context, c Candidate) Result {
	if c.SignalPrice <= 0 || c.EntryPrice <= 0 {
		return unavailable(map[string]interface{}{"entry_gain_pct": nil}, nil)
	}

	gain := (c.EntryPrice - c.SignalPrice) / c.SignalPrice * 100
	metrics := map[string]interface{}{
		"entry_gain_pct": gain,
		"entry_price":    c.EntryPrice,
		"signal_price":   c.SignalPrice,
	}

	if gain > f.cfg.MaxPct {
		return reject(metrics, "price already up %.2f%% since signal (max %.2f%%)", gain, f.cfg.MaxPct)
	}
	if gain < f.cfg.MinPct {
		return reject(metrics, "price dropped %.2f%% since signal (min %.2f%%)", gain, f.cfg.MinPct)
	}
	return pass(metrics)
}
