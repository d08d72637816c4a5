package filters

import (
	"fmt"

	"surgetrader/internal/exchange"
	"surgetrader/pkg/utils"
)

// Range опасный диапазон [Lo, Hi] включительно
type Range struct {
	Lo float64 `toml:"lo"`
	Hi float64 `toml:"hi"`
}

// Config пороги фильтров (секции TOML файла)
type Config struct {
	Premium24h      Premium24hConfig      `toml:"premium_24h"`
	EntryGain       EntryGainConfig       `toml:"entry_gain"`
	CVD             CVDConfig             `toml:"cvd_new_low"`
	PremiumRealtime PremiumRealtimeConfig `toml:"premium_realtime"`
	BuyAcceleration BuyAccelerationConfig `toml:"buy_acceleration"`
	ConsecutiveBuy  ConsecutiveBuyConfig  `toml:"consecutive_buy"`
	BuySellRatio    BuySellRatioConfig    `toml:"buy_sell_ratio"`
}

type Premium24hConfig struct {
	Enabled          bool    `toml:"enabled"`
	DropThresholdPct float64 `toml:"drop_threshold_pct"` // отказ, если изменение ниже (в %)
}

type EntryGainConfig struct {
	Enabled bool    `toml:"enabled"`
	MaxPct  float64 `toml:"max_pct"`
	MinPct  float64 `toml:"min_pct"`
}

type CVDConfig struct {
	Enabled       bool `toml:"enabled"`
	LookbackHours int  `toml:"lookback_hours"`
}

type PremiumRealtimeConfig struct {
	Enabled  bool    `toml:"enabled"`
	MinBasis float64 `toml:"min_basis"` // доля, -0.003 = -0.3%
}

type BuyAccelerationConfig struct {
	Enabled      bool    `toml:"enabled"`
	DangerRanges []Range `toml:"danger_ranges"`
}

type ConsecutiveBuyConfig struct {
	Enabled   bool    `toml:"enabled"`
	Hours     int     `toml:"hours"`     // длина серии для отказа
	Threshold float64 `toml:"threshold"` // рост объёма покупок к прошлому часу
}

type BuySellRatioConfig struct {
	Enabled              bool    `toml:"enabled"`
	DangerRanges         []Range `toml:"danger_ranges"`
	IntradayEnabled      bool    `toml:"intraday_enabled"`
	IntradayDangerRanges []Range `toml:"intraday_danger_ranges"`
}

// DefaultConfig пороги по умолчанию, все фильтры включены
func DefaultConfig() Config {
	return Config{
		Premium24h: Premium24hConfig{Enabled: true, DropThresholdPct: -40},
		EntryGain:  EntryGainConfig{Enabled: true, MaxPct: 9.04, MinPct: -3},
		CVD:        CVDConfig{Enabled: true, LookbackHours: 24},
		PremiumRealtime: PremiumRealtimeConfig{
			Enabled:  true,
			MinBasis: -0.003,
		},
		BuyAcceleration: BuyAccelerationConfig{
			Enabled: true,
			DangerRanges: []Range{
				{-0.05, -0.042},
				{0.118, 0.12},
				{0.0117, 0.03},
				{0.2, 0.99},
			},
		},
		ConsecutiveBuy: ConsecutiveBuyConfig{Enabled: true, Hours: 3, Threshold: 2.5},
		BuySellRatio: BuySellRatioConfig{
			Enabled:              true,
			DangerRanges:         []Range{{0.94, 1.12}},
			IntradayEnabled:      true,
			IntradayDangerRanges: []Range{{2.78, 3.71}, {25, 29}},
		},
	}
}

// Validate проверяет согласованность порогов
func (c Config) Validate() error {
	var errs utils.ValidationErrors

	if c.EntryGain.MinPct > c.EntryGain.MaxPct {
		errs.Add("entry_gain", "min_pct must not exceed max_pct")
	}
	if c.CVD.Enabled && c.CVD.LookbackHours < 2 {
		errs.Add("cvd_new_low.lookback_hours", "must be at least 2")
	}
	if c.ConsecutiveBuy.Enabled {
		if c.ConsecutiveBuy.Hours < 1 || c.ConsecutiveBuy.Hours > 11 {
			errs.Add("consecutive_buy.hours", "must be between 1 and 11")
		}
		if c.ConsecutiveBuy.Threshold <= 1 {
			errs.Add("consecutive_buy.threshold", "must be greater than 1")
		}
	}
	checkRanges := func(field string, ranges []Range) {
		for i, r := range ranges {
			if r.Lo > r.Hi {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), "lo must not exceed hi")
			}
		}
	}
	checkRanges("buy_acceleration.danger_ranges", c.BuyAcceleration.DangerRanges)
	checkRanges("buy_sell_ratio.danger_ranges", c.BuySellRatio.DangerRanges)
	checkRanges("buy_sell_ratio.intraday_danger_ranges", c.BuySellRatio.IntradayDangerRanges)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Build собирает включённые фильтры в фиксированном порядке
func Build(cfg Config, md exchange.MarketData) []Filter {
	var out []Filter
	if cfg.Premium24h.Enabled {
		out = append(out, &Premium24hFilter{md: md, cfg: cfg.Premium24h})
	}
	if cfg.EntryGain.Enabled {
		out = append(out, &EntryGainFilter{cfg: cfg.EntryGain})
	}
	if cfg.CVD.Enabled {
		out = append(out, &CVDNewLowFilter{md: md, cfg: cfg.CVD})
	}
	if cfg.PremiumRealtime.Enabled {
		out = append(out, &PremiumRealtimeFilter{md: md, cfg: cfg.PremiumRealtime})
	}
	if cfg.BuyAcceleration.Enabled {
		out = append(out, &BuyAccelerationFilter{md: md, cfg: cfg.BuyAcceleration})
	}
	if cfg.ConsecutiveBuy.Enabled {
		out = append(out, &ConsecutiveBuyFilter{md: md, cfg: cfg.ConsecutiveBuy})
	}
	if cfg.BuySellRatio.Enabled {
		out = append(out, &BuySellRatioFilter{md: md, cfg: cfg.BuySellRatio})
	}
	return out
}
