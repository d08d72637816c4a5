package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - математические утилиты для торговых операций
//
// Назначение:
// Округление объёмов и цен под правила инструмента, расчёт размера
// позиции, PnL и процентных движений. Округление выполняется в
// десятичной арифметике (shopspring/decimal), чтобы 0.1 + 0.2 не
// превращалось в лишний шаг лота.
//
// Функции:
// - RoundToStep / RoundToStepUp / RoundToStepNearest: округление к шагу
// - FormatToStep: строка для параметров API с точностью шага
// - PositionQty: объём по марже, плечу и цене
// - OffsetPrice / TriggerPrice: цены входа и TP/SL
// - CalculatePNL / PctChange: доходность
// - SplitHalf: разбиение объёма на две части для частичного закрытия

// RoundToStep округляет значение ВНИЗ до кратного step.
//
// Округление вниз гарантирует, что мы не превысим позицию или маржу.
// Если step <= 0, возвращает исходное значение.
//
// Примеры:
//   - RoundToStep(0.123456, 0.001) = 0.123
//   - RoundToStep(1.999, 0.01) = 1.99
//   - RoundToStep(100.5, 1) = 100
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	d := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}

// RoundToStepUp округляет ВВЕРХ до кратного step (для minQty)
func RoundToStepUp(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	d := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Ceil().Mul(s).Float64()
	return f
}

// RoundToStepNearest округляет к ближайшему кратному step
func RoundToStepNearest(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	d := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Round(0).Mul(s).Float64()
	return f
}

// StepDecimals количество знаков после запятой у шага
//
//	StepDecimals(0.001) = 3, StepDecimals(1) = 0, StepDecimals(0.5) = 1
func StepDecimals(step float64) int32 {
	if step <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// FormatToStep округляет вниз к step и форматирует с точностью шага
//
// Биржа отклоняет параметры с лишними знаками ("Precision is over the maximum").
func FormatToStep(value, step float64) string {
	rounded := RoundToStep(value, step)
	return decimal.NewFromFloat(rounded).StringFixed(StepDecimals(step))
}

// PositionQty расчёт объёма позиции
//
// qty = margin × leverage / (price × buffer), округление вниз к step.
// buffer > 1 оставляет запас под комиссию и проскальзывание.
//
// Пример: PositionQty(5, 3, 100, 1.005, 0.01) = 0.14
func PositionQty(margin float64, leverage int, price, buffer, step float64) float64 {
	if margin <= 0 || leverage <= 0 || price <= 0 {
		return 0
	}
	if buffer <= 0 {
		buffer = 1
	}
	notional := decimal.NewFromFloat(margin).Mul(decimal.NewFromInt(int64(leverage)))
	denom := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(buffer))
	raw, _ := notional.Div(denom).Float64()
	return RoundToStep(raw, step)
}

// OffsetPrice цена со смещением в процентах: price × (1 + pct/100)
func OffsetPrice(price, pct float64) float64 {
	p := decimal.NewFromFloat(price)
	mult := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))
	f, _ := p.Mul(mult).Float64()
	return f
}

// TriggerPrice цена срабатывания TP/SL
//
// SHORT: TP ниже входа, SL выше. LONG: наоборот.
// isTakeProfit выбирает направление смещения.
func TriggerPrice(side string, entry, pct float64, isTakeProfit bool) float64 {
	short := side == "SHORT" || side == "short"
	down := short == isTakeProfit
	if down {
		return OffsetPrice(entry, -pct)
	}
	return OffsetPrice(entry, pct)
}

// CalculatePNL PnL позиции в валюте котировки
//
//   - LONG: (current - entry) × qty
//   - SHORT: (entry - current) × qty
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}
	switch side {
	case "LONG", "long":
		return (currentPrice - entryPrice) * quantity
	case "SHORT", "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// PctChange изменение в долях: (to - from) / from
func PctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from
}

// SplitHalf делит объём на две части для частичного закрытия
//
// Первая часть ≈ 50%, округлена вниз к step. Вторая - остаток.
// Если половина меньше шага - первая часть равна всему объёму.
func SplitHalf(total, step float64) (first, rest float64) {
	if total <= 0 {
		return 0, 0
	}
	first = RoundToStep(total/2, step)
	if first <= 0 {
		return RoundToStep(total, step), 0
	}
	d := decimal.NewFromFloat(total).Sub(decimal.NewFromFloat(first))
	rest, _ = d.Float64()
	return first, rest
}

// IsMultipleOf проверяет кратность value шагу step (с учётом float погрешности)
func IsMultipleOf(value, step float64) bool {
	if step <= 0 {
		return true
	}
	return decimal.NewFromFloat(value).Mod(decimal.NewFromFloat(step)).IsZero()
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Mean среднее значение, 0 для пустого среза
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// InRange проверяет lo <= v <= hi
func InRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
