package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных
//
// Назначение:
// Проверка сигналов и параметров, пришедших снаружи (Redis, HTTP API),
// до того как они попадут в торговый цикл.

var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInvalidPercentage = errors.New("percentage out of range")
	ErrInvalidLeverage   = errors.New("leverage out of range")
)

var symbolRe = regexp.MustCompile(`^[A-Za-z0-9]{2,30}$`)

// NormalizeSymbol приводит символ к формату биржи: "sol-usdt" → "SOLUSDT"
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

// ValidateSymbol проверяет формат символа (после нормализации разделителей)
func ValidateSymbol(symbol string) error {
	if strings.ContainsAny(symbol, " \t") {
		return fmt.Errorf("%w: %q contains spaces", ErrInvalidSymbol, symbol)
	}
	if !symbolRe.MatchString(NormalizeSymbol(symbol)) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol булева форма ValidateSymbol
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// ValidatePrice цена должна быть положительной
func ValidatePrice(price float64) error {
	if price <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidPrice, price)
	}
	return nil
}

// ValidatePercentage проверяет 0 < pct <= max
func ValidatePercentage(pct, max float64) error {
	if pct <= 0 || pct > max {
		return fmt.Errorf("%w: %v not in (0, %v]", ErrInvalidPercentage, pct, max)
	}
	return nil
}

// ValidateLeverage проверяет плечо 1..125
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}
	return nil
}

// ============================================================
// Накопление ошибок
// ============================================================

// FieldError ошибка конкретного поля
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors список ошибок валидации
type ValidationErrors []FieldError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// AddError добавляет err, если он не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors есть ли ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
