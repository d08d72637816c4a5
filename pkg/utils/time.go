package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы торгового дня (UTC) для лимитов входов и дневного убытка,
// конвертация timestamp биржи и выравнивание по часовым свечам.

// GetDayStartFrom начало дня (00:00:00 UTC) для указанного времени
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayStart начало текущего дня в UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now())
}

// SameUTCDay проверяет, что a и b в одном торговом дне
func SameUTCDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

// TruncateHour начало часа (UTC), к которому относится t
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// HoursBetween длительность в часах (дробная)
func HoursBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours()
}

// UnixMillis текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time (UTC)
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatDuration компактный вывод: "45s", "5m30s", "2h15m", "74h0m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Truncate(time.Second)
	if d >= time.Hour {
		// "2h15m0s" → "2h15m"
		s := d.Truncate(time.Minute).String()
		return s[:len(s)-2]
	}
	return d.String()
}
