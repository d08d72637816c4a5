package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`     // ENTRY_SUBMITTED, ENTRY_FILLED, ...
	Severity  string                 `json:"severity"` // info, warn, error, critical
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Типы уведомлений
const (
	NotificationEntrySubmitted   = "ENTRY_SUBMITTED"   // entry ордер выставлен
	NotificationEntryFilled      = "ENTRY_FILLED"      // entry исполнен
	NotificationProtectionPlaced = "PROTECTION_PLACED" // TP/SL выставлены
	NotificationTPTriggered      = "TP_TRIGGERED"      // сработал take-profit
	NotificationSLTriggered      = "SL_TRIGGERED"      // сработал stop-loss
	NotificationTimedOut         = "TIMED_OUT"         // закрытие по времени удержания
	NotificationForceClosed      = "FORCE_CLOSED"      // принудительное закрытие
	NotificationReplaced         = "REPLACED"          // ордер перевыставлен после внешней отмены
	NotificationDuplicates       = "DUPLICATES"        // сняты дубликаты условных ордеров
	NotificationTPAdjusted       = "TP_ADJUSTED"       // TP перевыставлен после оценки
	NotificationRecovered        = "RECOVERED"         // позиции восстановлены после рестарта
	NotificationDailySummary     = "DAILY_SUMMARY"     // дневная сводка
	NotificationCritical         = "CRITICAL"          // требуется ручное вмешательство
)

// Уровни важности
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// SeverityFor уровень важности по типу уведомления
func SeverityFor(notificationType string) string {
	switch notificationType {
	case NotificationCritical:
		return SeverityCritical
	case NotificationSLTriggered, NotificationReplaced, NotificationDuplicates,
		NotificationTimedOut, NotificationForceClosed:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}
