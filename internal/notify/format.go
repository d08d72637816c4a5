package notify

import (
	"strconv"
	"strings"

	"surgetrader/internal/models"
)

func positionNotification(kind string, p models.TrackedPosition, msg string, meta map[string]interface{}) *models.Notification {
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["side"] = p.Side
	meta["state"] = string(p.State)
	if p.EntryPrice > 0 {
		meta["entry_price"] = p.EntryPrice
	}
	return &models.Notification{
		Type:    kind,
		Symbol:  p.Symbol,
		Message: msg,
		Meta:    meta,
	}
}

// fmtNum число без лишних нулей
func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func kindLabel(kind string) string {
	switch kind {
	case "tp":
		return "Take-profit"
	case "sl":
		return "Stop-loss"
	}
	return kind
}

// title заголовок для текстовых каналов
func title(n *models.Notification) string {
	t := strings.ReplaceAll(strings.ToLower(n.Type), "_", " ")
	if n.Symbol != "" {
		t += " " + n.Symbol
	}
	if n.Severity == models.SeverityCritical {
		t = "[CRITICAL] " + t
	}
	return t
}

// severityRank порядок важности для фильтрации каналов
func severityRank(severity string) int {
	switch severity {
	case models.SeverityCritical:
		return 3
	case models.SeverityError:
		return 2
	case models.SeverityWarn:
		return 1
	}
	return 0
}
