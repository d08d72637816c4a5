package notify

import (
	"context"

	"go.uber.org/zap"

	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

// Broadcaster рассылка подключённым операторам (websocket.Hub)
type Broadcaster interface {
	BroadcastNotification(n *models.Notification)
}

// HubSender канал WebSocket hub
type HubSender struct {
	hub Broadcaster
}

func NewHubSender(hub Broadcaster) *HubSender { return &HubSender{hub: hub} }

func (h *HubSender) Name() string { return "ws_hub" }

func (h *HubSender) Send(ctx context.Context, n *models.Notification) error {
	h.hub.BroadcastNotification(n)
	return nil
}

// LogSender пишет уведомления в лог с уровнем по важности
type LogSender struct {
	log *utils.Logger
}

func NewLogSender(logger *utils.Logger) *LogSender {
	if logger == nil {
		logger = utils.L()
	}
	return &LogSender{log: logger.WithComponent("notification")}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(ctx context.Context, n *models.Notification) error {
	fields := []zap.Field{utils.String("type", n.Type), utils.Symbol(n.Symbol)}
	switch n.Severity {
	case models.SeverityCritical, models.SeverityError:
		l.log.Error(n.Message, fields...)
	case models.SeverityWarn:
		l.log.Warn(n.Message, fields...)
	default:
		l.log.Info(n.Message, fields...)
	}
	return nil
}

// minSeverity пропускает только уведомления не ниже заданной важности
type minSeverity struct {
	Sender
	min int
}

// WithMinSeverity фильтр канала по важности (email только для critical)
func WithMinSeverity(s Sender, severity string) Sender {
	return &minSeverity{Sender: s, min: severityRank(severity)}
}

func (m *minSeverity) Send(ctx context.Context, n *models.Notification) error {
	if severityRank(n.Severity) < m.min {
		return nil
	}
	return m.Sender.Send(ctx, n)
}
