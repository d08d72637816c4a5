package websocket

import (
	"time"

	"surgetrader/internal/models"
)

// MessageType тип сообщения hub
type MessageType string

const (
	// MessageTypeNotification событие жизненного цикла позиции или алерт
	MessageTypeNotification MessageType = "notification"

	// MessageTypePositions снимок сопровождаемых позиций
	MessageTypePositions MessageType = "positions"
)

// BaseMessage общие поля сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage уведомление для операторов
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// PositionsMessage снимок позиций (отправляется после подключения и по запросу)
type PositionsMessage struct {
	BaseMessage
	Positions []models.TrackedPosition `json:"positions"`
}

// NewNotificationMessage создаёт сообщение уведомления
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now().UTC()},
		Data:        n,
	}
}

// NewPositionsMessage создаёт сообщение со снимком позиций
func NewPositionsMessage(positions []models.TrackedPosition) *PositionsMessage {
	if positions == nil {
		positions = []models.TrackedPosition{}
	}
	return &PositionsMessage{
		BaseMessage: BaseMessage{Type: MessageTypePositions, Timestamp: time.Now().UTC()},
		Positions:   positions,
	}
}
