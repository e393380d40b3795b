package websocket

// Типы исходящих сообщений
const (
	MessageTypeNotification   = "notification"   // событие жизненного цикла
	MessageTypePositionUpdate = "positionUpdate" // снапшот TradeState
	MessageTypeReentryUpdate  = "reentryUpdate"  // счётчик попыток реентри
)

// NotificationMessage - сообщение с уведомлением
type NotificationMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PositionUpdateMessage - обновление состояния позиции
type PositionUpdateMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Data   interface{} `json:"data"`
}

// ReentryUpdateMessage - обновление счётчика реентри
type ReentryUpdateMessage struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Attempts int    `json:"attempts"`
}
