package websocket

// MessageType определяет тип WebSocket сообщения
type MessageType string

const (
	// MessageTypeNotification - событие стратегии (открытие,
	// закрытие, ремонт ноги, исключение пары)
	MessageTypeNotification MessageType = "notification"

	// MessageTypeCycleResult - итог завершённого цикла
	MessageTypeCycleResult MessageType = "cycleResult"

	// MessageTypeBalanceUpdate - обновление баланса биржи
	MessageTypeBalanceUpdate MessageType = "balanceUpdate"
)

// NotificationMessage - сообщение с событием стратегии
type NotificationMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// CycleResultMessage - сообщение с итогом цикла
type CycleResultMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// BalanceUpdateMessage - сообщение об обновлении баланса
type BalanceUpdateMessage struct {
	Type    MessageType `json:"type"`
	Venue   string      `json:"venue"`
	Balance float64     `json:"balance"`
}
