package models

import "time"

// Notification представляет уведомление о событии жизненного цикла
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // ENTRY, SL_MOVE, REENTRY, TP_HIT, ...
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeEntry    = "ENTRY"     // вход в позицию
	NotificationTypeSLMove   = "SL_MOVE"   // перенос стоп-лосса
	NotificationTypeReentry  = "REENTRY"   // повторный вход после SL
	NotificationTypeTPHit    = "TP_HIT"    // достигнут TP уровень
	NotificationTypeTrailing = "TRAILING"  // активирован трейлинг
	NotificationTypePyramid  = "PYRAMID"   // шаг пирамидинга
	NotificationTypeHedge    = "HEDGE"     // открыт хедж
	NotificationTypeClose    = "CLOSE"     // позиция закрыта
	NotificationTypeTimeout  = "TIMEOUT"   // закрытие по таймауту
	NotificationTypeError    = "ERROR"     // ошибка API/ордера
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// TradeEvent - структурированное событие для внешней отчётности
//
// Схема потребителя (аналитика/репорты) вне ядра; здесь только факты:
// символ, тип перехода, цены до/после, временная метка.
type TradeEvent struct {
	ID        int       `json:"id" db:"id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Side      string    `json:"side" db:"side"`
	Type      string    `json:"type" db:"type"` // те же константы NotificationType*
	Price     float64   `json:"price" db:"price"`
	OldSL     float64   `json:"old_sl" db:"old_sl"`
	NewSL     float64   `json:"new_sl" db:"new_sl"`
	Pol       float64   `json:"pol" db:"pol"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
