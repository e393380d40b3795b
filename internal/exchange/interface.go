// Package exchange предоставляет унифицированный интерфейс для работы с биржей.
package exchange

import (
	"context"
	"errors"
	"time"
)

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// ErrPriceUnavailable - транзиентная ошибка получения цены.
// Монитор пропускает тик и повторяет на следующем интервале.
var ErrPriceUnavailable = errors.New("price unavailable")

// Client определяет контракт биржевого клиента, потребляемый ядром
//
// Все вызовы потенциально сетевые и медленные: вызывающая сторона обязана
// передавать context с таймаутом и не держать чужие локи через вызов.
type Client interface {
	// GetName возвращает имя биржи
	GetName() string

	// FetchPrice получает текущую цену символа (last price)
	FetchPrice(ctx context.Context, symbol string) (float64, error)

	// GetBalance получает баланс фьючерсного аккаунта в USDT
	GetBalance(ctx context.Context) (float64, error)

	// SubmitOrder размещает ордер, возвращает его идентификатор
	SubmitOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// ModifyOrder изменяет параметры ордера (nil-поля не трогаются)
	ModifyOrder(ctx context.Context, orderID, symbol string, fields *ModifyFields) error

	// SetLeverage устанавливает плечо для символа
	SetLeverage(ctx context.Context, symbol string, leverage float64) error

	// AddMargin доливает изолированную маржу в открытую позицию
	AddMargin(ctx context.Context, symbol, positionSide string, amount float64) error

	// GetOpenPositions получает список открытых позиций
	GetOpenPositions(ctx context.Context) ([]*Position, error)

	// SubscribeTicker подписывается на обновления цен через WebSocket
	SubscribeTicker(symbol string, callback func(*Ticker)) error

	// Close закрывает соединения с биржей
	Close() error
}

// OrderRequest - параметры размещаемого ордера
type OrderRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // buy, sell
	Type          string  `json:"type"` // market, limit
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price,omitempty"`         // для limit
	TriggerPrice  float64 `json:"trigger_price,omitempty"` // для условных ордеров
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	ReduceOnly    bool    `json:"reduce_only,omitempty"`
	PostOnly      bool    `json:"post_only,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// ModifyFields - изменяемые поля ордера (nil = без изменения)
type ModifyFields struct {
	Price    *float64 `json:"price,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	StopLoss *float64 `json:"stop_loss,omitempty"`
}

// Order представляет ордер
type Order struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"` // new, filled, partial, cancelled, rejected
	CreatedAt    time.Time `json:"created_at"`
}

// Position представляет открытую позицию на бирже
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long, short
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      float64   `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	AskPrice  float64   `json:"ask_price"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

func (e *ExchangeError) Unwrap() error {
	return e.Original
}
