package service

import (
	"context"
	"time"

	"signaltrader/internal/bot"
	"signaltrader/internal/models"
	"signaltrader/internal/repository"
)

// TradingEngineInterface определяет интерфейс торгового ядра
type TradingEngineInterface interface {
	HandleSignal(ctx context.Context, sig *models.Signal) error
	ForceClose(ctx context.Context, symbol string) error
	ResetReentry(symbol string)
	ReentryState(symbol string) models.ReentryRecord
	Positions() []models.TradeState
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	SaveOpen(ts *models.TradeState) (int, error)
	UpdateProgress(ts *models.TradeState) error
	MarkClosed(symbol string, exitPrice, pol float64) error
	GetOpen() ([]*models.TradeState, error)
	GetBySymbolOpen(symbol string) (*models.TradeState, error)
	CountOpen() (int, error)
}

// EventRepositoryInterface определяет интерфейс репозитория событий
type EventRepositoryInterface interface {
	RecordTradeEvent(ctx context.Context, ev *models.TradeEvent) error
	GetRecent(limit int) ([]*models.TradeEvent, error)
	GetBySymbol(symbol string, limit int) ([]*models.TradeEvent, error)
	DeleteOlderThan(age time.Duration) (int64, error)
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(n *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	DeleteOlderThan(age time.Duration) (int64, error)
}

// Проверяем, что реальные реализации удовлетворяют интерфейсам
var _ TradingEngineInterface = (*bot.Engine)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
var _ EventRepositoryInterface = (*repository.EventRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// Репозитории встраиваются в ядро через его собственные контракты
var _ bot.EventRecorder = (*repository.EventRepository)(nil)
var _ bot.StateStore = (*repository.TradeRepository)(nil)
