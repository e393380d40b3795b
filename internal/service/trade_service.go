package service

import (
	"context"
	"fmt"
	"strings"

	"signaltrader/internal/models"
)

// TradeService предоставляет бизнес-логику поверх торгового ядра.
//
// Тонкий слой между HTTP API и ядром: валидация входа, нормализация
// параметров, доступ к истории. Торговых решений здесь нет.
type TradeService struct {
	engine    TradingEngineInterface
	tradeRepo TradeRepositoryInterface
	eventRepo EventRepositoryInterface
}

// NewTradeService создает новый экземпляр TradeService
func NewTradeService(
	engine TradingEngineInterface,
	tradeRepo TradeRepositoryInterface,
	eventRepo EventRepositoryInterface,
) *TradeService {
	return &TradeService{
		engine:    engine,
		tradeRepo: tradeRepo,
		eventRepo: eventRepo,
	}
}

// SubmitSignal передает сигнал в ядро после валидации
func (s *TradeService) SubmitSignal(ctx context.Context, sig *models.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal is required")
	}
	sig.Symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))
	if sig.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if sig.Direction != models.SideLong && sig.Direction != models.SideShort {
		return fmt.Errorf("direction must be %q or %q", models.SideLong, models.SideShort)
	}
	if sig.Entry <= 0 {
		return fmt.Errorf("entry price must be positive")
	}
	if sig.Timeframe == "" {
		sig.Timeframe = "default"
	}

	return s.engine.HandleSignal(ctx, sig)
}

// GetPositions возвращает снапшот живых позиций
func (s *TradeService) GetPositions() []models.TradeState {
	return s.engine.Positions()
}

// ForceClose закрывает позицию символа по требованию оператора
func (s *TradeService) ForceClose(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	return s.engine.ForceClose(ctx, symbol)
}

// ResetReentry сбрасывает счетчик попыток реентри символа
func (s *TradeService) ResetReentry(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	s.engine.ResetReentry(symbol)
	return nil
}

// GetReentryState возвращает запись реентри символа
func (s *TradeService) GetReentryState(symbol string) models.ReentryRecord {
	return s.engine.ReentryState(strings.ToUpper(strings.TrimSpace(symbol)))
}

// GetEvents возвращает последние события жизненного цикла.
// Пустой symbol - события по всем символам.
func (s *TradeService) GetEvents(symbol string, limit int) ([]*models.TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol != "" {
		return s.eventRepo.GetBySymbol(symbol, limit)
	}
	return s.eventRepo.GetRecent(limit)
}

// GetOpenTrades возвращает незакрытые позиции из хранилища
func (s *TradeService) GetOpenTrades() ([]*models.TradeState, error) {
	return s.tradeRepo.GetOpen()
}
