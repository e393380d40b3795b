package handlers

import (
	"context"
	"errors"

	"signaltrader/internal/models"
)

// ============================================================
// Моки сервисов для тестов хендлеров
// ============================================================

type mockTradeService struct {
	submitErr error
	closeErr  error
	resetErr  error
	eventsErr error

	submitted []*models.Signal
	closed    []string
	resets    []string
	positions []models.TradeState
	reentry   models.ReentryRecord
	events    []*models.TradeEvent
}

func (m *mockTradeService) SubmitSignal(ctx context.Context, sig *models.Signal) error {
	m.submitted = append(m.submitted, sig)
	return m.submitErr
}

func (m *mockTradeService) GetPositions() []models.TradeState {
	return m.positions
}

func (m *mockTradeService) ForceClose(ctx context.Context, symbol string) error {
	m.closed = append(m.closed, symbol)
	return m.closeErr
}

func (m *mockTradeService) ResetReentry(symbol string) error {
	m.resets = append(m.resets, symbol)
	return m.resetErr
}

func (m *mockTradeService) GetReentryState(symbol string) models.ReentryRecord {
	return m.reentry
}

func (m *mockTradeService) GetEvents(symbol string, limit int) ([]*models.TradeEvent, error) {
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

type mockNotificationService struct {
	limitSeen int
	result    []*models.Notification
	err       error
}

func (m *mockNotificationService) GetNotifications(limit int) ([]*models.Notification, error) {
	m.limitSeen = limit
	return m.result, m.err
}

var errServiceDown = errors.New("service down")
