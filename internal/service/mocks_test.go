package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/models"
)

func testLogger() *zap.Logger { return zap.NewNop() }

// ============================================================
// Моки для тестов сервисного слоя
// ============================================================

type mockEngine struct {
	handled     []*models.Signal
	closed      []string
	resets      []string
	handleErr   error
	closeErr    error
	positions   []models.TradeState
	reentryRecs map[string]models.ReentryRecord
}

func (m *mockEngine) HandleSignal(ctx context.Context, sig *models.Signal) error {
	m.handled = append(m.handled, sig)
	return m.handleErr
}

func (m *mockEngine) ForceClose(ctx context.Context, symbol string) error {
	m.closed = append(m.closed, symbol)
	return m.closeErr
}

func (m *mockEngine) ResetReentry(symbol string) {
	m.resets = append(m.resets, symbol)
}

func (m *mockEngine) ReentryState(symbol string) models.ReentryRecord {
	if rec, ok := m.reentryRecs[symbol]; ok {
		return rec
	}
	return models.ReentryRecord{Symbol: symbol}
}

func (m *mockEngine) Positions() []models.TradeState {
	return m.positions
}

type mockEventRepo struct {
	recentCalls   []int
	symbolCalls   []string
	symbolLimits  []int
	recentResult  []*models.TradeEvent
	symbolResult  []*models.TradeEvent
	recorded      []*models.TradeEvent
	recordErr     error
	getRecentErr  error
	getSymbolErr  error
	deletedBefore []time.Duration
}

func (m *mockEventRepo) RecordTradeEvent(ctx context.Context, ev *models.TradeEvent) error {
	m.recorded = append(m.recorded, ev)
	return m.recordErr
}

func (m *mockEventRepo) GetRecent(limit int) ([]*models.TradeEvent, error) {
	m.recentCalls = append(m.recentCalls, limit)
	return m.recentResult, m.getRecentErr
}

func (m *mockEventRepo) GetBySymbol(symbol string, limit int) ([]*models.TradeEvent, error) {
	m.symbolCalls = append(m.symbolCalls, symbol)
	m.symbolLimits = append(m.symbolLimits, limit)
	return m.symbolResult, m.getSymbolErr
}

func (m *mockEventRepo) DeleteOlderThan(age time.Duration) (int64, error) {
	m.deletedBefore = append(m.deletedBefore, age)
	return 0, nil
}

type mockTradeRepo struct {
	open []*models.TradeState
}

func (m *mockTradeRepo) SaveOpen(ts *models.TradeState) (int, error)   { return 1, nil }
func (m *mockTradeRepo) UpdateProgress(ts *models.TradeState) error    { return nil }
func (m *mockTradeRepo) MarkClosed(string, float64, float64) error     { return nil }
func (m *mockTradeRepo) GetOpen() ([]*models.TradeState, error)        { return m.open, nil }
func (m *mockTradeRepo) GetBySymbolOpen(string) (*models.TradeState, error) {
	return nil, nil
}
func (m *mockTradeRepo) CountOpen() (int, error) { return len(m.open), nil }

type mockNotificationRepo struct {
	created      []*models.Notification
	createErr    error
	recentCalls  []int
	recentResult []*models.Notification
}

func (m *mockNotificationRepo) Create(n *models.Notification) error {
	m.created = append(m.created, n)
	return m.createErr
}

func (m *mockNotificationRepo) GetRecent(limit int) ([]*models.Notification, error) {
	m.recentCalls = append(m.recentCalls, limit)
	return m.recentResult, nil
}

func (m *mockNotificationRepo) DeleteOlderThan(age time.Duration) (int64, error) {
	return 0, nil
}

type mockBroadcaster struct {
	sent []*models.Notification
}

func (m *mockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.sent = append(m.sent, n)
}
