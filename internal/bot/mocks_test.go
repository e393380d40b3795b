package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/config"
	"signaltrader/internal/exchange"
)

// ============================================================
// Общие моки для тестов пакета bot
// ============================================================

// fakeClient - управляемая заглушка биржевого клиента.
// Поведение задаётся функциями-хуками; nil-хук означает "успех по умолчанию".
type fakeClient struct {
	mu sync.Mutex

	fetchPriceFn func(symbol string) (float64, error)
	submitFn     func(req *exchange.OrderRequest) (*exchange.Order, error)
	cancelFn     func(orderID, symbol string) error
	modifyFn     func(orderID, symbol string, fields *exchange.ModifyFields) error
	addMarginFn  func(symbol, side string, amount float64) error
	positionsFn  func() ([]*exchange.Position, error)

	submitted  []*exchange.OrderRequest
	cancelled  []string
	modified   []*exchange.ModifyFields
	marginAdds []float64
	leverages  []float64
}

func (f *fakeClient) GetName() string { return "fake" }

func (f *fakeClient) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	fn := f.fetchPriceFn
	f.mu.Unlock()
	if fn != nil {
		return fn(symbol)
	}
	return 100.0, nil
}

func (f *fakeClient) GetBalance(ctx context.Context) (float64, error) { return 10000, nil }

func (f *fakeClient) SubmitOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &exchange.Order{
		ID:        "order-1",
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Status:    "filled",
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	fn := f.cancelFn
	f.mu.Unlock()
	if fn != nil {
		return fn(orderID, symbol)
	}
	return nil
}

func (f *fakeClient) ModifyOrder(ctx context.Context, orderID, symbol string, fields *exchange.ModifyFields) error {
	f.mu.Lock()
	f.modified = append(f.modified, fields)
	fn := f.modifyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(orderID, symbol, fields)
	}
	return nil
}

func (f *fakeClient) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	f.mu.Lock()
	f.leverages = append(f.leverages, leverage)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) AddMargin(ctx context.Context, symbol, positionSide string, amount float64) error {
	f.mu.Lock()
	f.marginAdds = append(f.marginAdds, amount)
	fn := f.addMarginFn
	f.mu.Unlock()
	if fn != nil {
		return fn(symbol, positionSide, amount)
	}
	return nil
}

func (f *fakeClient) GetOpenPositions(ctx context.Context) ([]*exchange.Position, error) {
	f.mu.Lock()
	fn := f.positionsFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil, nil
}

func (f *fakeClient) SubscribeTicker(symbol string, callback func(*exchange.Ticker)) error {
	return nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) submittedOrders() []*exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*exchange.OrderRequest, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// fakeConfirmations - управляемые подтверждения для гейта реентри
type fakeConfirmations struct {
	trend    bool
	momentum bool
}

func (f fakeConfirmations) ConfirmTrend(ctx context.Context, symbol string) bool    { return f.trend }
func (f fakeConfirmations) ConfirmMomentum(ctx context.Context, symbol string) bool { return f.momentum }

// testConfig возвращает боевые пороги, ужатые для тестов по времени
func testConfig() config.TradingConfig {
	return config.TradingConfig{
		DefaultMargin:   100,
		DefaultLeverage: 20,
		LeverageCap:     50,

		BreakevenThreshold: 2.0,
		BreakevenOffset:    0.15,
		FallbackThreshold:  4.0,
		FallbackOffset:     0.3,

		TopUpThreshold:    2.5,
		TopUpAmount:       20,
		TrailingThreshold: 6.0,
		TrailingDistance:  1.0,
		TrailingAfterTP:   4,

		ReentryMaxAttempts:  2,
		ReentryDelayMin:     time.Minute,
		ReentryDelayMax:     5 * time.Minute,
		ReentryMaxDeviation: 1.5,

		PyramidMaxSteps:     2,
		PyramidTriggers:     []float64{3.0, 5.0},
		PyramidTopUps:       []float64{50, 50},
		PyramidMaxDeviation: 2.0,

		HedgeEnabled:    true,
		HedgeDrawdown:   8.0,
		HedgeSLDistance: 2.0,

		TickInterval:    10 * time.Millisecond,
		PositionTimeout: 0,
		OrderTimeout:    time.Second,

		MarketDeviationPct: 1.0,
		FastMAWindow:       5,
	}
}

func testLogger() *zap.Logger { return zap.NewNop() }

func ptr(v float64) *float64 { return &v }

// waitFor опрашивает условие до успеха или дедлайна
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
