package bot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"signaltrader/internal/config"
	"signaltrader/internal/exchange"
	"signaltrader/internal/models"
)

// ============================================================
// Engine / Monitor Tests
// ============================================================

// priceSource - потокобезопасная управляемая цена для fakeClient
type priceSource struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (p *priceSource) set(price float64) {
	p.mu.Lock()
	p.price = price
	p.err = nil
	p.mu.Unlock()
}

func (p *priceSource) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *priceSource) get(string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price, p.err
}

func newTestEngine(t *testing.T, client *fakeClient, cfg config.TradingConfig) *Engine {
	t.Helper()

	notifier := NewNotifier(256, testLogger())
	eng := NewEngine(cfg, client, NewOverridePolicy(nil), PermissiveConfirmations{}, notifier, nil, nil, testLogger())
	eng.Start(context.Background())
	t.Cleanup(func() {
		eng.Stop()
		notifier.Close()
	})
	return eng
}

func longSignal() *models.Signal {
	return &models.Signal{
		Symbol:      "BTCUSDT",
		Direction:   models.SideLong,
		Entry:       100,
		StopLoss:    ptr(95),
		TakeProfits: []float64{104, 108},
		Group:       "signals",
		Timeframe:   "default",
		ReceivedAt:  time.Now(),
	}
}

// openPositionFor настраивает fakeClient так, что биржа "видит" позицию
func openPositionFor(client *fakeClient, symbol, side string, fill float64) {
	client.mu.Lock()
	client.positionsFn = func() ([]*exchange.Position, error) {
		return []*exchange.Position{{
			Symbol:     symbol,
			Side:       side,
			Size:       1,
			EntryPrice: fill,
		}}, nil
	}
	client.mu.Unlock()
}

func positionState(eng *Engine, symbol string) (models.TradeState, bool) {
	for _, ts := range eng.Positions() {
		if ts.Symbol == symbol {
			return ts, true
		}
	}
	return models.TradeState{}, false
}

func TestEngineEntersAndActivates(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts, ok := positionState(eng, "BTCUSDT")
	if !ok {
		t.Fatal("expected position after signal")
	}
	if ts.State != models.StateEntering {
		t.Errorf("expected ENTERING right after signal, got %s", ts.State)
	}

	// Биржа подтверждает позицию с фактической ценой исполнения 100.2
	openPositionFor(client, "BTCUSDT", models.SideLong, 100.2)

	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	ts, _ = positionState(eng, "BTCUSDT")
	if ts.Entry != 100.2 {
		t.Errorf("expected entry adopted from fill price, got %v", ts.Entry)
	}
	if !ts.PositionActive {
		t.Error("expected PositionActive after activation")
	}
}

func TestEngineDuplicateSignalIgnored(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := len(client.submittedOrders())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("duplicate signal must be ignored, got %v", err)
	}
	if got := len(client.submittedOrders()); got != before {
		t.Errorf("duplicate signal must not submit orders, submissions %d -> %d", before, got)
	}
	if got := len(eng.Positions()); got != 1 {
		t.Errorf("expected single position, got %d", got)
	}
}

func TestEngineOppositeSignalReverses(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// Биржа больше не подтверждает лонг - новый шорт останется в ENTERING
	client.mu.Lock()
	client.positionsFn = func() ([]*exchange.Position, error) { return nil, nil }
	client.mu.Unlock()

	short := longSignal()
	short.Direction = models.SideShort
	short.StopLoss = ptr(105)
	short.TakeProfits = []float64{96, 92}

	if err := eng.HandleSignal(context.Background(), short); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}

	ts, ok := positionState(eng, "BTCUSDT")
	if !ok {
		t.Fatal("expected position after reverse")
	}
	if ts.Side != models.SideShort {
		t.Errorf("expected short position after reverse, got %s", ts.Side)
	}

	// Среди отправленных ордеров обязан быть reduce-only на закрытие лонга
	var sawClose bool
	for _, req := range client.submittedOrders() {
		if req.ReduceOnly && req.Side == exchange.SideSell {
			sawClose = true
		}
	}
	if !sawClose {
		t.Error("expected reduce-only sell to close the long before reversing")
	}
}

func TestEngineStopOutAndReentry(t *testing.T) {
	cfg := testConfig()
	cfg.ReentryMaxDeviation = 10 // стоп-аут уводит цену дальше боевых 1.5%

	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, cfg)

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// Цена пробивает SL - стоп-аут и попытка реентри
	prices.set(94)

	if !waitFor(time.Second, func() bool {
		return eng.ReentryState("BTCUSDT").Attempts == 1
	}) {
		t.Fatalf("expected reentry attempt after stop-out, got %d", eng.ReentryState("BTCUSDT").Attempts)
	}

	// Явный сброс счётчика
	eng.ResetReentry("BTCUSDT")
	if got := eng.ReentryState("BTCUSDT").Attempts; got != 0 {
		t.Errorf("expected 0 attempts after reset, got %d", got)
	}
}

func TestEnginePriceFailureSkipsTick(t *testing.T) {
	prices := &priceSource{}
	prices.fail(errors.New("price feed down"))
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)

	// Несколько тиков без цены: состояние не двигается
	time.Sleep(50 * time.Millisecond)
	ts, ok := positionState(eng, "BTCUSDT")
	if !ok {
		t.Fatal("expected position to survive price failures")
	}
	if ts.State != models.StateEntering {
		t.Errorf("expected ENTERING while price unavailable, got %s", ts.State)
	}

	// Цена вернулась - монитор продолжает с места остановки
	prices.set(100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE after price recovered")
	}
}

func TestEngineBreakevenAndTopUp(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// PoL 2.5%: тир безубытка (SL к 100.15) и доливка маржи
	prices.set(102.5)

	if !waitFor(time.Second, func() bool {
		ts, _ := positionState(eng, "BTCUSDT")
		return ts.BreakevenApplied && ts.TopUpApplied
	}) {
		ts, _ := positionState(eng, "BTCUSDT")
		t.Fatalf("expected breakeven and top-up latches, got %+v", ts)
	}

	ts, _ := positionState(eng, "BTCUSDT")
	if math.Abs(ts.StopLoss-100.15) > 1e-9 {
		t.Errorf("expected SL at breakeven 100.15, got %v", ts.StopLoss)
	}

	client.mu.Lock()
	modified := len(client.modified)
	margins := len(client.marginAdds)
	client.mu.Unlock()
	if modified == 0 {
		t.Error("expected SL modify call on exchange")
	}
	if margins == 0 {
		t.Error("expected margin top-up call on exchange")
	}

	// Защёлки одноразовые: SL не двигается повторно на том же тире
	time.Sleep(50 * time.Millisecond)
	ts, _ = positionState(eng, "BTCUSDT")
	if math.Abs(ts.StopLoss-100.15) > 1e-9 {
		t.Errorf("expected SL to stay at 100.15, got %v", ts.StopLoss)
	}
}

func TestEngineTakeProfitRatchetAndTrailing(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// Цена берёт оба TP (104, 108). PoL 8% активирует трейлинг,
	// который подтягивает SL к 108 - 1% = 106.92 поверх храповика.
	prices.set(108)

	if !waitFor(time.Second, func() bool {
		ts, _ := positionState(eng, "BTCUSDT")
		return ts.TPHit == 2 && ts.TrailingActive
	}) {
		ts, _ := positionState(eng, "BTCUSDT")
		t.Fatalf("expected TPHit=2 and trailing, got %+v", ts)
	}

	ts, _ := positionState(eng, "BTCUSDT")
	if math.Abs(ts.StopLoss-106.92) > 1e-9 {
		t.Errorf("expected trailing SL 106.92, got %v", ts.StopLoss)
	}
}

func TestEngineShortTrailingRetraceKeepsStop(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	short := longSignal()
	short.Direction = models.SideShort
	short.StopLoss = ptr(105)
	short.TakeProfits = []float64{88, 85}

	if err := eng.HandleSignal(context.Background(), short); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideShort, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// PoL 7% активирует трейлинг: SL подтягивается к 93 + 1% = 93.93
	prices.set(93)
	if !waitFor(time.Second, func() bool {
		ts, _ := positionState(eng, "BTCUSDT")
		return ts.TrailingActive && math.Abs(ts.StopLoss-93.93) < 1e-9
	}) {
		ts, _ := positionState(eng, "BTCUSDT")
		t.Fatalf("expected trailing SL 93.93, got %+v", ts)
	}

	// Откат цены вверх: кандидат трейлинга хуже текущего SL,
	// SL обязан остаться на месте, а не обнулиться
	prices.set(93.5)
	time.Sleep(50 * time.Millisecond)

	ts, ok := positionState(eng, "BTCUSDT")
	if !ok {
		t.Fatal("position disappeared on retrace")
	}
	if ts.StopLoss <= 0 {
		t.Fatalf("stop-loss destroyed on short retrace: %v", ts.StopLoss)
	}
	if math.Abs(ts.StopLoss-93.93) > 1e-9 {
		t.Errorf("expected SL to hold at 93.93 on retrace, got %v", ts.StopLoss)
	}
}

func TestEngineTickPanicReported(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}

	sink := &collectSink{}
	notifier := NewNotifier(256, testLogger(), sink)
	eng := NewEngine(testConfig(), client, NewOverridePolicy(nil), PermissiveConfirmations{}, notifier, nil, nil, testLogger())
	eng.Start(context.Background())
	t.Cleanup(func() {
		eng.Stop()
		notifier.Close()
	})

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// Один тик падает с паникой внутри получения цены
	client.mu.Lock()
	client.fetchPriceFn = func(string) (float64, error) { panic("feed corrupted") }
	client.mu.Unlock()

	if !waitFor(time.Second, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, n := range sink.msgs {
			if n.Type == models.NotificationTypeError && n.Severity == models.SeverityError {
				return true
			}
		}
		return false
	}) {
		t.Fatal("expected ERROR notification after tick panic")
	}

	// Монитор жив: после восстановления фида позиция продолжает сопровождаться
	client.mu.Lock()
	client.fetchPriceFn = prices.get
	client.mu.Unlock()

	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive && time.Since(ts.LastTick) < time.Second
	}) {
		t.Fatal("monitor did not survive the panic")
	}
}

func TestEnginePyramidStepRaisesLeverage(t *testing.T) {
	cfg := testConfig()
	cfg.PyramidMaxDeviation = 5 // шаг по цене 103 не должен душиться отклонением
	cfg.PyramidLeverages = []float64{30, 0}

	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, cfg)

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	// PoL 3% берёт триггер первого шага: доливка 50 USDT + плечо 30
	prices.set(103)

	if !waitFor(time.Second, func() bool {
		ts, _ := positionState(eng, "BTCUSDT")
		return ts.PyramidSteps == 1
	}) {
		ts, _ := positionState(eng, "BTCUSDT")
		t.Fatalf("expected first pyramid step, got %+v", ts)
	}

	ts, _ := positionState(eng, "BTCUSDT")
	if ts.Leverage != 30 {
		t.Errorf("expected leverage raised to 30, got %v", ts.Leverage)
	}

	client.mu.Lock()
	var sawRaise bool
	for _, lev := range client.leverages {
		if lev == 30 {
			sawRaise = true
		}
	}
	margins := len(client.marginAdds)
	client.mu.Unlock()
	if !sawRaise {
		t.Error("expected SetLeverage(30) call on exchange")
	}
	if margins == 0 {
		t.Error("expected margin top-up call for the pyramid step")
	}
}

func TestEngineForceClose(t *testing.T) {
	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, testConfig())

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	if err := eng.ForceClose(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Монитор завершает работу, позиция уходит из списка
	if !waitFor(time.Second, func() bool {
		_, ok := positionState(eng, "BTCUSDT")
		return !ok
	}) {
		t.Fatal("position still listed after force close")
	}
}

func TestEngineForceCloseNoPosition(t *testing.T) {
	client := &fakeClient{}
	eng := newTestEngine(t, client, testConfig())

	err := eng.ForceClose(context.Background(), "DOGEUSDT")
	if !errors.Is(err, ErrNoPosition) {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}
}

func TestEngineRejectsSignalWithoutStopLoss(t *testing.T) {
	client := &fakeClient{}
	eng := newTestEngine(t, client, testConfig())

	sig := longSignal()
	sig.StopLoss = nil
	if err := eng.HandleSignal(context.Background(), sig); !errors.Is(err, ErrMissingStopLoss) {
		t.Errorf("expected ErrMissingStopLoss, got %v", err)
	}
	if len(eng.Positions()) != 0 {
		t.Error("rejected signal must not create a position")
	}
}

// ============================================================
// TimeoutGuard Tests
// ============================================================

func TestTimeoutGuardSweep(t *testing.T) {
	cfg := testConfig()
	cfg.PositionTimeout = 10 * time.Millisecond

	prices := &priceSource{price: 100}
	client := &fakeClient{fetchPriceFn: prices.get}
	eng := newTestEngine(t, client, cfg)

	if err := eng.HandleSignal(context.Background(), longSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	openPositionFor(client, "BTCUSDT", models.SideLong, 100)
	if !waitFor(time.Second, func() bool {
		ts, ok := positionState(eng, "BTCUSDT")
		return ok && ts.State == models.StateActive
	}) {
		t.Fatal("position never became ACTIVE")
	}

	time.Sleep(20 * time.Millisecond) // позиция пересиживает лимит

	guard := NewTimeoutGuard(eng)
	guard.sweep(context.Background())

	if !waitFor(time.Second, func() bool {
		_, ok := positionState(eng, "BTCUSDT")
		return !ok
	}) {
		t.Fatal("expected position closed by timeout sweep")
	}

	// Закрытие шло через reduce-only ордер
	var sawClose bool
	for _, req := range client.submittedOrders() {
		if req.ReduceOnly {
			sawClose = true
		}
	}
	if !sawClose {
		t.Error("expected reduce-only close order from timeout sweep")
	}
}
