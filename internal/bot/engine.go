package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/config"
	"signaltrader/internal/exchange"
	"signaltrader/internal/models"
)

// ErrNoPosition - по символу нет открытой позиции
var ErrNoPosition = errors.New("no open position")

// EventRecorder персистит структурированные события жизненного цикла
type EventRecorder interface {
	RecordTradeEvent(ctx context.Context, ev *models.TradeEvent) error
}

// NopRecorder - заглушка для работы без БД
type NopRecorder struct{}

// RecordTradeEvent ничего не делает
func (NopRecorder) RecordTradeEvent(ctx context.Context, ev *models.TradeEvent) error { return nil }

// StateStore персистит снапшоты позиций для восстановления и истории
type StateStore interface {
	SaveOpen(ts *models.TradeState) (int, error)
	UpdateProgress(ts *models.TradeState) error
	MarkClosed(symbol string, exitPrice, pol float64) error
}

// NopStore - заглушка для работы без БД
type NopStore struct{}

func (NopStore) SaveOpen(ts *models.TradeState) (int, error)              { return 0, nil }
func (NopStore) UpdateProgress(ts *models.TradeState) error               { return nil }
func (NopStore) MarkClosed(symbol string, exitPrice, pol float64) error   { return nil }

// ============================================================
// Торговое ядро
// ============================================================
//
// Engine принимает сигналы, открывает позиции и владеет мониторами.
// Вся мутация состояния по символу идёт под локом символа из
// LockRegistry; карта мониторов защищена собственным мьютексом,
// который берётся только на короткие операции с картой.

// Engine - координатор жизненного цикла позиций
type Engine struct {
	cfg      config.TradingConfig
	client   exchange.Client
	router   *OrderRouter
	sizer    *Sizer
	risk     *RiskEvaluator
	pyramid  *PyramidPlanner
	gate     *ReentryGate
	book     *ReentryBook
	locks    *LockRegistry
	policy   Policy
	notifier *Notifier
	recorder EventRecorder
	store    StateStore
	log      *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	monitors map[string]*Monitor
	wg       sync.WaitGroup
}

// NewEngine собирает ядро из коллабораторов
func NewEngine(
	cfg config.TradingConfig,
	client exchange.Client,
	policy Policy,
	confirm Confirmations,
	notifier *Notifier,
	recorder EventRecorder,
	store StateStore,
	log *zap.Logger,
) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if store == nil {
		store = NopStore{}
	}
	log = log.Named("engine")

	return &Engine{
		cfg:      cfg,
		client:   client,
		router:   NewOrderRouter(client, notifier, cfg, log),
		sizer:    NewSizer(cfg, DefaultProfileRules()),
		risk:     NewRiskEvaluator(cfg),
		pyramid:  NewPyramidPlanner(cfg, policy, log),
		gate:     NewReentryGate(cfg, policy, confirm, log),
		book:     NewReentryBook(),
		locks:    NewLockRegistry(),
		policy:   policy,
		notifier: notifier,
		recorder: recorder,
		store:    store,
		log:      log,
		monitors: make(map[string]*Monitor),
	}
}

// Start фиксирует корневой контекст мониторов
func (e *Engine) Start(ctx context.Context) {
	e.baseCtx, e.baseCancel = context.WithCancel(ctx)
	e.log.Info("engine started",
		zap.Duration("tick_interval", e.cfg.TickInterval),
		zap.Duration("position_timeout", e.cfg.PositionTimeout))
}

// Stop отменяет все мониторы и ждёт их завершения
func (e *Engine) Stop() {
	if e.baseCancel != nil {
		e.baseCancel()
	}
	e.wg.Wait()
	e.log.Info("engine stopped")
}

// HandleSignal обрабатывает входящий торговый сигнал
//
// Повторный сигнал в ту же сторону по занятому символу игнорируется.
// Противоположный сигнал закрывает текущую позицию и открывает новую
// (реверс).
func (e *Engine) HandleSignal(ctx context.Context, sig *models.Signal) error {
	if sig == nil || sig.Symbol == "" {
		return fmt.Errorf("empty signal")
	}
	log := e.log.With(zap.String("symbol", sig.Symbol), zap.String("direction", sig.Direction))

	lock := e.locks.Get(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if existing := e.monitorFor(sig.Symbol); existing != nil && existing.ts.State != models.StateClosed {
		if existing.ts.Side == sig.Direction {
			log.Info("duplicate signal for open position, ignored")
			return nil
		}
		log.Info("opposite signal, reversing position")
		if err := e.reverseLocked(ctx, existing); err != nil {
			return err
		}
	}

	return e.enterLocked(ctx, sig, false)
}

// reverseLocked закрывает позицию монитора под уже взятым локом символа
func (e *Engine) reverseLocked(ctx context.Context, m *Monitor) error {
	if m.ts.State == models.StateActive {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		err := e.router.CloseMarket(cctx, m.ts.Symbol, m.ts.Side, m.ts.Quantity)
		cancel()
		if err != nil {
			return fmt.Errorf("reverse close: %w", err)
		}
	} else if m.ts.SLOrderID != "" {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		_ = e.router.Cancel(cctx, m.ts.SLOrderID, m.ts.Symbol)
		cancel()
	}

	m.close(models.NotificationTypeClose, "reversed by opposite signal", 0)
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// enterLocked открывает новую позицию под уже взятым локом символа
func (e *Engine) enterLocked(ctx context.Context, sig *models.Signal, isReentry bool) error {
	sz, err := e.sizer.Size(sig)
	if err != nil {
		e.notifier.Publish(&models.Notification{
			Type:     models.NotificationTypeError,
			Severity: models.SeverityWarn,
			Symbol:   sig.Symbol,
			Message:  fmt.Sprintf("signal rejected: %v", err),
		})
		return err
	}

	ts := &models.TradeState{
		Symbol:        sig.Symbol,
		Side:          sig.Direction,
		Entry:         sig.Entry,
		StopLoss:      *sig.StopLoss,
		Quantity:      sz.Quantity,
		Leverage:      sz.Leverage,
		InitialMargin: sz.InitialMargin,
		TakeProfits:   append([]float64(nil), sig.TakeProfits...),
		State:         models.StateEntering,
		OpenedAt:      time.Now(),
	}

	if err := e.router.EnsureFeed(sig.Symbol); err != nil {
		e.log.Warn("ticker feed unavailable, order type heuristic degraded",
			zap.String("symbol", sig.Symbol), zap.Error(err))
	}

	side := exchange.SideBuy
	if !sig.IsLong() {
		side = exchange.SideSell
	}
	var finalTP float64
	if n := len(ts.TakeProfits); n > 0 {
		finalTP = ts.TakeProfits[n-1]
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	order, err := e.router.SubmitMarketOrFallbackLimit(cctx, EntryOrder{
		Symbol:     sig.Symbol,
		Side:       side,
		Price:      sig.Entry,
		Quantity:   sz.Quantity,
		Leverage:   sz.Leverage,
		StopLoss:   ts.StopLoss,
		TakeProfit: finalTP,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("entry for %s: %w", sig.Symbol, err)
	}
	ts.SLOrderID = order.ID

	notifType := models.NotificationTypeEntry
	message := "entry order submitted"
	if isReentry {
		// Счётчик попыток растёт только после фактической отправки ордера
		e.book.Increment(sig.Symbol)
		notifType = models.NotificationTypeReentry
		message = "re-entry order submitted"
	}
	e.notifier.Publish(&models.Notification{
		Type:     notifType,
		Severity: models.SeverityInfo,
		Symbol:   sig.Symbol,
		Message:  message,
		Meta: map[string]interface{}{
			"entry":     sig.Entry,
			"stop_loss": ts.StopLoss,
			"quantity":  sz.Quantity,
			"leverage":  sz.Leverage,
		},
	})

	if _, err := e.store.SaveOpen(ts); err != nil {
		e.log.Warn("trade snapshot save failed", zap.String("symbol", sig.Symbol), zap.Error(err))
	}

	m := newMonitor(e, ts, sig)
	mctx, mcancel := context.WithCancel(e.baseContext())
	m.cancel = mcancel

	e.mu.Lock()
	e.monitors[sig.Symbol] = m
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		m.Run(mctx)
	}()

	e.log.Info("position monitor spawned",
		zap.String("symbol", sig.Symbol),
		zap.String("side", sig.Direction),
		zap.Bool("reentry", isReentry),
		zap.Float64("quantity", sz.Quantity),
		zap.Float64("leverage", sz.Leverage))
	return nil
}

// reenter - асинхронный повторный вход после стоп-аута.
// Вызывается горутиной монитора уже ПОСЛЕ завершения тика (лок свободен).
func (e *Engine) reenter(sig *models.Signal) {
	lock := e.locks.Get(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if existing := e.monitorFor(sig.Symbol); existing != nil && existing.ts.State != models.StateClosed {
		e.log.Info("reentry skipped, symbol already occupied", zap.String("symbol", sig.Symbol))
		return
	}

	if err := e.enterLocked(e.baseContext(), sig, true); err != nil {
		e.log.Warn("reentry failed", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
}

// ForceClose закрывает позицию по требованию оператора
func (e *Engine) ForceClose(ctx context.Context, symbol string) error {
	return e.closeSymbol(ctx, symbol, models.NotificationTypeClose, "closed by operator")
}

// closeSymbol закрывает позицию символа с указанной причиной
func (e *Engine) closeSymbol(ctx context.Context, symbol, notifType, reason string) error {
	lock := e.locks.Get(symbol)
	lock.Lock()
	defer lock.Unlock()

	m := e.monitorFor(symbol)
	if m == nil || m.ts.State == models.StateClosed {
		return fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}

	if m.ts.State == models.StateActive {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		err := e.router.CloseMarket(cctx, m.ts.Symbol, m.ts.Side, m.ts.Quantity)
		cancel()
		if err != nil {
			return fmt.Errorf("close %s: %w", symbol, err)
		}
	} else if m.ts.SLOrderID != "" {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		_ = e.router.Cancel(cctx, m.ts.SLOrderID, symbol)
		cancel()
	}

	m.close(notifType, reason, 0)
	m.record(ctx, notifType, 0, m.ts.StopLoss, m.ts.StopLoss)
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// ResetReentry сбрасывает счётчик попыток реентри (новый цикл стратегии)
func (e *Engine) ResetReentry(symbol string) {
	e.book.Reset(symbol)
	e.log.Info("reentry counter reset", zap.String("symbol", symbol))
}

// ReentryState возвращает текущую запись реентри по символу
func (e *Engine) ReentryState(symbol string) models.ReentryRecord {
	return e.book.Get(symbol)
}

// Positions возвращает снапшот состояний всех живых позиций
func (e *Engine) Positions() []models.TradeState {
	e.mu.Lock()
	ms := make([]*Monitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		ms = append(ms, m)
	}
	e.mu.Unlock()

	out := make([]models.TradeState, 0, len(ms))
	for _, m := range ms {
		lock := e.locks.Get(m.ts.Symbol)
		lock.Lock()
		out = append(out, *m.ts)
		lock.Unlock()
	}
	return out
}

// monitorFor возвращает монитор символа (nil, если нет)
func (e *Engine) monitorFor(symbol string) *Monitor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monitors[symbol]
}

// monitorExited убирает завершившийся монитор из карты
func (e *Engine) monitorExited(m *Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.monitors[m.ts.Symbol] == m {
		delete(e.monitors, m.ts.Symbol)
	}
}

func (e *Engine) baseContext() context.Context {
	if e.baseCtx != nil {
		return e.baseCtx
	}
	return context.Background()
}
