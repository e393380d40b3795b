package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/exchange"
	"signaltrader/internal/models"
	"signaltrader/pkg/utils"
)

// ============================================================
// Монитор жизненного цикла позиции
// ============================================================
//
// Одна горутина на открытую позицию. Каждый тик выполняется под локом
// символа: пока тик идёт, никто другой (HandleSignal, ForceClose, API)
// не может трогать TradeState этого символа. Отмена контекста
// проверяется только на границах тиков - начатый тик дорабатывает.

// Monitor сопровождает одну позицию от входа до закрытия
type Monitor struct {
	eng    *Engine
	ts     *models.TradeState
	sig    *models.Signal
	cancel context.CancelFunc
	log    *zap.Logger
}

func newMonitor(eng *Engine, ts *models.TradeState, sig *models.Signal) *Monitor {
	return &Monitor{
		eng: eng,
		ts:  ts,
		sig: sig,
		log: eng.log.Named("monitor").With(zap.String("symbol", ts.Symbol)),
	}
}

// Run крутит цикл тиков до закрытия позиции или отмены контекста
func (m *Monitor) Run(ctx context.Context) {
	defer m.eng.monitorExited(m)

	OpenPositions.Inc()
	defer OpenPositions.Dec()

	ticker := time.NewTicker(m.eng.cfg.TickInterval)
	defer ticker.Stop()

	m.log.Info("monitor started",
		zap.String("side", m.ts.Side),
		zap.Float64("entry", m.ts.Entry),
		zap.Float64("stop_loss", m.ts.StopLoss))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor cancelled")
			return
		case <-ticker.C:
			if terminal := m.tick(ctx); terminal {
				m.log.Info("monitor finished, position closed")
				return
			}
		}
	}
}

// tick выполняет один проход под локом символа.
// Возвращает true, когда позиция перешла в терминальное состояние.
func (m *Monitor) tick(ctx context.Context) (terminal bool) {
	lock := m.eng.locks.Get(m.ts.Symbol)
	lock.Lock()
	defer lock.Unlock()

	// Паника одного тика не валит монитор: залогировали,
	// отрепортили и ждём следующий
	defer func() {
		if r := recover(); r != nil {
			TickPanics.WithLabelValues(m.ts.Symbol).Inc()
			m.log.Error("tick panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			m.notify(models.NotificationTypeError, models.SeverityError,
				fmt.Sprintf("monitor tick failed: %v", r), 0)
			terminal = m.ts.State == models.StateClosed
		}
	}()

	start := time.Now()
	defer func() {
		TickDuration.WithLabelValues(m.ts.Symbol).Observe(float64(time.Since(start).Milliseconds()))
	}()
	TicksTotal.WithLabelValues(m.ts.Symbol).Inc()

	if m.ts.State == models.StateClosed {
		return true
	}

	price, err := m.fetchPrice(ctx)
	if err != nil {
		// Транзиентный сбой цены: пропускаем тик целиком,
		// состояние не трогаем
		TicksSkipped.WithLabelValues(m.ts.Symbol).Inc()
		m.log.Warn("price fetch failed, skipping tick", zap.Error(err))
		return false
	}

	m.ts.LastTick = time.Now()

	switch m.ts.State {
	case models.StateEntering:
		m.tickEntering(ctx, price)
	case models.StateActive:
		m.tickActive(ctx, price)
	}

	return m.ts.State == models.StateClosed
}

func (m *Monitor) fetchPrice(ctx context.Context) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
	defer cancel()
	return m.eng.client.FetchPrice(cctx, m.ts.Symbol)
}

// tickEntering ждёт подтверждения открытия позиции биржей
func (m *Monitor) tickEntering(ctx context.Context, price float64) {
	// Цена дошла до SL раньше, чем исполнился вход: снимаем ордер
	if slCrossed(price, m.ts.StopLoss, m.ts.IsLong()) {
		m.log.Warn("price hit stop level before entry fill, cancelling entry",
			zap.Float64("price", price), zap.Float64("stop_loss", m.ts.StopLoss))
		if m.ts.SLOrderID != "" {
			_ = m.eng.router.Cancel(ctx, m.ts.SLOrderID, m.ts.Symbol)
		}
		m.close(models.NotificationTypeClose, "entry cancelled: stop level reached before fill", price)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
	positions, err := m.eng.client.GetOpenPositions(cctx)
	cancel()
	if err != nil {
		m.log.Warn("position lookup failed", zap.Error(err))
		return
	}

	for _, p := range positions {
		if p.Symbol != m.ts.Symbol || p.Side != m.ts.Side || p.Size <= 0 {
			continue
		}
		if err := Transition(m.ts, models.StateActive); err != nil {
			m.log.Error("activation rejected", zap.Error(err))
			return
		}
		m.ts.PositionActive = true
		if p.EntryPrice > 0 {
			m.ts.Entry = p.EntryPrice // фактическая цена исполнения
		}
		m.log.Info("position confirmed active", zap.Float64("fill_price", p.EntryPrice))
		m.notify(models.NotificationTypeEntry, models.SeverityInfo, "position opened", price)
		m.record(ctx, models.NotificationTypeEntry, price, 0, m.ts.StopLoss)
		return
	}
}

// tickActive - основной проход по открытой позиции
func (m *Monitor) tickActive(ctx context.Context, price float64) {
	m.ts.Pol = utils.PolPercent(m.ts.Entry, price, m.ts.IsLong())

	// 1. Стоп-аут: цена пересекла текущий SL
	if slCrossed(price, m.ts.StopLoss, m.ts.IsLong()) {
		m.handleStopOut(ctx, price)
		return
	}

	// 2. Достигнутые TP уровни + храповик SL
	m.checkTakeProfits(ctx, price)

	// 3. Лестница рисков
	actions := m.eng.risk.Evaluate(m.ts.Pol, m.ts.StopLoss, m.ts.Entry, m.ts.IsLong(), m.ts.TPHit)
	if actions.HasActions() {
		m.applyRiskActions(ctx, actions, price)
	}

	// 4. Трейлинг подтягивает SL за ценой
	if m.ts.TrailingActive {
		if candidate := m.eng.risk.TrailingStopPrice(price, m.ts.StopLoss, m.ts.IsLong()); candidate > 0 {
			m.applySLMove(ctx, candidate, "trailing", price)
		}
	}

	// 5. Пирамидинг
	if step, ok := m.eng.pyramid.Next(m.ts, price, m.sig.Group, m.sig.Timeframe); ok {
		m.applyPyramid(ctx, step, price)
	}

	// 6. Хедж на просадке
	m.maybeHedge(ctx, price)

	if err := m.eng.store.UpdateProgress(m.ts); err != nil {
		m.log.Debug("trade snapshot update failed", zap.Error(err))
	}
}

// handleStopOut закрывает состояние и запускает процедуру реентри
//
// Сама позиция уже закрыта биржей по SL - ордер закрытия не шлём.
func (m *Monitor) handleStopOut(ctx context.Context, price float64) {
	m.log.Info("stop-out detected",
		zap.Float64("price", price), zap.Float64("stop_loss", m.ts.StopLoss))
	m.close(models.NotificationTypeClose, "position stopped out", price)
	m.record(ctx, models.NotificationTypeClose, price, m.ts.StopLoss, m.ts.StopLoss)

	rec := m.eng.book.Get(m.ts.Symbol)
	allowed := m.eng.gate.Allow(ctx, ReentryRequest{
		Symbol:       m.ts.Symbol,
		Group:        m.sig.Group,
		Timeframe:    m.sig.Timeframe,
		EntryPrice:   m.ts.Entry,
		CurrentPrice: price,
		Attempts:     rec.Attempts,
		LastAttempt:  rec.LastAttempt,
	})
	if !allowed {
		ReentriesTotal.WithLabelValues(m.ts.Symbol, "denied").Inc()
		return
	}
	ReentriesTotal.WithLabelValues(m.ts.Symbol, "allowed").Inc()

	// Повторный вход идёт через общий путь входа и берёт лок символа
	// заново - поэтому отдельной горутиной, после завершения тика
	go m.eng.reenter(m.sig)
}

// checkTakeProfits поднимает TPHit до старшего достигнутого уровня
// и двигает SL храповиком на предыдущий TP
func (m *Monitor) checkTakeProfits(ctx context.Context, price float64) {
	reached := m.ts.TPHit
	for i, tp := range m.ts.TakeProfits {
		level := i + 1
		if level <= m.ts.TPHit {
			continue
		}
		hit := price >= tp
		if !m.ts.IsLong() {
			hit = price <= tp
		}
		if hit {
			reached = level
		}
	}
	if reached == m.ts.TPHit {
		return
	}

	m.ts.TPHit = reached
	TPHits.WithLabelValues(m.ts.Symbol).Inc()
	m.log.Info("take-profit level reached", zap.Int("level", reached), zap.Float64("price", price))
	m.notify(models.NotificationTypeTPHit, models.SeverityInfo, "take-profit level reached", price)
	m.record(ctx, models.NotificationTypeTPHit, price, m.ts.StopLoss, m.ts.StopLoss)

	if newSL := RatchetStopLoss(m.ts.TakeProfits, reached, m.ts.StopLoss, m.ts.IsLong()); newSL > 0 {
		m.applySLMove(ctx, newSL, "tp_ratchet", price)
	}
}

// applyRiskActions применяет решения оценщика с учётом одноразовых защёлок
func (m *Monitor) applyRiskActions(ctx context.Context, actions models.RiskActionSet, price float64) {
	if actions.MoveSLTo > 0 {
		reason := "breakeven"
		applied := m.ts.BreakevenApplied
		if m.ts.Pol >= m.eng.cfg.FallbackThreshold {
			reason = "fallback"
			applied = m.ts.FallbackApplied
		}
		if !applied && m.applySLMove(ctx, actions.MoveSLTo, reason, price) {
			if reason == "fallback" {
				m.ts.FallbackApplied = true
				m.ts.BreakevenApplied = true
			} else {
				m.ts.BreakevenApplied = true
			}
		}
	}

	if actions.MarginTopUp > 0 && !m.ts.TopUpApplied {
		cctx, cancel := context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
		err := m.eng.router.TopUpMargin(cctx, m.ts.Symbol, m.ts.Side, actions.MarginTopUp)
		cancel()
		if err == nil {
			m.ts.TopUpApplied = true
			m.ts.InitialMargin += actions.MarginTopUp
			m.log.Info("margin topped up", zap.Float64("amount", actions.MarginTopUp))
		}
	}

	if actions.TriggerTrailing && !m.ts.TrailingActive {
		m.ts.TrailingActive = true
		TrailingActivations.WithLabelValues(m.ts.Symbol).Inc()
		m.log.Info("trailing stop activated", zap.Float64("pol", m.ts.Pol), zap.Int("tp_hit", m.ts.TPHit))
		m.notify(models.NotificationTypeTrailing, models.SeverityInfo, "trailing stop activated", price)
	}
}

// applySLMove переносит SL на бирже и в состоянии.
// Локальный SL обновляется только после успешного вызова биржи -
// при ошибке следующий тик предложит перенос снова.
func (m *Monitor) applySLMove(ctx context.Context, newSL float64, reason string, price float64) bool {
	if !m.ts.BetterSL(newSL) {
		return false
	}

	oldSL := m.ts.StopLoss
	if m.ts.SLOrderID != "" {
		cctx, cancel := context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
		err := m.eng.router.Modify(cctx, m.ts.SLOrderID, m.ts.Symbol, &exchange.ModifyFields{StopLoss: &newSL})
		cancel()
		if err != nil {
			return false
		}
	}

	m.ts.StopLoss = newSL
	SLMoves.WithLabelValues(m.ts.Symbol, reason).Inc()
	m.log.Info("stop-loss moved",
		zap.String("reason", reason),
		zap.Float64("old_sl", oldSL),
		zap.Float64("new_sl", newSL))
	m.notify(models.NotificationTypeSLMove, models.SeverityInfo, "stop-loss moved: "+reason, price)
	m.record(ctx, models.NotificationTypeSLMove, price, oldSL, newSL)
	return true
}

// applyPyramid исполняет шаг доливки
func (m *Monitor) applyPyramid(ctx context.Context, step PyramidStep, price float64) {
	cctx, cancel := context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
	err := m.eng.router.TopUpMargin(cctx, m.ts.Symbol, m.ts.Side, step.Margin)
	cancel()
	if err != nil {
		return
	}

	m.ts.PyramidSteps = step.Index + 1
	m.ts.InitialMargin += step.Margin

	// Опциональное повышение плеча на шаге
	if step.Leverage > 0 && step.Leverage != m.ts.Leverage {
		cctx, cancel = context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
		if err := m.eng.router.setLeverage(cctx, m.ts.Symbol, step.Leverage); err != nil {
			m.log.Warn("pyramid leverage raise failed", zap.Error(err))
		} else {
			m.ts.Leverage = step.Leverage
		}
		cancel()
	}

	PyramidStepsTotal.WithLabelValues(m.ts.Symbol).Inc()
	m.log.Info("pyramid step executed",
		zap.Int("step", step.Index+1),
		zap.Float64("margin", step.Margin),
		zap.Float64("leverage", m.ts.Leverage))
	m.notify(models.NotificationTypePyramid, models.SeverityInfo, "pyramid step executed", price)
	m.record(ctx, models.NotificationTypePyramid, price, m.ts.StopLoss, m.ts.StopLoss)
}

// maybeHedge открывает противоположную позицию на глубокой просадке
func (m *Monitor) maybeHedge(ctx context.Context, price float64) {
	if !m.eng.cfg.HedgeEnabled || m.ts.HedgeOpened {
		return
	}
	if !m.eng.policy.IsEnabled(FeatureHedge, m.ts.Symbol, m.sig.Group, m.sig.Timeframe) {
		return
	}
	if m.ts.Pol > -m.eng.cfg.HedgeDrawdown {
		return
	}

	hedgeSide := exchange.SideSell
	hedgeSL := utils.OffsetPrice(price, m.eng.cfg.HedgeSLDistance, true)
	if !m.ts.IsLong() {
		hedgeSide = exchange.SideBuy
		hedgeSL = utils.OffsetPrice(price, m.eng.cfg.HedgeSLDistance, false)
	}

	cctx, cancel := context.WithTimeout(ctx, m.eng.cfg.OrderTimeout)
	_, err := m.eng.router.SubmitMarket(cctx, EntryOrder{
		Symbol:   m.ts.Symbol,
		Side:     hedgeSide,
		Quantity: m.ts.Quantity,
		StopLoss: hedgeSL,
	})
	cancel()
	if err != nil {
		m.log.Warn("hedge open failed", zap.Error(err))
		return
	}

	m.ts.HedgeOpened = true
	HedgesTotal.WithLabelValues(m.ts.Symbol).Inc()
	m.log.Info("hedge opened",
		zap.Float64("drawdown_pol", m.ts.Pol), zap.Float64("hedge_sl", hedgeSL))
	m.notify(models.NotificationTypeHedge, models.SeverityWarn, "hedge position opened", price)
	m.record(ctx, models.NotificationTypeHedge, price, m.ts.StopLoss, m.ts.StopLoss)
}

// close переводит состояние в CLOSED (позиция на бирже уже закрыта)
func (m *Monitor) close(notifType, reason string, price float64) {
	if err := Transition(m.ts, models.StateClosed); err != nil {
		m.log.Error("close transition rejected", zap.Error(err))
		return
	}
	if err := m.eng.store.MarkClosed(m.ts.Symbol, price, m.ts.Pol); err != nil {
		m.log.Debug("trade close snapshot failed", zap.Error(err))
	}
	m.log.Info("position closed", zap.String("reason", reason), zap.Float64("price", price))
	m.notify(notifType, models.SeverityInfo, reason, price)
}

func (m *Monitor) notify(notifType, severity, message string, price float64) {
	m.eng.notifier.Publish(&models.Notification{
		Type:     notifType,
		Severity: severity,
		Symbol:   m.ts.Symbol,
		Message:  message,
		Meta: map[string]interface{}{
			"price": price,
			"pol":   m.ts.Pol,
			"state": m.ts.State,
		},
	})
}

func (m *Monitor) record(ctx context.Context, evType string, price, oldSL, newSL float64) {
	ev := &models.TradeEvent{
		Symbol:    m.ts.Symbol,
		Side:      m.ts.Side,
		Type:      evType,
		Price:     price,
		OldSL:     oldSL,
		NewSL:     newSL,
		Pol:       m.ts.Pol,
		Timestamp: time.Now(),
	}
	if err := m.eng.recorder.RecordTradeEvent(ctx, ev); err != nil {
		m.log.Warn("event record failed", zap.String("type", evType), zap.Error(err))
	}
}

// slCrossed возвращает true, если цена пересекла уровень SL
// в убыточную сторону позиции
func slCrossed(price, sl float64, isLong bool) bool {
	if sl <= 0 {
		return false
	}
	if isLong {
		return price <= sl
	}
	return price >= sl
}
