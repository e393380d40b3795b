package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/models"
)

// Интервал обхода позиций на предмет таймаута. Намеренно чаще тика
// монитора не нужен: минутная гранулярность при таймауте в часах.
const timeoutSweepInterval = time.Minute

// TimeoutGuard принудительно закрывает зависшие позиции
//
// Отдельный обходчик, а не часть тика монитора: таймаут должен
// сработать даже если монитор символа застрял на недоступной цене.
type TimeoutGuard struct {
	eng *Engine
	log *zap.Logger
}

// NewTimeoutGuard создаёт обходчик
func NewTimeoutGuard(eng *Engine) *TimeoutGuard {
	return &TimeoutGuard{eng: eng, log: eng.log.Named("timeout_guard")}
}

// Run крутит обход до отмены контекста.
// При PositionTimeout == 0 защита выключена и горутина сразу выходит.
func (g *TimeoutGuard) Run(ctx context.Context) {
	if g.eng.cfg.PositionTimeout <= 0 {
		g.log.Info("position timeout disabled")
		return
	}

	ticker := time.NewTicker(timeoutSweepInterval)
	defer ticker.Stop()

	g.log.Info("timeout guard started", zap.Duration("position_timeout", g.eng.cfg.PositionTimeout))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(ctx)
		}
	}
}

// sweep закрывает все позиции, открытые дольше лимита
func (g *TimeoutGuard) sweep(ctx context.Context) {
	for _, ts := range g.eng.Positions() {
		if ts.State != models.StateActive {
			continue
		}
		age := time.Since(ts.OpenedAt)
		if age <= g.eng.cfg.PositionTimeout {
			continue
		}

		g.log.Warn("position exceeded timeout, force closing",
			zap.String("symbol", ts.Symbol),
			zap.Duration("age", age))
		if err := g.eng.closeSymbol(ctx, ts.Symbol, models.NotificationTypeTimeout, "position timeout exceeded"); err != nil {
			g.log.Error("timeout close failed", zap.String("symbol", ts.Symbol), zap.Error(err))
		}
	}
}
