package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/config"
	"signaltrader/internal/models"
	"signaltrader/pkg/utils"
)

// Confirmations - внешние подтверждающие предикаты (тренд/моментум)
//
// Реализация (EMA/RSI и т.п.) - забота коллаборатора; ядру важен только
// бинарный ответ.
type Confirmations interface {
	ConfirmTrend(ctx context.Context, symbol string) bool
	ConfirmMomentum(ctx context.Context, symbol string) bool
}

// ReentryBook - явно внедряемый учёт попыток реентри по символам
//
// Счётчик сбрасывается только явным Reset (новый цикл стратегии),
// никогда неявно.
type ReentryBook struct {
	mu      sync.Mutex
	records map[string]*models.ReentryRecord
}

// NewReentryBook создаёт пустой учёт
func NewReentryBook() *ReentryBook {
	return &ReentryBook{
		records: make(map[string]*models.ReentryRecord),
	}
}

// Get возвращает копию записи символа (нулевую, если записи нет)
func (b *ReentryBook) Get(symbol string) models.ReentryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, ok := b.records[symbol]; ok {
		return *rec
	}
	return models.ReentryRecord{Symbol: symbol}
}

// Increment фиксирует попытку реентри.
// Вызывается ТОЛЬКО после фактической отправки ордера реентри - гейт
// сам счётчик не трогает, это сохраняет его чистым и тестируемым.
func (b *ReentryBook) Increment(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[symbol]
	if !ok {
		rec = &models.ReentryRecord{Symbol: symbol}
		b.records[symbol] = rec
	}
	rec.Attempts++
	rec.LastAttempt = time.Now()
}

// Reset явно сбрасывает счётчик символа
func (b *ReentryBook) Reset(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, symbol)
}

// ReentryRequest - вход гейта
type ReentryRequest struct {
	Symbol       string
	Group        string
	Timeframe    string
	EntryPrice   float64
	CurrentPrice float64
	Attempts     int
	LastAttempt  time.Time // нулевое время = попыток ещё не было
}

// ReentryGate решает, разрешён ли повторный вход после стоп-аута
//
// Последовательные проверки с short-circuit на первом отказе. Отказ -
// нормальное отрицательное решение, не ошибка: логируется и возвращается
// false, ничего не пробрасывается наверх. Гейт не мутирует счётчик
// попыток - это делает вызывающий после отправки ордера.
type ReentryGate struct {
	cfg     config.TradingConfig
	policy  Policy
	confirm Confirmations
	log     *zap.Logger
}

// NewReentryGate создаёт гейт
func NewReentryGate(cfg config.TradingConfig, policy Policy, confirm Confirmations, log *zap.Logger) *ReentryGate {
	return &ReentryGate{
		cfg:     cfg,
		policy:  policy,
		confirm: confirm,
		log:     log.Named("reentry_gate"),
	}
}

// Allow возвращает true, если реентри разрешён
func (g *ReentryGate) Allow(ctx context.Context, req ReentryRequest) bool {
	log := g.log.With(zap.String("symbol", req.Symbol))

	// 1. Фича включена для (символ, группа, таймфрейм)?
	if !g.policy.IsEnabled(FeatureReentry, req.Symbol, req.Group, req.Timeframe) {
		log.Info("reentry denied: feature disabled",
			zap.String("group", req.Group), zap.String("timeframe", req.Timeframe))
		return false
	}

	// 2. Лимит попыток
	if req.Attempts >= g.cfg.ReentryMaxAttempts {
		log.Info("reentry denied: attempt limit reached",
			zap.Int("attempts", req.Attempts), zap.Int("max", g.cfg.ReentryMaxAttempts))
		return false
	}

	// 3. Кулдаун: гейтит только нижняя граница диапазона,
	// верхняя информационная
	if !req.LastAttempt.IsZero() {
		elapsed := time.Since(req.LastAttempt)
		if elapsed < g.cfg.ReentryDelayMin {
			log.Info("reentry denied: cooldown",
				zap.Duration("elapsed", elapsed), zap.Duration("min_delay", g.cfg.ReentryDelayMin))
			return false
		}
	}

	// 4. Отклонение цены от исходного входа
	deviation := utils.PriceDeviationPct(req.EntryPrice, req.CurrentPrice)
	if deviation > g.cfg.ReentryMaxDeviation {
		log.Info("reentry denied: price deviation too large",
			zap.Float64("deviation_pct", deviation), zap.Float64("max_pct", g.cfg.ReentryMaxDeviation))
		return false
	}

	// 5. Внешние подтверждения: оба обязаны дать true
	if !g.confirm.ConfirmTrend(ctx, req.Symbol) {
		log.Info("reentry denied: trend confirmation failed")
		return false
	}
	if !g.confirm.ConfirmMomentum(ctx, req.Symbol) {
		log.Info("reentry denied: momentum confirmation failed")
		return false
	}

	log.Info("reentry allowed",
		zap.Int("attempts", req.Attempts), zap.Float64("deviation_pct", deviation))
	return true
}
