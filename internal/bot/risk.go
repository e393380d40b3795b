package bot

import (
	"signaltrader/internal/config"
	"signaltrader/internal/models"
	"signaltrader/pkg/utils"
)

// RiskEvaluator - чистый оценщик рисков открытой позиции
//
// evaluate(PoL, текущий SL, entry) → набор действий, которые пора
// применить. Никакого I/O и состояния: всё детерминировано от входа
// и порогов конфигурации. Одноразовость применения (защёлки) -
// ответственность монитора, не оценщика.
type RiskEvaluator struct {
	cfg config.TradingConfig
}

// NewRiskEvaluator создаёт оценщик с порогами из конфигурации
func NewRiskEvaluator(cfg config.TradingConfig) *RiskEvaluator {
	return &RiskEvaluator{cfg: cfg}
}

// Evaluate возвращает набор действий для текущего PoL
//
// Лестница SL (первый подходящий тир в категории выигрывает):
//   - PoL >= FallbackThreshold  → SL к entry + FallbackOffset (перекрывает безубыток)
//   - PoL >= BreakevenThreshold → SL к entry + BreakevenOffset
//
// Перенос SL предлагается ТОЛЬКО если новая цена строго выгоднее
// текущего SL (монотонность: SL никогда не двигается против позиции).
//
// Доливка маржи и трейлинг - независимые пороги. Трейлинг дополнительно
// предлагается безусловно, если достигнут назначенный TP тир
// (tpHit >= TrailingAfterTP), вне зависимости от PoL.
func (e *RiskEvaluator) Evaluate(pol, currentSL, entry float64, isLong bool, tpHit int) models.RiskActionSet {
	var actions models.RiskActionSet

	// Лестница переноса SL: старший тир перекрывает младший
	var proposed float64
	switch {
	case pol >= e.cfg.FallbackThreshold:
		proposed = utils.OffsetPrice(entry, e.cfg.FallbackOffset, isLong)
	case pol >= e.cfg.BreakevenThreshold:
		proposed = utils.OffsetPrice(entry, e.cfg.BreakevenOffset, isLong)
	}

	if proposed != 0 && betterSL(proposed, currentSL, isLong) {
		actions.MoveSLTo = proposed
	}

	// Доливка маржи - независимый порог
	if pol >= e.cfg.TopUpThreshold && e.cfg.TopUpAmount > 0 {
		actions.MarginTopUp = e.cfg.TopUpAmount
	}

	// Трейлинг: по порогу PoL или безусловно после назначенного TP тира
	if pol >= e.cfg.TrailingThreshold {
		actions.TriggerTrailing = true
	}
	if e.cfg.TrailingAfterTP > 0 && tpHit >= e.cfg.TrailingAfterTP {
		actions.TriggerTrailing = true
	}

	return actions
}

// RatchetStopLoss вычисляет новый SL после достижения TP уровня hitLevel
//
// Правило "храповика": при взятии TP уровня k (k >= 2) SL переносится на
// цену уровня k-1. Уровни нумеруются с 1. Возвращает 0, если переноса нет
// (k < 2, уровень вне диапазона или нарушилась бы монотонность).
func RatchetStopLoss(tpPrices []float64, hitLevel int, currentSL float64, isLong bool) float64 {
	if hitLevel < 2 || hitLevel > len(tpPrices) {
		return 0
	}

	target := tpPrices[hitLevel-2] // цена предыдущего TP уровня
	if !betterSL(target, currentSL, isLong) {
		return 0
	}
	return target
}

// TrailingStopPrice вычисляет трейлинг-SL от текущей цены.
// Возвращает 0, если подтяжка нарушила бы монотонность.
func (e *RiskEvaluator) TrailingStopPrice(currentPrice, currentSL float64, isLong bool) float64 {
	candidate := utils.OffsetPrice(currentPrice, e.cfg.TrailingDistance, !isLong)
	if !betterSL(candidate, currentSL, isLong) {
		return 0
	}
	return candidate
}

// betterSL: candidate строго выгоднее current с учётом направления.
// Неположительный candidate никогда не выгоднее (0 = "нет предложения").
func betterSL(candidate, current float64, isLong bool) bool {
	if candidate <= 0 {
		return false
	}
	if isLong {
		return candidate > current
	}
	return candidate < current
}
