package bot

import (
	"go.uber.org/zap"

	"signaltrader/internal/config"
	"signaltrader/internal/models"
	"signaltrader/pkg/utils"
)

// PyramidStep - предложение долить позицию
type PyramidStep struct {
	Index    int     // номер шага (0-based)
	Margin   float64 // доливка IM, USDT
	Leverage float64 // целевое плечо шага, 0 = не менять
}

// PyramidPlanner решает, пора ли делать очередной шаг пирамидинга
//
// Чистый планировщик: не мутирует TradeState и не шлёт ордеров.
// Монитор применяет шаг и инкрементирует PyramidSteps сам, только
// после фактической отправки доливки.
type PyramidPlanner struct {
	cfg    config.TradingConfig
	policy Policy
	log    *zap.Logger
}

// NewPyramidPlanner создаёт планировщик
func NewPyramidPlanner(cfg config.TradingConfig, policy Policy, log *zap.Logger) *PyramidPlanner {
	return &PyramidPlanner{cfg: cfg, policy: policy, log: log.Named("pyramid")}
}

// Next возвращает следующий шаг, если все условия выполнены:
//
//  1. пирамидинг разрешён политикой для символа/группы/таймфрейма;
//  2. лимит шагов не исчерпан (и по конфигу, и по длине триггеров);
//  3. PoL достиг триггера очередного шага;
//  4. цена не ушла от entry дальше PyramidMaxDeviation - доливка по
//     сильно уехавшей цене ломает среднюю и расчёт тиров риска.
func (p *PyramidPlanner) Next(ts *models.TradeState, currentPrice float64, group, timeframe string) (PyramidStep, bool) {
	if !p.policy.IsEnabled(FeaturePyramid, ts.Symbol, group, timeframe) {
		return PyramidStep{}, false
	}

	step := ts.PyramidSteps
	if step >= p.cfg.PyramidMaxSteps || step >= len(p.cfg.PyramidTriggers) || step >= len(p.cfg.PyramidTopUps) {
		return PyramidStep{}, false
	}

	if ts.Pol < p.cfg.PyramidTriggers[step] {
		return PyramidStep{}, false
	}

	deviation := utils.PriceDeviationPct(ts.Entry, currentPrice)
	if deviation > p.cfg.PyramidMaxDeviation {
		p.log.Debug("pyramid step suppressed, price too far from entry",
			zap.String("symbol", ts.Symbol),
			zap.Int("step", step),
			zap.Float64("deviation_pct", deviation))
		return PyramidStep{}, false
	}

	next := PyramidStep{Index: step, Margin: p.cfg.PyramidTopUps[step]}
	if step < len(p.cfg.PyramidLeverages) {
		next.Leverage = p.cfg.PyramidLeverages[step]
	}
	return next, true
}
