package models

import "time"

// Состояния позиции (state machine)
//
// ENTERING → ACTIVE → CLOSED. CLOSED терминальное: для повторного входа
// создаётся новый TradeState. Подсостояния внутри ACTIVE (подтяжка SL,
// реентри, пирамидинг, трейлинг) моделируются флагами-защёлками,
// а не отдельными состояниями - они могут идти параллельно.
const (
	StateEntering = "ENTERING" // ордер входа отправлен, ожидание подтверждения
	StateActive   = "ACTIVE"   // позиция открыта, монитор работает
	StateClosed   = "CLOSED"   // позиция закрыта (SL/TP/ручное/реверс)
)

// TradeState - единственная мутабельная запись открытой позиции
//
// Инварианты:
//   - не более одного активного TradeState на символ;
//   - StopLoss монотонно не убывает для лонга и не возрастает для шорта,
//     пока PositionActive == true (SL двигается только в сторону прибыли);
//   - TrailingActive переключается только false → true;
//   - защёлки BreakevenApplied/FallbackApplied одноразовые на пересечение тира.
//
// Владение: экземпляр принадлежит монитору жизненного цикла своего символа.
// Все чтения-записи выполняются под локом символа (см. bot.LockRegistry) -
// собственного мьютекса у структуры нет намеренно.
type TradeState struct {
	// Идентичность
	Symbol string `json:"symbol"`
	Side   string `json:"side"` // long, short

	// Экономика
	Entry         float64   `json:"entry"`
	StopLoss      float64   `json:"stop_loss"`
	Quantity      float64   `json:"quantity"`
	Leverage      float64   `json:"leverage"`
	InitialMargin float64   `json:"initial_margin"`
	TakeProfits   []float64 `json:"take_profits"`

	// Мониторинг
	State          string  `json:"state"`
	Pol            float64 `json:"pol"`             // текущий PoL, %
	PositionActive bool    `json:"position_active"` // false после закрытия
	SLOrderID      string  `json:"sl_order_id"`     // ордер для модификации SL

	// Одноразовые защёлки риск-тиров
	BreakevenApplied bool `json:"breakeven_applied"` // SL подтянут к безубытку
	FallbackApplied  bool `json:"fallback_applied"`  // SL подтянут ко второму тиру
	TrailingActive   bool `json:"trailing_active"`   // только false → true
	TopUpApplied     bool `json:"topup_applied"`     // доливка маржи по риск-тиру одноразовая
	HedgeOpened      bool `json:"hedge_opened"`      // хедж открывается один раз

	// Прогресс
	TPHit        int       `json:"tp_hit"`        // старший достигнутый TP уровень (0 = нет)
	PyramidSteps int       `json:"pyramid_steps"` // выполнено шагов пирамидинга
	OpenedAt     time.Time `json:"opened_at"`
	LastTick     time.Time `json:"last_tick"`
}

// IsLong возвращает true для лонг-позиции
func (t *TradeState) IsLong() bool {
	return t.Side == SideLong
}

// BetterSL возвращает true, если candidate строго выгоднее текущего SL
// с учётом направления позиции. Используется для защиты монотонности.
// Неположительный candidate (0 = "нет предложения") не бывает выгоднее:
// для шорта 0 прошёл бы сравнение и снял защиту позиции.
func (t *TradeState) BetterSL(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if t.IsLong() {
		return candidate > t.StopLoss
	}
	return candidate < t.StopLoss
}

// ReentryRecord - учёт попыток реентри по символу
//
// Инвариант: Attempts не превышает настроенный максимум. Сбрасывается
// только явным внешним сбросом (новый цикл стратегии), никогда неявно.
type ReentryRecord struct {
	Symbol      string    `json:"symbol"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// RiskActionSet - результат одного прогона оценщика рисков
//
// Эфемерный: пересчитывается на каждом тике из TradeState и порогов,
// не персистится.
type RiskActionSet struct {
	MoveSLTo        float64 // 0 = нет предложения
	MarginTopUp     float64 // 0 = нет доливки
	TriggerTrailing bool
}

// HasActions возвращает true, если есть хотя бы одно действие
func (r RiskActionSet) HasActions() bool {
	return r.MoveSLTo != 0 || r.MarginTopUp != 0 || r.TriggerTrailing
}
