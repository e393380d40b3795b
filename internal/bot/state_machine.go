package bot

import (
	"fmt"

	"signaltrader/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями
//
// CLOSED терминальное: возврата нет, повторный вход создаёт новый
// TradeState. Подсостояния ACTIVE (подтяжка SL, реентри, пирамидинг,
// трейлинг) - флаги внутри TradeState, а не состояния машины.
var ValidTransitions = map[string][]string{
	models.StateEntering: {models.StateActive, models.StateClosed}, // CLOSED при отклонённом входе
	models.StateActive:   {models.StateClosed},
	models.StateClosed:   {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition переводит TradeState в новое состояние с проверкой
func Transition(ts *models.TradeState, to string) error {
	if !CanTransition(ts.State, to) {
		return fmt.Errorf("invalid state transition %s → %s for %s", ts.State, to, ts.Symbol)
	}
	ts.State = to
	if to == models.StateClosed {
		ts.PositionActive = false
	}
	return nil
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.StateEntering:
		return "Вход в позицию..."
	case models.StateActive:
		return "Позиция открыта, мониторинг активен"
	case models.StateClosed:
		return "Позиция закрыта"
	default:
		return "Неизвестное состояние"
	}
}
