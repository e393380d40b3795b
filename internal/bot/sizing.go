package bot

import (
	"errors"

	"signaltrader/internal/config"
	"signaltrader/internal/models"
	"signaltrader/pkg/utils"
)

// Ошибки расчёта позиции
var (
	// ErrMissingStopLoss - без SL риск не считается, вход запрещён
	ErrMissingStopLoss = errors.New("cannot size position: signal has no stop-loss")
)

// Sizing - результат расчёта позиции по сигналу
type Sizing struct {
	Quantity      float64 // объём в базовой валюте
	Leverage      float64
	InitialMargin float64 // USDT
}

// ProfileRule - правило переопределения плеча по флагу стратегии
//
// Правила проверяются по порядку списка против структурированных флагов
// сигнала; при нескольких совпадениях действует ПОСЛЕДНЕЕ. Порядок -
// явное конфигурационное правило, а не побочный эффект поиска подстрок.
type ProfileRule struct {
	Profile  string  // имя флага в Signal.Profiles
	Leverage float64 // фиксированное плечо для этого профиля
}

// DefaultProfileRules - профили из боевых сигналов:
// "x75" - не буквальные 75x, а маркер стратегии с плечом 10x;
// "swing" - свинговая стратегия, плечо 6x.
func DefaultProfileRules() []ProfileRule {
	return []ProfileRule{
		{Profile: "x75", Leverage: 10},
		{Profile: "swing", Leverage: 6},
	}
}

// Sizer - чистый расчёт размера позиции: сигнал → {qty, leverage, IM}
type Sizer struct {
	cfg   config.TradingConfig
	rules []ProfileRule
}

// NewSizer создаёт Sizer с правилами профилей
func NewSizer(cfg config.TradingConfig, rules []ProfileRule) *Sizer {
	if rules == nil {
		rules = DefaultProfileRules()
	}
	return &Sizer{cfg: cfg, rules: rules}
}

// Size рассчитывает позицию по сигналу
//
// Возвращает ErrMissingStopLoss, если SL отсутствует. Нулевая цена входа
// НЕ ошибка: quantity будет 0, вызывающий обязан трактовать 0 как
// "несайзабельно" и не входить.
func (s *Sizer) Size(sig *models.Signal) (Sizing, error) {
	if sig.StopLoss == nil {
		return Sizing{}, ErrMissingStopLoss
	}

	margin := sig.InitialMargin
	if margin <= 0 {
		margin = s.cfg.DefaultMargin
	}

	leverage := s.leverageFor(sig)

	// qty = IM * leverage / entry, 4 знака
	var qty float64
	if sig.Entry != 0 {
		qty = utils.RoundTo(margin*leverage/sig.Entry, 4)
	}

	return Sizing{
		Quantity:      qty,
		Leverage:      leverage,
		InitialMargin: margin,
	}, nil
}

// leverageFor выбирает плечо: дефолт → подсказка сигнала → профили
func (s *Sizer) leverageFor(sig *models.Signal) float64 {
	leverage := s.cfg.DefaultLeverage
	if sig.LeverageHint > 0 {
		leverage = sig.LeverageHint
	}

	// Профили перекрывают всё; последнее совпадение выигрывает
	for _, rule := range s.rules {
		if sig.HasProfile(rule.Profile) {
			leverage = rule.Leverage
		}
	}

	if leverage > s.cfg.LeverageCap {
		leverage = s.cfg.LeverageCap
	}
	return leverage
}
