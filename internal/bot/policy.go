package bot

import "sync"

// Имена фич для Policy
const (
	FeatureReentry   = "reentry"
	FeaturePyramid   = "pyramiding"
	FeatureHedge     = "hedging"
	FeatureTrailing  = "trailing"
)

// Policy - сервис фич-флагов стратегии
//
// Решает, включена ли фича для комбинации (символ, группа-источник,
// таймфрейм).
type Policy interface {
	IsEnabled(feature, symbol, group, timeframe string) bool
}

// Ключ "default" на любом уровне иерархии - значение по умолчанию уровня.
const overrideDefault = "default"

// OverridePolicy - иерархические переопределения фич
//
// Поиск: группа → символ (или default) → таймфрейм (или default) → фича.
// Если переопределение не найдено, действует глобальный дефолт фичи
// (отсутствующая в defaults фича считается включённой).
type OverridePolicy struct {
	mu sync.RWMutex

	// Глобальные дефолты фич
	defaults map[string]bool

	// overrides[group][symbol][timeframe][feature]
	overrides map[string]map[string]map[string]map[string]bool
}

// NewOverridePolicy создаёт политику с глобальными дефолтами
func NewOverridePolicy(defaults map[string]bool) *OverridePolicy {
	if defaults == nil {
		defaults = make(map[string]bool)
	}
	return &OverridePolicy{
		defaults:  defaults,
		overrides: make(map[string]map[string]map[string]map[string]bool),
	}
}

// IsEnabled возвращает решение для (фича, символ, группа, таймфрейм)
func (p *OverridePolicy) IsEnabled(feature, symbol, group, timeframe string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if timeframe == "" {
		timeframe = overrideDefault
	}

	if v, ok := p.lookup(feature, symbol, group, timeframe); ok {
		return v
	}

	if v, ok := p.defaults[feature]; ok {
		return v
	}
	// Неизвестная фича включена по умолчанию
	return true
}

// lookup ищет переопределение по иерархии
func (p *OverridePolicy) lookup(feature, symbol, group, timeframe string) (bool, bool) {
	groupOverrides, ok := p.overrides[group]
	if !ok {
		return false, false
	}

	// Символьный уровень: точное совпадение, потом default
	for _, symKey := range []string{symbol, overrideDefault} {
		symOverrides, ok := groupOverrides[symKey]
		if !ok {
			continue
		}
		// Таймфрейм: точное совпадение, потом default
		for _, tfKey := range []string{timeframe, overrideDefault} {
			tfOverrides, ok := symOverrides[tfKey]
			if !ok {
				continue
			}
			if v, ok := tfOverrides[feature]; ok {
				return v, true
			}
		}
	}

	return false, false
}

// Set устанавливает переопределение.
// Пустые symbol/timeframe трактуются как default соответствующего уровня.
func (p *OverridePolicy) Set(feature, symbol, group, timeframe string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if symbol == "" {
		symbol = overrideDefault
	}
	if timeframe == "" {
		timeframe = overrideDefault
	}

	if p.overrides[group] == nil {
		p.overrides[group] = make(map[string]map[string]map[string]bool)
	}
	if p.overrides[group][symbol] == nil {
		p.overrides[group][symbol] = make(map[string]map[string]bool)
	}
	if p.overrides[group][symbol][timeframe] == nil {
		p.overrides[group][symbol][timeframe] = make(map[string]bool)
	}
	p.overrides[group][symbol][timeframe][feature] = enabled
}
