package models

import "time"

// Направление позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// Signal представляет торговый сигнал от внешнего источника
//
// Сигнал иммутабелен: создаётся коллаборатором-парсером и передаётся
// в ядро только для чтения. Entry и StopLoss приходят из текста сигнала,
// Profiles - структурированные флаги стратегии (вместо сырого текста).
type Signal struct {
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`    // long, short
	Entry       float64   `json:"entry"`        // цена входа
	StopLoss    *float64  `json:"stop_loss"`    // nil = SL отсутствует в сигнале
	TakeProfits []float64 `json:"take_profits"` // упорядоченные TP уровни (TP1..TPn)
	Profiles    []string  `json:"profiles"`     // флаги стратегии: "x75", "swing", ...
	Group       string    `json:"group"`        // группа-источник сигнала
	Timeframe   string    `json:"timeframe"`    // таймфрейм сигнала ("default" если не указан)

	// Производные поля (заполняет парсер)
	LeverageHint  float64   `json:"leverage_hint"`  // подсказка плеча из сигнала (0 = нет)
	InitialMargin float64   `json:"initial_margin"` // IM из сигнала (0 = дефолт из конфига)
	ReceivedAt    time.Time `json:"received_at"`
}

// IsLong возвращает true для лонг-сигнала
func (s *Signal) IsLong() bool {
	return s.Direction == SideLong
}

// HasProfile проверяет наличие флага стратегии
func (s *Signal) HasProfile(name string) bool {
	for _, p := range s.Profiles {
		if p == name {
			return true
		}
	}
	return false
}
