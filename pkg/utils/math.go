package utils

import "math"

// math.go - математические утилиты торгового ядра
//
// Все функции чистые, без побочных эффектов.

// RoundTo округляет value до decimals знаков после запятой.
//
// Примеры:
//   - RoundTo(0.123456, 4) = 0.1235
//   - RoundTo(1.005, 2) = 1.01
func RoundTo(value float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(value*factor) / factor
}

// PolPercent вычисляет Profit-on-Loss позиции в процентах от цены входа.
//
// Для лонга положителен при росте цены, для шорта - при падении.
// При entry == 0 возвращает 0 (несайзабельная позиция, не ошибка).
func PolPercent(entry, current float64, isLong bool) float64 {
	if entry == 0 {
		return 0
	}
	if isLong {
		return (current - entry) / entry * 100
	}
	return (entry - current) / entry * 100
}

// PriceDeviationPct возвращает абсолютное отклонение current от reference
// в процентах от reference. При reference == 0 возвращает 0.
func PriceDeviationPct(reference, current float64) float64 {
	if reference == 0 {
		return 0
	}
	return math.Abs(current-reference) / reference * 100
}

// OffsetPrice смещает цену base на offsetPct процентов в сторону прибыли
// позиции: вверх для лонга, вниз для шорта.
//
// Примеры:
//   - OffsetPrice(100, 0.15, true) = 100.15
//   - OffsetPrice(100, 0.15, false) = 99.85
func OffsetPrice(base, offsetPct float64, isLong bool) float64 {
	if isLong {
		return base * (1 + offsetPct/100)
	}
	return base * (1 - offsetPct/100)
}

// RoundToLotSize округляет объём ВНИЗ до кратного lotSize.
// Округление вниз - не превышаем доступные средства.
// При lotSize <= 0 возвращает исходное значение.
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}
