package utils

import (
	"math"
	"testing"
)

// ============================================================
// Math Utils Tests
// ============================================================

func TestRoundTo(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		want     float64
	}{
		{"four decimals", 0.123456, 4, 0.1235},
		{"two decimals", 1.005, 2, 1.01},
		{"zero decimals", 2.7, 0, 3},
		{"already exact", 5.25, 2, 5.25},
		{"negative value", -0.123456, 4, -0.1235},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundTo(tt.value, tt.decimals); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundTo(%v, %d) = %v, want %v", tt.value, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestPolPercent(t *testing.T) {
	tests := []struct {
		name    string
		entry   float64
		current float64
		isLong  bool
		want    float64
	}{
		{"long profit", 100, 105, true, 5},
		{"long loss", 100, 95, true, -5},
		{"short profit", 100, 95, false, 5},
		{"short loss", 100, 105, false, -5},
		{"zero entry", 0, 100, true, 0},
		{"flat", 100, 100, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PolPercent(tt.entry, tt.current, tt.isLong); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PolPercent(%v, %v, %v) = %v, want %v", tt.entry, tt.current, tt.isLong, got, tt.want)
			}
		})
	}
}

func TestPriceDeviationPct(t *testing.T) {
	tests := []struct {
		name      string
		reference float64
		current   float64
		want      float64
	}{
		{"above", 100, 102, 2},
		{"below is absolute", 100, 98, 2},
		{"zero reference", 0, 100, 0},
		{"equal", 100, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriceDeviationPct(tt.reference, tt.current); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PriceDeviationPct(%v, %v) = %v, want %v", tt.reference, tt.current, got, tt.want)
			}
		})
	}
}

func TestOffsetPrice(t *testing.T) {
	tests := []struct {
		name      string
		base      float64
		offsetPct float64
		isLong    bool
		want      float64
	}{
		{"long offset up", 100, 0.15, true, 100.15},
		{"short offset down", 100, 0.15, false, 99.85},
		{"zero offset", 100, 0, true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OffsetPrice(tt.base, tt.offsetPct, tt.isLong); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("OffsetPrice(%v, %v, %v) = %v, want %v", tt.base, tt.offsetPct, tt.isLong, got, tt.want)
			}
		})
	}
}

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		lotSize float64
		want    float64
	}{
		{"rounds down", 1.27, 0.1, 1.2},
		{"exact multiple", 1.2, 0.1, 1.2},
		{"zero lot size passthrough", 1.27, 0, 1.27},
		{"negative lot size passthrough", 1.27, -1, 1.27},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundToLotSize(tt.value, tt.lotSize); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v", tt.value, tt.lotSize, got, tt.want)
			}
		})
	}
}
