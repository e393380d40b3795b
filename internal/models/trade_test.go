package models

import "testing"

// ============================================================
// Тесты TradeState
// ============================================================

func TestBetterSL(t *testing.T) {
	tests := []struct {
		name      string
		side      string
		currentSL float64
		candidate float64
		want      bool
	}{
		{"long improvement", SideLong, 95, 100.15, true},
		{"long worse", SideLong, 100.15, 95, false},
		{"long equal", SideLong, 95, 95, false},
		{"short improvement", SideShort, 105, 99.7, true},
		{"short worse", SideShort, 99.7, 105, false},
		{"short equal", SideShort, 105, 105, false},
		// 0 = "нет предложения": для шорта 0 < SL, но выгоднее не считается
		{"long zero candidate", SideLong, 95, 0, false},
		{"short zero candidate", SideShort, 105, 0, false},
		{"short negative candidate", SideShort, 105, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := &TradeState{Side: tt.side, StopLoss: tt.currentSL}
			if got := ts.BetterSL(tt.candidate); got != tt.want {
				t.Errorf("BetterSL(%v) with %s SL=%v: got %v, want %v",
					tt.candidate, tt.side, tt.currentSL, got, tt.want)
			}
		})
	}
}

func TestIsLong(t *testing.T) {
	if !(&TradeState{Side: SideLong}).IsLong() {
		t.Error("long position should report IsLong")
	}
	if (&TradeState{Side: SideShort}).IsLong() {
		t.Error("short position should not report IsLong")
	}
}
