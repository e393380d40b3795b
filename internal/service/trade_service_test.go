package service

import (
	"context"
	"testing"

	"signaltrader/internal/models"
)

// ============================================================
// TradeService Tests
// ============================================================

func ptr(v float64) *float64 { return &v }

func validSignal() *models.Signal {
	return &models.Signal{
		Symbol:    "btcusdt",
		Direction: models.SideLong,
		Entry:     100,
		StopLoss:  ptr(95),
	}
}

func TestTradeServiceSubmitSignal(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*models.Signal) *models.Signal
		expectError bool
	}{
		{
			name:   "valid signal",
			mutate: func(s *models.Signal) *models.Signal { return s },
		},
		{
			name:        "nil signal",
			mutate:      func(s *models.Signal) *models.Signal { return nil },
			expectError: true,
		},
		{
			name: "empty symbol",
			mutate: func(s *models.Signal) *models.Signal {
				s.Symbol = "   "
				return s
			},
			expectError: true,
		},
		{
			name: "bad direction",
			mutate: func(s *models.Signal) *models.Signal {
				s.Direction = "sideways"
				return s
			},
			expectError: true,
		},
		{
			name: "zero entry",
			mutate: func(s *models.Signal) *models.Signal {
				s.Entry = 0
				return s
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{}
			svc := NewTradeService(engine, &mockTradeRepo{}, &mockEventRepo{})

			err := svc.SubmitSignal(context.Background(), tt.mutate(validSignal()))
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error")
				}
				if len(engine.handled) != 0 {
					t.Error("invalid signal must not reach engine")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(engine.handled) != 1 {
				t.Fatalf("expected signal forwarded to engine, got %d", len(engine.handled))
			}
		})
	}
}

func TestTradeServiceSubmitSignalNormalization(t *testing.T) {
	engine := &mockEngine{}
	svc := NewTradeService(engine, &mockTradeRepo{}, &mockEventRepo{})

	sig := validSignal() // символ в нижнем регистре, таймфрейм пустой
	if err := svc.SubmitSignal(context.Background(), sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := engine.handled[0]
	if got.Symbol != "BTCUSDT" {
		t.Errorf("expected symbol uppercased, got %q", got.Symbol)
	}
	if got.Timeframe != "default" {
		t.Errorf("expected timeframe defaulted, got %q", got.Timeframe)
	}
}

func TestTradeServiceForceClose(t *testing.T) {
	engine := &mockEngine{}
	svc := NewTradeService(engine, &mockTradeRepo{}, &mockEventRepo{})

	if err := svc.ForceClose(context.Background(), " ethusdt "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.closed) != 1 || engine.closed[0] != "ETHUSDT" {
		t.Errorf("expected normalized symbol forwarded, got %v", engine.closed)
	}

	if err := svc.ForceClose(context.Background(), ""); err == nil {
		t.Error("expected error for empty symbol")
	}
}

func TestTradeServiceResetReentry(t *testing.T) {
	engine := &mockEngine{}
	svc := NewTradeService(engine, &mockTradeRepo{}, &mockEventRepo{})

	if err := svc.ResetReentry("btcusdt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.resets) != 1 || engine.resets[0] != "BTCUSDT" {
		t.Errorf("expected normalized reset, got %v", engine.resets)
	}

	if err := svc.ResetReentry(""); err == nil {
		t.Error("expected error for empty symbol")
	}
}

func TestTradeServiceGetEvents(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		limit      int
		wantSymbol string // "" = GetRecent
		wantLimit  int
	}{
		{"default limit", "", 0, "", 100},
		{"limit capped", "", 9999, "", 500},
		{"by symbol", "btcusdt", 10, "BTCUSDT", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockEventRepo{}
			svc := NewTradeService(&mockEngine{}, &mockTradeRepo{}, repo)

			if _, err := svc.GetEvents(tt.symbol, tt.limit); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantSymbol == "" {
				if len(repo.recentCalls) != 1 || repo.recentCalls[0] != tt.wantLimit {
					t.Errorf("expected GetRecent(%d), got %v", tt.wantLimit, repo.recentCalls)
				}
				return
			}
			if len(repo.symbolCalls) != 1 || repo.symbolCalls[0] != tt.wantSymbol {
				t.Errorf("expected GetBySymbol(%s), got %v", tt.wantSymbol, repo.symbolCalls)
			}
			if repo.symbolLimits[0] != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, repo.symbolLimits[0])
			}
		})
	}
}

func TestTradeServiceGetPositions(t *testing.T) {
	engine := &mockEngine{positions: []models.TradeState{{Symbol: "BTCUSDT", State: models.StateActive}}}
	svc := NewTradeService(engine, &mockTradeRepo{}, &mockEventRepo{})

	positions := svc.GetPositions()
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" {
		t.Errorf("unexpected positions: %v", positions)
	}
}
