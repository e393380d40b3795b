package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Регистрация через promauto в default registry; отдаются
// хендлером promhttp на /metrics.

// TicksTotal - обработанные тики мониторов по символам
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Total monitor ticks processed",
	},
	[]string{"symbol"},
)

// TicksSkipped - тики, пропущенные из-за недоступной цены
var TicksSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "monitor",
		Name:      "ticks_skipped_total",
		Help:      "Ticks skipped because price fetch failed",
	},
	[]string{"symbol"},
)

// TickDuration - длительность одного тика под локом символа
var TickDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "signaltrader",
		Subsystem: "monitor",
		Name:      "tick_duration_ms",
		Help:      "Duration of a single monitor tick in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	},
	[]string{"symbol"},
)

// TickPanics - паники, пойманные recover'ом тика
var TickPanics = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "monitor",
		Name:      "tick_panics_total",
		Help:      "Panics recovered inside monitor ticks",
	},
	[]string{"symbol"},
)

// OpenPositions - количество активных позиций
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Number of currently monitored positions",
	},
)

// SLMoves - переносы стоп-лосса по причинам (breakeven, fallback, tp_ratchet, trailing)
var SLMoves = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "sl_moves_total",
		Help:      "Stop-loss relocations by reason",
	},
	[]string{"symbol", "reason"},
)

// TPHits - достигнутые TP уровни
var TPHits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "tp_hits_total",
		Help:      "Take-profit levels reached",
	},
	[]string{"symbol"},
)

// ReentriesTotal - результаты попыток реентри (allowed / denied)
var ReentriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "reentries_total",
		Help:      "Re-entry attempts by outcome",
	},
	[]string{"symbol", "outcome"},
)

// TrailingActivations - активации трейлинг-стопа
var TrailingActivations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "trailing_activations_total",
		Help:      "Trailing stop activations",
	},
	[]string{"symbol"},
)

// PyramidSteps - выполненные шаги пирамидинга
var PyramidStepsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "pyramid_steps_total",
		Help:      "Executed pyramiding steps",
	},
	[]string{"symbol"},
)

// HedgesTotal - открытые хеджи
var HedgesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "trading",
		Name:      "hedges_total",
		Help:      "Hedge positions opened",
	},
	[]string{"symbol"},
)

// OrdersTotal - действия роутера по результату
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "orders",
		Name:      "actions_total",
		Help:      "Order router actions by result",
	},
	[]string{"action", "result"},
)

// OrderFallbacks - срабатывания фолбэка market → post-only limit
var OrderFallbacks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "orders",
		Name:      "fallbacks_total",
		Help:      "Market order failures that fell back to post-only limit",
	},
	[]string{"symbol"},
)

// NotificationsQueued - принятые в очередь уведомления
var NotificationsQueued = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "notify",
		Name:      "queued_total",
		Help:      "Notifications accepted into the queue",
	},
)

// NotificationsDropped - дропнутые при переполнении очереди
var NotificationsDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signaltrader",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications dropped because the queue was full",
	},
)
