package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signaltrader/internal/config"
	"signaltrader/internal/exchange"
	"signaltrader/internal/models"
	"signaltrader/pkg/retry"
	"signaltrader/pkg/utils"
)

// OrderRouter - best-effort отправка ордеров с фолбэком market → limit
//
// Все операции возвращают ошибку значением и никогда не паникуют за
// границу роутера. Каждое действие (успех и неуспех) репортится в
// notifier fire-and-forget: отказ уведомлений не валит торговую операцию.
type OrderRouter struct {
	client   exchange.Client
	notifier *Notifier
	cfg      config.TradingConfig
	log      *zap.Logger

	// Быстрая MA по символам для эвристики market vs limit
	ma   map[string]*StreamingMA
	maMu sync.Mutex
}

// NewOrderRouter создаёт роутер
func NewOrderRouter(client exchange.Client, notifier *Notifier, cfg config.TradingConfig, log *zap.Logger) *OrderRouter {
	return &OrderRouter{
		client:   client,
		notifier: notifier,
		cfg:      cfg,
		log:      log.Named("order_router"),
		ma:       make(map[string]*StreamingMA),
	}
}

// EnsureFeed подписывает символ на поток тикеров для быстрой MA.
// Повторные вызовы для того же символа - no-op.
func (r *OrderRouter) EnsureFeed(symbol string) error {
	r.maMu.Lock()
	if _, ok := r.ma[symbol]; ok {
		r.maMu.Unlock()
		return nil
	}
	ma := NewStreamingMA(r.cfg.FastMAWindow)
	r.ma[symbol] = ma
	r.maMu.Unlock()

	return r.client.SubscribeTicker(symbol, func(t *exchange.Ticker) {
		ma.Add(t.LastPrice)
	})
}

// preferMarket решает тип ордера по отклонению цены от быстрой MA
//
// Отклонение > порога = быстрый рывок цены: limit рискует не исполниться,
// берём market. В спокойном рынке - limit, экономим на проскальзывании.
// Без накопленной MA консервативно предпочитаем limit.
func (r *OrderRouter) preferMarket(symbol string, price float64) bool {
	r.maMu.Lock()
	ma, ok := r.ma[symbol]
	r.maMu.Unlock()
	if !ok {
		return false
	}

	reference, ready := ma.Value()
	if !ready {
		return false
	}
	return utils.PriceDeviationPct(reference, price) > r.cfg.MarketDeviationPct
}

// EntryOrder - параметры входного/реентри ордера
type EntryOrder struct {
	Symbol     string
	Side       string // exchange.SideBuy / SideSell
	Price      float64
	Quantity   float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
}

// SubmitConditional размещает условный limit ордер с trigger-ценой
func (r *OrderRouter) SubmitConditional(ctx context.Context, o EntryOrder, triggerPrice float64) (string, error) {
	if err := r.setLeverage(ctx, o.Symbol, o.Leverage); err != nil {
		return "", err
	}

	order, err := r.client.SubmitOrder(ctx, &exchange.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          exchange.OrderTypeLimit,
		Quantity:      o.Quantity,
		Price:         o.Price,
		TriggerPrice:  triggerPrice,
		StopLoss:      o.StopLoss,
		TakeProfit:    o.TakeProfit,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		r.reportOrder(o.Symbol, "conditional", err)
		return "", fmt.Errorf("conditional order rejected: %w", err)
	}

	r.reportOrder(o.Symbol, "conditional", nil)
	return order.ID, nil
}

// SubmitMarketOrFallbackLimit размещает входной ордер
//
// Тип выбирается эвристикой preferMarket. Если market-отправка упала,
// ровно ОДНА повторная попытка post-only limit по той же цене - никаких
// retry-штормов на этом пути.
func (r *OrderRouter) SubmitMarketOrFallbackLimit(ctx context.Context, o EntryOrder) (*exchange.Order, error) {
	if err := r.setLeverage(ctx, o.Symbol, o.Leverage); err != nil {
		return nil, err
	}

	req := &exchange.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Quantity:      o.Quantity,
		StopLoss:      o.StopLoss,
		TakeProfit:    o.TakeProfit,
		ClientOrderID: uuid.NewString(),
	}

	if !r.preferMarket(o.Symbol, o.Price) {
		req.Type = exchange.OrderTypeLimit
		req.Price = o.Price
		order, err := r.client.SubmitOrder(ctx, req)
		r.reportOrder(o.Symbol, "limit", err)
		if err != nil {
			return nil, fmt.Errorf("limit order rejected: %w", err)
		}
		return order, nil
	}

	req.Type = exchange.OrderTypeMarket
	order, err := r.client.SubmitOrder(ctx, req)
	if err == nil {
		r.reportOrder(o.Symbol, "market", nil)
		return order, nil
	}
	r.reportOrder(o.Symbol, "market", err)
	OrderFallbacks.WithLabelValues(o.Symbol).Inc()

	// Единственный фолбэк: post-only limit по той же цене
	fallback := *req
	fallback.Type = exchange.OrderTypeLimit
	fallback.Price = o.Price
	fallback.PostOnly = true
	fallback.ClientOrderID = uuid.NewString()

	order, err = r.client.SubmitOrder(ctx, &fallback)
	r.reportOrder(o.Symbol, "fallback_limit", err)
	if err != nil {
		return nil, fmt.Errorf("market and fallback limit both rejected: %w", err)
	}
	return order, nil
}

// SubmitMarket размещает market ордер без фолбэка.
// Для действий, где важна немедленность исполнения (хедж).
func (r *OrderRouter) SubmitMarket(ctx context.Context, o EntryOrder) (*exchange.Order, error) {
	if err := r.setLeverage(ctx, o.Symbol, o.Leverage); err != nil {
		return nil, err
	}

	order, err := r.client.SubmitOrder(ctx, &exchange.OrderRequest{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          exchange.OrderTypeMarket,
		Quantity:      o.Quantity,
		StopLoss:      o.StopLoss,
		TakeProfit:    o.TakeProfit,
		ClientOrderID: uuid.NewString(),
	})
	r.reportOrder(o.Symbol, "market", err)
	if err != nil {
		return nil, fmt.Errorf("market order rejected: %w", err)
	}
	return order, nil
}

// Cancel отменяет ордер (best-effort)
func (r *OrderRouter) Cancel(ctx context.Context, orderID, symbol string) error {
	err := r.client.CancelOrder(ctx, orderID, symbol)
	if err != nil {
		r.log.Warn("cancel failed", zap.String("symbol", symbol), zap.String("order_id", orderID), zap.Error(err))
		r.reportOrder(symbol, "cancel", err)
		return fmt.Errorf("cancel rejected: %w", err)
	}
	r.reportOrder(symbol, "cancel", nil)
	return nil
}

// Modify изменяет параметры ордера (best-effort)
func (r *OrderRouter) Modify(ctx context.Context, orderID, symbol string, fields *exchange.ModifyFields) error {
	err := r.client.ModifyOrder(ctx, orderID, symbol, fields)
	if err != nil {
		r.log.Warn("modify failed", zap.String("symbol", symbol), zap.String("order_id", orderID), zap.Error(err))
		r.reportOrder(symbol, "modify", err)
		return fmt.Errorf("modify rejected: %w", err)
	}
	r.reportOrder(symbol, "modify", nil)
	return nil
}

// CloseMarket закрывает позицию reduce-only market ордером.
// Критическая операция: aggressive retry.
func (r *OrderRouter) CloseMarket(ctx context.Context, symbol, positionSide string, qty float64) error {
	closeSide := exchange.SideSell
	if positionSide == models.SideShort {
		closeSide = exchange.SideBuy
	}

	err := retry.Do(ctx, func() error {
		_, err := r.client.SubmitOrder(ctx, &exchange.OrderRequest{
			Symbol:        symbol,
			Side:          closeSide,
			Type:          exchange.OrderTypeMarket,
			Quantity:      qty,
			ReduceOnly:    true,
			ClientOrderID: uuid.NewString(),
		})
		return err
	}, retry.AggressiveConfig())

	r.reportOrder(symbol, "close", err)
	if err != nil {
		return fmt.Errorf("close rejected: %w", err)
	}
	return nil
}

// TopUpMargin доливает изолированную маржу в позицию (best-effort)
func (r *OrderRouter) TopUpMargin(ctx context.Context, symbol, positionSide string, amount float64) error {
	err := r.client.AddMargin(ctx, symbol, positionSide, amount)
	if err != nil {
		r.log.Warn("margin top-up failed",
			zap.String("symbol", symbol), zap.Float64("amount", amount), zap.Error(err))
		r.reportOrder(symbol, "add_margin", err)
		return fmt.Errorf("margin top-up rejected: %w", err)
	}
	r.reportOrder(symbol, "add_margin", nil)
	return nil
}

// setLeverage переключает плечо символа перед входом (0 = не трогаем)
func (r *OrderRouter) setLeverage(ctx context.Context, symbol string, leverage float64) error {
	if leverage <= 0 {
		return nil
	}
	if err := r.client.SetLeverage(ctx, symbol, leverage); err != nil {
		r.reportOrder(symbol, "set_leverage", err)
		return fmt.Errorf("set leverage rejected: %w", err)
	}
	return nil
}

// reportOrder отправляет уведомление о результате действия
func (r *OrderRouter) reportOrder(symbol, action string, err error) {
	result := "ok"
	severity := models.SeverityInfo
	msg := fmt.Sprintf("order %s for %s: ok", action, symbol)
	if err != nil {
		result = "error"
		severity = models.SeverityError
		msg = fmt.Sprintf("order %s for %s failed: %v", action, symbol, err)
	}
	OrdersTotal.WithLabelValues(action, result).Inc()

	r.notifier.Publish(&models.Notification{
		Type:     models.NotificationTypeError,
		Severity: severity,
		Symbol:   symbol,
		Message:  msg,
	})
}

// StreamingMA - скользящее среднее по кольцевому буферу
//
// Потокобезопасно: пишет горутина WS фида, читает роутер.
type StreamingMA struct {
	mu     sync.Mutex
	window []float64
	idx    int
	filled bool
	sum    float64
}

// NewStreamingMA создаёт MA с окном n (минимум 2)
func NewStreamingMA(n int) *StreamingMA {
	if n < 2 {
		n = 2
	}
	return &StreamingMA{window: make([]float64, n)}
}

// Add добавляет значение в окно
func (m *StreamingMA) Add(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sum -= m.window[m.idx]
	m.window[m.idx] = v
	m.sum += v

	m.idx++
	if m.idx == len(m.window) {
		m.idx = 0
		m.filled = true
	}
}

// Value возвращает среднее и готовность (окно заполнено)
func (m *StreamingMA) Value() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.filled {
		return 0, false
	}
	return m.sum / float64(len(m.window)), true
}
