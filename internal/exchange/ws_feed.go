package exchange

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSFeedConfig - конфигурация переподключения WebSocket фида
type WSFeedConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
}

// DefaultWSFeedConfig возвращает конфигурацию по умолчанию: 2s, 4s, 8s, 16s
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// Состояния соединения
type wsState int32

const (
	wsStateDisconnected wsState = iota
	wsStateConnected
	wsStateClosed
)

// WSTickerFeed - поток тикеров по WebSocket с автопереподключением
//
// После реконнекта все активные подписки восстанавливаются. Разобранные
// тикеры отдаются в callback, установленный через SetOnTicker, из одной
// читающей горутины - callback обязан быть быстрым и неблокирующим.
type WSTickerFeed struct {
	exchangeName string
	wsURL        string
	config       WSFeedConfig

	conn   *websocket.Conn
	connMu sync.Mutex

	state int32 // atomic wsState

	// Активные подписки для восстановления после переподключения
	subscriptions map[string]struct{}
	subMu         sync.Mutex

	onTicker func(*Ticker)

	closeChan chan struct{}
	closeOnce sync.Once

	log *zap.Logger
}

// NewWSTickerFeed создаёт фид тикеров
func NewWSTickerFeed(exchangeName, wsURL string, cfg WSFeedConfig) *WSTickerFeed {
	return &WSTickerFeed{
		exchangeName:  exchangeName,
		wsURL:         wsURL,
		config:        cfg,
		subscriptions: make(map[string]struct{}),
		closeChan:     make(chan struct{}),
		log:           zap.L().Named("ws_feed").With(zap.String("exchange", exchangeName)),
	}
}

// SetOnTicker устанавливает обработчик тикеров (до Connect)
func (f *WSTickerFeed) SetOnTicker(fn func(*Ticker)) {
	f.onTicker = fn
}

// Connect устанавливает соединение и запускает цикл чтения
func (f *WSTickerFeed) Connect() error {
	if err := f.dial(); err != nil {
		return err
	}

	go f.readLoop()
	go f.pingLoop()
	return nil
}

// dial открывает WebSocket соединение
func (f *WSTickerFeed) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: f.config.ConnectTimeout}

	conn, _, err := dialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial %s: %w", f.wsURL, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.config.PingInterval + f.config.PongTimeout))
	})

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	atomic.StoreInt32(&f.state, int32(wsStateConnected))

	return nil
}

// Subscribe подписывается на тикер символа
func (f *WSTickerFeed) Subscribe(symbol string) error {
	f.subMu.Lock()
	f.subscriptions[symbol] = struct{}{}
	f.subMu.Unlock()

	return f.sendSubscribe(symbol)
}

// sendSubscribe отправляет запрос подписки (формат Bitget v2)
func (f *WSTickerFeed) sendSubscribe(symbol string) error {
	msg := map[string]interface{}{
		"op": "subscribe",
		"args": []map[string]string{
			{"instType": "USDT-FUTURES", "channel": "ticker", "instId": symbol},
		},
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	return f.conn.WriteJSON(msg)
}

// resubscribeAll восстанавливает подписки после переподключения
func (f *WSTickerFeed) resubscribeAll() {
	f.subMu.Lock()
	symbols := make([]string, 0, len(f.subscriptions))
	for s := range f.subscriptions {
		symbols = append(symbols, s)
	}
	f.subMu.Unlock()

	for _, s := range symbols {
		if err := f.sendSubscribe(s); err != nil {
			f.log.Warn("resubscribe failed", zap.String("symbol", s), zap.Error(err))
		}
	}
}

// readLoop читает сообщения и переподключается при разрывах
func (f *WSTickerFeed) readLoop() {
	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			if !f.reconnect() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			atomic.StoreInt32(&f.state, int32(wsStateDisconnected))
			f.log.Warn("ws read error", zap.Error(err))
			if !f.reconnect() {
				return
			}
			continue
		}

		f.handleMessage(data)
	}
}

// reconnect переподключается с exponential backoff
// Возвращает false, если фид закрыт или попытки исчерпаны
func (f *WSTickerFeed) reconnect() bool {
	delay := f.config.InitialDelay

	for attempt := 1; ; attempt++ {
		if f.config.MaxRetries > 0 && attempt > f.config.MaxRetries {
			f.log.Error("ws reconnect attempts exhausted", zap.Int("attempts", attempt-1))
			return false
		}

		select {
		case <-f.closeChan:
			return false
		case <-time.After(delay):
		}

		f.log.Info("ws reconnecting", zap.Int("attempt", attempt))
		if err := f.dial(); err == nil {
			f.resubscribeAll()
			return true
		}

		delay *= 2
		if delay > f.config.MaxDelay {
			delay = f.config.MaxDelay
		}
	}
}

// pingLoop поддерживает соединение живым
func (f *WSTickerFeed) pingLoop() {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.closeChan:
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn == nil || atomic.LoadInt32(&f.state) != int32(wsStateConnected) {
				continue
			}
			deadline := time.Now().Add(f.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				f.log.Warn("ws ping failed", zap.Error(err))
			}
		}
	}
}

// handleMessage разбирает сообщение тикера (формат Bitget v2)
func (f *WSTickerFeed) handleMessage(data []byte) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			LastPrice string `json:"lastPr"`
			BidPrice  string `json:"bidPr"`
			AskPrice  string `json:"askPr"`
			Ts        string `json:"ts"`
		} `json:"data"`
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		return // служебные сообщения (pong, subscribe ack) игнорируем
	}
	if msg.Arg.Channel != "ticker" || len(msg.Data) == 0 || f.onTicker == nil {
		return
	}

	d := msg.Data[0]
	last, err := strconv.ParseFloat(d.LastPrice, 64)
	if err != nil || last <= 0 {
		return
	}
	bid, _ := strconv.ParseFloat(d.BidPrice, 64)
	ask, _ := strconv.ParseFloat(d.AskPrice, 64)

	ts := time.Now()
	if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}

	f.onTicker(&Ticker{
		Symbol:    msg.Arg.InstID,
		BidPrice:  bid,
		AskPrice:  ask,
		LastPrice: last,
		Timestamp: ts,
	})
}

// Close закрывает фид
func (f *WSTickerFeed) Close() error {
	f.closeOnce.Do(func() {
		atomic.StoreInt32(&f.state, int32(wsStateClosed))
		close(f.closeChan)

		f.connMu.Lock()
		if f.conn != nil {
			f.conn.Close()
			f.conn = nil
		}
		f.connMu.Unlock()
	})
	return nil
}
