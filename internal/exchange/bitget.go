package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"signaltrader/pkg/ratelimit"
)

const (
	bitgetBaseURL     = "https://api.bitget.com"
	bitgetWSPublic    = "wss://ws.bitget.com/v2/ws/public"
	bitgetProductType = "USDT-FUTURES"
	bitgetMarginCoin  = "USDT"
)

// json - jsoniter в режиме совместимости со стандартной библиотекой.
// Биржевые ответы парсятся на каждом тике, рефлексия encoding/json
// здесь заметна в профиле.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bitget реализует интерфейс Client для биржи Bitget (USDT-M фьючерсы)
type Bitget struct {
	apiKey     string
	secretKey  string
	passphrase string

	httpClient *http.Client
	limiter    *ratelimit.Limiter

	// WebSocket фид цен с автопереподключением
	wsFeed *WSTickerFeed

	tickerCallbacks map[string][]func(*Ticker)
	callbackMu      sync.RWMutex
}

// NewBitget создает новый клиент Bitget
// Использует глобальный HTTP клиент с connection pooling
func NewBitget(apiKey, secret, passphrase string) *Bitget {
	return &Bitget{
		apiKey:          apiKey,
		secretKey:       secret,
		passphrase:      passphrase,
		httpClient:      GetGlobalHTTPClient(),
		limiter:         ratelimit.New(10, 20),
		tickerCallbacks: make(map[string][]func(*Ticker)),
	}
}

func (b *Bitget) GetName() string {
	return "bitget"
}

// sign создает подпись запроса: base64(HMAC-SHA256(ts + method + path + body))
func (b *Bitget) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bitget API
func (b *Bitget) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody string
	requestPath := endpoint

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		if encoded := query.Encode(); encoded != "" {
			requestPath = endpoint + "?" + encoded
		}
	} else if len(params) > 0 {
		jsonBytes, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		reqBody = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, bitgetBaseURL+requestPath, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("ACCESS-KEY", b.apiKey)
		req.Header.Set("ACCESS-SIGN", b.sign(timestamp, method, requestPath, reqBody))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", b.passphrase)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Базовый ответ Bitget: code "00000" = успех
	var baseResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}

	if baseResp.Code != "00000" {
		return nil, &ExchangeError{
			Exchange: "bitget",
			Code:     baseResp.Code,
			Message:  baseResp.Msg,
		}
	}

	return body, nil
}

// FetchPrice получает текущую last price символа
func (b *Bitget) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{
		"symbol":      symbol,
		"productType": bitgetProductType,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/market/ticker", params, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	var resp struct {
		Data []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("%w: ticker not found for %s", ErrPriceUnavailable, symbol)
	}

	price, err := strconv.ParseFloat(resp.Data[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: bad price %q for %s", ErrPriceUnavailable, resp.Data[0].LastPrice, symbol)
	}

	return price, nil
}

// GetBalance получает доступный баланс USDT фьючерсного аккаунта
func (b *Bitget) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]string{
		"productType": bitgetProductType,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/account/accounts", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			MarginCoin string `json:"marginCoin"`
			Available  string `json:"available"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	for _, acc := range resp.Data {
		if acc.MarginCoin == bitgetMarginCoin {
			available, _ := strconv.ParseFloat(acc.Available, 64)
			return available, nil
		}
	}

	return 0, nil
}

// SubmitOrder размещает ордер
func (b *Bitget) SubmitOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	params := map[string]string{
		"symbol":      req.Symbol,
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
		"marginMode":  "isolated",
		"side":        req.Side,
		"orderType":   req.Type,
		"size":        strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}

	if req.Type == OrderTypeLimit {
		params["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
		if req.PostOnly {
			params["force"] = "post_only"
		} else {
			params["force"] = "gtc"
		}
	}
	if req.TriggerPrice > 0 {
		params["triggerPrice"] = strconv.FormatFloat(req.TriggerPrice, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		params["presetStopLossPrice"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		params["presetStopSurplusPrice"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "YES"
	}
	if req.ClientOrderID != "" {
		params["clientOid"] = req.ClientOrderID
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/place-order", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			OrderID   string `json:"orderId"`
			ClientOid string `json:"clientOid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &Order{
		ID:        resp.Data.OrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Status:    "new",
		CreatedAt: time.Now(),
	}, nil
}

// CancelOrder отменяет ордер
func (b *Bitget) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"symbol":      symbol,
		"productType": bitgetProductType,
		"orderId":     orderID,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/cancel-order", params, true)
	return err
}

// ModifyOrder изменяет параметры ордера
func (b *Bitget) ModifyOrder(ctx context.Context, orderID, symbol string, fields *ModifyFields) error {
	params := map[string]string{
		"symbol":      symbol,
		"productType": bitgetProductType,
		"orderId":     orderID,
	}

	if fields.Price != nil {
		params["newPrice"] = strconv.FormatFloat(*fields.Price, 'f', -1, 64)
	}
	if fields.Quantity != nil {
		params["newSize"] = strconv.FormatFloat(*fields.Quantity, 'f', -1, 64)
	}
	if fields.StopLoss != nil {
		params["newPresetStopLossPrice"] = strconv.FormatFloat(*fields.StopLoss, 'f', -1, 64)
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/modify-order", params, true)
	return err
}

// SetLeverage устанавливает плечо для символа
func (b *Bitget) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	params := map[string]string{
		"symbol":      symbol,
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
		"leverage":    strconv.FormatFloat(leverage, 'f', -1, 64),
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/account/set-leverage", params, true)
	return err
}

// AddMargin доливает изолированную маржу в открытую позицию
func (b *Bitget) AddMargin(ctx context.Context, symbol, positionSide string, amount float64) error {
	params := map[string]string{
		"symbol":      symbol,
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
		"holdSide":    positionSide, // long / short
		"amount":      strconv.FormatFloat(amount, 'f', -1, 64),
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/account/set-margin", params, true)
	return err
}

// GetOpenPositions получает список открытых позиций
func (b *Bitget) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	params := map[string]string{
		"productType": bitgetProductType,
		"marginCoin":  bitgetMarginCoin,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/position/all-position", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Symbol        string `json:"symbol"`
			HoldSide      string `json:"holdSide"` // long, short
			Total         string `json:"total"`
			OpenPriceAvg  string `json:"openPriceAvg"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealizedPL  string `json:"unrealizedPL"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*Position, 0, len(resp.Data))
	for _, p := range resp.Data {
		size, _ := strconv.ParseFloat(p.Total, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.OpenPriceAvg, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		upl, _ := strconv.ParseFloat(p.UnrealizedPL, 64)

		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			Side:          p.HoldSide,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			Leverage:      lev,
			UnrealizedPnl: upl,
			UpdatedAt:     time.Now(),
		})
	}

	return positions, nil
}

// SubscribeTicker подписывается на обновления цен через WebSocket
// Фид создаётся лениво при первой подписке
func (b *Bitget) SubscribeTicker(symbol string, callback func(*Ticker)) error {
	b.callbackMu.Lock()
	b.tickerCallbacks[symbol] = append(b.tickerCallbacks[symbol], callback)
	if b.wsFeed == nil {
		b.wsFeed = NewWSTickerFeed("bitget", bitgetWSPublic, DefaultWSFeedConfig())
		b.wsFeed.SetOnTicker(b.dispatchTicker)
		if err := b.wsFeed.Connect(); err != nil {
			b.callbackMu.Unlock()
			return err
		}
	}
	feed := b.wsFeed
	b.callbackMu.Unlock()

	return feed.Subscribe(symbol)
}

// dispatchTicker раздаёт тикер подписчикам символа
func (b *Bitget) dispatchTicker(t *Ticker) {
	b.callbackMu.RLock()
	callbacks := b.tickerCallbacks[t.Symbol]
	b.callbackMu.RUnlock()

	for _, cb := range callbacks {
		cb(t)
	}
}

// Close закрывает соединения с биржей
func (b *Bitget) Close() error {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()

	if b.wsFeed != nil {
		return b.wsFeed.Close()
	}
	return nil
}
