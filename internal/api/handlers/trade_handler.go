package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"signaltrader/internal/bot"
	"signaltrader/internal/models"
)

// TradeServiceInterface определяет зависимости трейд-хендлера
type TradeServiceInterface interface {
	SubmitSignal(ctx context.Context, sig *models.Signal) error
	GetPositions() []models.TradeState
	ForceClose(ctx context.Context, symbol string) error
	ResetReentry(symbol string) error
	GetReentryState(symbol string) models.ReentryRecord
	GetEvents(symbol string, limit int) ([]*models.TradeEvent, error)
}

// TradeHandler отвечает за управление позициями
//
// Endpoints:
// - POST /api/v1/signals - принять торговый сигнал
// - GET /api/v1/positions - список живых позиций
// - POST /api/v1/positions/{symbol}/close - принудительное закрытие
// - GET /api/v1/reentry/{symbol} - состояние счётчика реентри
// - DELETE /api/v1/reentry/{symbol} - сброс счётчика реентри
// - GET /api/v1/events - журнал событий жизненного цикла
type TradeHandler struct {
	tradeService TradeServiceInterface
}

// NewTradeHandler создает новый TradeHandler с внедрением зависимости
func NewTradeHandler(tradeService TradeServiceInterface) *TradeHandler {
	return &TradeHandler{tradeService: tradeService}
}

// SubmitSignalRequest представляет тело запроса с сигналом
type SubmitSignalRequest struct {
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"`
	Entry         float64   `json:"entry"`
	StopLoss      *float64  `json:"stop_loss"`
	TakeProfits   []float64 `json:"take_profits"`
	Profiles      []string  `json:"profiles"`
	Group         string    `json:"group"`
	Timeframe     string    `json:"timeframe"`
	LeverageHint  float64   `json:"leverage_hint"`
	InitialMargin float64   `json:"initial_margin"`
}

// SubmitSignal принимает торговый сигнал
//
// POST /api/v1/signals
//
// HTTP коды:
// - 202 Accepted: сигнал принят в обработку
// - 400 Bad Request: невалидное тело или параметры сигнала
// - 500 Internal Server Error: отказ входа (биржа, размер позиции)
func (h *TradeHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var req SubmitSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sig := &models.Signal{
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Entry:         req.Entry,
		StopLoss:      req.StopLoss,
		TakeProfits:   req.TakeProfits,
		Profiles:      req.Profiles,
		Group:         req.Group,
		Timeframe:     req.Timeframe,
		LeverageHint:  req.LeverageHint,
		InitialMargin: req.InitialMargin,
		ReceivedAt:    time.Now(),
	}

	if err := h.tradeService.SubmitSignal(r.Context(), sig); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Signal rejected: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusAccepted, SuccessResponse{Message: "Signal accepted"})
}

// GetPositionsResponse представляет ответ списка позиций
type GetPositionsResponse struct {
	Positions []models.TradeState `json:"positions"`
	Total     int                 `json:"total"`
}

// GetPositions возвращает снапшот живых позиций
//
// GET /api/v1/positions
func (h *TradeHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.tradeService.GetPositions()
	respondWithJSON(w, http.StatusOK, GetPositionsResponse{
		Positions: positions,
		Total:     len(positions),
	})
}

// ClosePosition принудительно закрывает позицию символа
//
// POST /api/v1/positions/{symbol}/close
//
// HTTP коды:
// - 200 OK: позиция закрыта
// - 404 Not Found: открытой позиции по символу нет
// - 500 Internal Server Error: биржа отклонила закрытие
func (h *TradeHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if err := h.tradeService.ForceClose(r.Context(), symbol); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, bot.ErrNoPosition) {
			code = http.StatusNotFound
		}
		respondWithError(w, code, "Failed to close position: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Position closed"})
}

// GetReentry возвращает состояние счётчика реентри символа
//
// GET /api/v1/reentry/{symbol}
func (h *TradeHandler) GetReentry(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondWithJSON(w, http.StatusOK, h.tradeService.GetReentryState(symbol))
}

// ResetReentry сбрасывает счётчик реентри символа
//
// DELETE /api/v1/reentry/{symbol}
func (h *TradeHandler) ResetReentry(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if err := h.tradeService.ResetReentry(symbol); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Reentry counter reset"})
}

// GetEventsResponse представляет ответ журнала событий
type GetEventsResponse struct {
	Events []*models.TradeEvent `json:"events"`
	Total  int                  `json:"total"`
}

// GetEvents возвращает журнал событий жизненного цикла
//
// GET /api/v1/events
//
// Query параметры:
// - symbol (string): фильтр по символу
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *TradeHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.tradeService.GetEvents(symbol, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get events: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, GetEventsResponse{
		Events: events,
		Total:  len(events),
	})
}

