package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signaltrader/internal/api/handlers"
	"signaltrader/internal/api/middleware"
	"signaltrader/internal/service"
	"signaltrader/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	TradeService        *service.TradeService
	NotificationService *service.NotificationService
	Hub                 *websocket.Hub
	APITokenHash        string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── POST /signals - принять торговый сигнал
//	├── GET  /positions - список живых позиций
//	├── POST /positions/{symbol}/close - принудительное закрытие
//	├── GET  /reentry/{symbol} - состояние счётчика реентри
//	├── DELETE /reentry/{symbol} - сброс счётчика
//	├── GET  /events - журнал событий жизненного цикла
//	└── GET  /notifications - журнал уведомлений
//
// /ws - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.APITokenHash))

	if deps.TradeService != nil {
		tradeHandler := handlers.NewTradeHandler(deps.TradeService)
		api.HandleFunc("/signals", tradeHandler.SubmitSignal).Methods("POST")
		api.HandleFunc("/positions", tradeHandler.GetPositions).Methods("GET")
		api.HandleFunc("/positions/{symbol}/close", tradeHandler.ClosePosition).Methods("POST")
		api.HandleFunc("/reentry/{symbol}", tradeHandler.GetReentry).Methods("GET")
		api.HandleFunc("/reentry/{symbol}", tradeHandler.ResetReentry).Methods("DELETE")
		api.HandleFunc("/events", tradeHandler.GetEvents).Methods("GET")
	}

	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
