package handlers

import (
	"net/http"
	"strconv"

	"signaltrader/internal/models"
)

// NotificationServiceInterface определяет зависимости хендлера уведомлений
type NotificationServiceInterface interface {
	GetNotifications(limit int) ([]*models.Notification, error)
}

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - получение списка уведомлений
// - GET /api/v1/notifications?limit=50 - с ограничением количества
type NotificationHandler struct {
	notificationService NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает список уведомлений (новые сверху)
//
// GET /api/v1/notifications
//
// Query параметры:
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	notifications, err := h.notificationService.GetNotifications(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get notifications: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}
