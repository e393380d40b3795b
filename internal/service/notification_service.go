package service

import (
	"go.uber.org/zap"

	"signaltrader/internal/models"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(n *models.Notification)
}

// NotificationService хранит и раздает уведомления жизненного цикла.
//
// Реализует bot.Sink: уведомления из ядра попадают сюда асинхронно
// через Notifier, пишутся в БД и рассылаются в WebSocket hub.
type NotificationService struct {
	repo  NotificationRepositoryInterface
	wsHub WebSocketBroadcaster
	log   *zap.Logger
}

// NewNotificationService создает новый экземпляр NotificationService
func NewNotificationService(repo NotificationRepositoryInterface, log *zap.Logger) *NotificationService {
	return &NotificationService{
		repo: repo,
		log:  log.Named("notification_service"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
// Вызывается после инициализации Hub в main.go.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Notify принимает уведомление из ядра (контракт bot.Sink)
//
// Ошибка записи в БД не останавливает рассылку: UI важнее журнала.
func (s *NotificationService) Notify(n *models.Notification) {
	if s.repo != nil {
		if err := s.repo.Create(n); err != nil {
			s.log.Warn("notification persist failed",
				zap.String("type", n.Type), zap.Error(err))
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}
}

// GetNotifications возвращает последние limit уведомлений
func (s *NotificationService) GetNotifications(limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.GetRecent(limit)
}
