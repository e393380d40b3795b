package bot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"signaltrader/internal/models"
)

// Sink - приёмник уведомлений (WS хаб, репозиторий событий, лог)
type Sink interface {
	Notify(n *models.Notification)
}

// SinkFunc адаптирует функцию к интерфейсу Sink
type SinkFunc func(n *models.Notification)

// Notify вызывает функцию
func (f SinkFunc) Notify(n *models.Notification) { f(n) }

// Notifier - асинхронная раздача уведомлений по sink'ам
//
// Publish никогда не блокирует вызывающего: при переполненной очереди
// уведомление молча дропается (торговый путь важнее телеметрии).
type Notifier struct {
	queue chan *models.Notification
	sinks []Sink
	log   *zap.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewNotifier создаёт notifier с буфером queueSize и запускает воркер
func NewNotifier(queueSize int, log *zap.Logger, sinks ...Sink) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	n := &Notifier{
		queue: make(chan *models.Notification, queueSize),
		sinks: sinks,
		log:   log.Named("notifier"),
		done:  make(chan struct{}),
	}
	go n.run()
	return n
}

// Publish ставит уведомление в очередь (non-blocking)
func (n *Notifier) Publish(msg *models.Notification) {
	if msg == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	n.mu.Lock()
	stopped := n.stopped
	n.mu.Unlock()
	if stopped {
		return
	}

	select {
	case n.queue <- msg:
		NotificationsQueued.Inc()
	default:
		NotificationsDropped.Inc()
		n.log.Warn("notification queue full, dropping",
			zap.String("type", msg.Type),
			zap.String("symbol", msg.Symbol))
	}
}

// run - воркер: разгребает очередь и фан-аутит по sink'ам
func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		for _, s := range n.sinks {
			n.deliver(s, msg)
		}
	}
}

// deliver изолирует панику одного sink'а от остальных
func (n *Notifier) deliver(s Sink, msg *models.Notification) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("sink panicked", zap.Any("panic", r))
		}
	}()
	s.Notify(msg)
}

// Close останавливает воркер, дождавшись дренажа очереди
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.mu.Unlock()

	close(n.queue)
	<-n.done
}
