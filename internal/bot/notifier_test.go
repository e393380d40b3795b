package bot

import (
	"sync"
	"testing"
	"time"

	"signaltrader/internal/models"
)

// ============================================================
// Notifier Tests
// ============================================================

// collectSink копит доставленные уведомления
type collectSink struct {
	mu   sync.Mutex
	msgs []*models.Notification
}

func (s *collectSink) Notify(n *models.Notification) {
	s.mu.Lock()
	s.msgs = append(s.msgs, n)
	s.mu.Unlock()
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestNotifierFanOut(t *testing.T) {
	a := &collectSink{}
	b := &collectSink{}
	n := NewNotifier(16, testLogger(), a, b)

	n.Publish(&models.Notification{Type: models.NotificationTypeEntry, Symbol: "BTCUSDT", Message: "entered"})
	n.Publish(&models.Notification{Type: models.NotificationTypeSLMove, Symbol: "BTCUSDT", Message: "sl moved"})
	n.Close()

	if a.count() != 2 || b.count() != 2 {
		t.Errorf("expected both sinks to get 2 messages, got %d and %d", a.count(), b.count())
	}
}

func TestNotifierSetsTimestamp(t *testing.T) {
	sink := &collectSink{}
	n := NewNotifier(4, testLogger(), sink)

	n.Publish(&models.Notification{Type: models.NotificationTypeEntry, Symbol: "BTCUSDT"})
	n.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sink.msgs))
	}
	if sink.msgs[0].Timestamp.IsZero() {
		t.Error("expected Publish to set Timestamp")
	}
}

func TestNotifierNilMessage(t *testing.T) {
	n := NewNotifier(4, testLogger())
	n.Publish(nil) // не должен паниковать
	n.Close()
}

func TestNotifierPublishAfterClose(t *testing.T) {
	sink := &collectSink{}
	n := NewNotifier(4, testLogger(), sink)
	n.Close()

	// После Close публикация тихо игнорируется
	n.Publish(&models.Notification{Type: models.NotificationTypeEntry, Symbol: "BTCUSDT"})
	time.Sleep(10 * time.Millisecond)

	if sink.count() != 0 {
		t.Errorf("expected no deliveries after close, got %d", sink.count())
	}
}

func TestNotifierDoubleClose(t *testing.T) {
	n := NewNotifier(4, testLogger())
	n.Close()
	n.Close() // идемпотентно
}

func TestNotifierPanickingSink(t *testing.T) {
	panicky := SinkFunc(func(*models.Notification) { panic("sink boom") })
	healthy := &collectSink{}
	n := NewNotifier(4, testLogger(), panicky, healthy)

	n.Publish(&models.Notification{Type: models.NotificationTypeEntry, Symbol: "BTCUSDT"})
	n.Close()

	// Паника одного sink'а не ломает доставку остальным
	if healthy.count() != 1 {
		t.Errorf("expected healthy sink to receive message, got %d", healthy.count())
	}
}
