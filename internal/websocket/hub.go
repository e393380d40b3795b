package websocket

import (
	"bytes"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"signaltrader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул JSON буферов: Broadcast вызывается на каждый тик каждой позиции,
// без пула аллокации растут линейно с числом позиций
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Центральный broadcast уведомлений и обновлений позиций для UI.
// Медленные клиенты (забитый send-буфер) отключаются, а не тормозят
// остальных.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub создает новый Hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.Named("ws_hub"),
	}
}

// Run запускает главный цикл Hub.
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			// Список копируется под коротким RLock, отправка идёт без лока
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients",
					zap.Int("removed", len(toRemove)), zap.Int("total", total))
			}
		}
	}
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("broadcast marshal failed", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode добавляет trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msgCopy:
	default:
		h.log.Warn("broadcast queue full, message dropped")
	}
}

// BroadcastNotification отправляет уведомление жизненного цикла
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(&NotificationMessage{
		Type: MessageTypeNotification,
		Data: n,
	})
}

// BroadcastPositionUpdate отправляет снапшот позиции
func (h *Hub) BroadcastPositionUpdate(ts models.TradeState) {
	h.Broadcast(&PositionUpdateMessage{
		Type:   MessageTypePositionUpdate,
		Symbol: ts.Symbol,
		Data:   ts,
	})
}

// BroadcastReentryUpdate отправляет обновление счётчика реентри
func (h *Hub) BroadcastReentryUpdate(rec models.ReentryRecord) {
	h.Broadcast(&ReentryUpdateMessage{
		Type:     MessageTypeReentryUpdate,
		Symbol:   rec.Symbol,
		Attempts: rec.Attempts,
	})
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
