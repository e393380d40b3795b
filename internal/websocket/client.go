package websocket

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	// Меньше pongWait, иначе соединение умрёт до пинга
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	clientSendBufferSize = 256
)

// originChecker разрешает Origin по списку из ALLOWED_ORIGINS
// (comma-separated; пусто или "*" = разрешены все)
type originCheckerT struct {
	allowed  map[string]struct{}
	allowAll bool
}

var originChecker = initOriginChecker()

func initOriginChecker() *originCheckerT {
	checker := &originCheckerT{allowed: make(map[string]struct{})}

	envOrigins := os.Getenv("ALLOWED_ORIGINS")
	if envOrigins == "" || envOrigins == "*" {
		checker.allowAll = true
		return checker
	}

	for _, origin := range strings.Split(envOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			checker.allowed[origin] = struct{}{}
		}
	}
	return checker
}

func (oc *originCheckerT) check(origin string) bool {
	if origin == "" {
		// non-browser клиенты (curl, мониторинг)
		return true
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowed[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return originChecker.check(r.Header.Get("Origin"))
	},
	EnableCompression: true,
}

// Client представляет одно WebSocket соединение
//
// Две горутины на клиента: readPump контролирует живость соединения,
// writePump шлёт broadcast-сообщения из буферизованного канала.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

// readPump читает входящие фреймы и поддерживает pong-дедлайн.
// Канал односторонний (сервер → клиент), входящие данные игнорируются.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump отправляет сообщения клиенту и шлёт пинги
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Добираем накопившееся в буфере, чтобы не плодить фреймы
		drainLoop:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение до WebSocket и регистрирует клиента
//
// Использование в routes:
//
//	router.HandleFunc("/ws", func(w, r) { websocket.ServeWS(hub, w, r) })
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}
