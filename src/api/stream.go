package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"CaptchaGate/src/resources"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
	maxSubscribers = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type Client struct {
	ID   string
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte
	mu   sync.Mutex
}

// Hub fans verification events out to every connected operator.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	logger  *zap.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, sendBufferSize),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("event subscriber joined", zap.String("client", client.ID), zap.Int("subscribers", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("event subscriber left", zap.String("client", client.ID), zap.Int("subscribers", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					delete(h.clients, client)
					close(client.Send)
					h.logger.Warn("removed unresponsive subscriber", zap.String("client", client.ID))
				}
			}
			h.mu.Unlock()

		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Publish queues ev for every subscriber. It never blocks the request path:
// when the queue is full or the hub is stopped the event is dropped.
func (h *Hub) Publish(ev resources.Event) {
	msgBytes, err := json.Marshal(Message{Type: "verification", Data: ev})
	if err != nil {
		h.logger.Error("error marshalling event", zap.Error(err))
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("event queue full, dropping event", zap.String("event_id", ev.ID))
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.logger.Warn("hub shutdown timeout")
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				c.Hub.logger.Debug("error writing to subscriber", zap.String("client", c.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; subscribers have nothing to say.
func (c *Client) readPump() {
	defer func() {
		c.Hub.leave(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.logger.Debug("subscriber connection error", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}
	}
}

// LiveEvents upgrades operators presenting key to a websocket that streams
// verification events.
func LiveEvents(hub *Hub, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.Query("key")
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid key"})
			return
		}

		if hub.Subscribers() >= maxSubscribers {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many subscribers"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade error", zap.Error(err))
			return
		}

		client := &Client{
			ID:   c.ClientIP() + "/" + c.GetString(requestIDKey),
			Conn: conn,
			Hub:  hub,
			Send: make(chan []byte, sendBufferSize),
		}
		if !hub.join(client) {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}
