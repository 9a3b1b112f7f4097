// Package ws broadcasts settlement events to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"nftsale/internal/domain"
	"nftsale/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients.
type Msg struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans settlement notifications out to all connected clients.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*conn]bool
	logger logger.Logger
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		conns:  make(map[*conn]bool),
		logger: log,
	}
}

// PublishPurchase implements sale.Publisher.
func (h *Hub) PublishPurchase(event domain.PurchaseEvent) {
	h.broadcast("purchase.completed", event)
}

// PublishWithdrawal implements sale.Publisher.
func (h *Hub) PublishWithdrawal(event domain.WithdrawalEvent) {
	h.broadcast("withdrawal.completed", event)
}

func (h *Hub) broadcast(msgType string, data any) {
	b, err := json.Marshal(Msg{Type: msgType, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		select {
		case c.send <- b:
		default:
			// slow client, drop
		}
	}
}

// HandleWS upgrades the connection and registers the subscriber.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	c := &conn{
		ws:   wsConn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c] {
		delete(h.conns, c)
		close(c.send)
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		// Clients only listen; drain until the peer goes away.
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
