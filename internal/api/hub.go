package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codyseavey/zec-tracker/internal/app"
	"github.com/codyseavey/zec-tracker/internal/metrics"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	maxInboundBytes  = 512
)

// Hub fans dashboard events out to connected websocket viewers. A viewer whose
// send buffer is full is disconnected rather than slowing everyone else down.
type Hub struct {
	upgrader websocket.Upgrader
	greet    func() app.Event

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub accepting connections from the given origins ("*" allows
// any). greet, when set, produces the first event each new viewer receives.
func NewHub(origins []string, greet func() app.Event) *Hub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
		greet:   greet,
		clients: make(map[*hubClient]struct{}),
	}
}

// Publish implements app.Publisher. It never blocks.
func (h *Hub) Publish(e app.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("Hub: failed to encode %s event: %v", e.Type, err)
		return
	}

	var slow []*hubClient
	h.mu.RLock()
	for c := range h.clients {
		if !trySend(c, data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.dropSlow(slow...)
}

// trySend queues data without blocking. The caller holds h.mu so send is open.
func trySend(c *hubClient, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) dropSlow(clients ...*hubClient) {
	for _, c := range clients {
		log.Printf("Hub: dropping slow client %s", c.id)
		h.remove(c)
	}
}

// Clients returns the number of connected viewers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the viewer goes away
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Hub: upgrade failed: %v", err)
		return
	}

	client := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	// Register before taking the greeting snapshot so nothing published in between
	// is lost. Such events arrive ahead of the greeting, which already includes them.
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.HubClients.Set(float64(count))

	if h.greet != nil {
		if data, err := json.Marshal(h.greet()); err == nil {
			h.mu.RLock()
			_, registered := h.clients[client]
			sent := registered && trySend(client, data)
			h.mu.RUnlock()
			if registered && !sent {
				h.dropSlow(client)
			}
		}
	}

	go h.writePump(client)
	h.readPump(client)
}

// remove unregisters a client and closes its send channel. Safe to call twice.
func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.HubClients.Set(float64(count))
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump only services control frames; viewers act through the HTTP API
func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Hub: client %s read error: %v", c.id, err)
			}
			return
		}
	}
}
