package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

type client struct {
	principal domain.Principal
	conn      *websocket.Conn

	// mu guards send against a close racing with a delivery.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues data without blocking. full reports a live client whose
// buffer has no room.
func (c *client) trySend(data []byte) (sent, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.send <- data:
		return true, false
	default:
		return false, true
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// inbound is a message a subscriber may send.
type inbound struct {
	Type string `json:"type"`
}

// Hub fans notifications out to authenticated websocket subscribers.
type Hub struct {
	identity port.IdentityProvider
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(identity port.IdentityProvider, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		identity: identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Broadcast delivers n to the subscribers with role that accept admits. A nil
// accept admits everyone. accept runs outside the hub lock.
func (h *Hub) Broadcast(role domain.Role, n domain.Notification, accept func(domain.Principal) bool) int {
	data, ok := h.encode(n)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.principal.Role == role {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if accept != nil && !accept(c.principal) {
			continue
		}
		if h.deliver(c, data) {
			sent++
		}
	}
	return sent
}

func (h *Hub) Send(to domain.Principal, n domain.Notification) bool {
	data, ok := h.encode(n)
	if !ok {
		return false
	}

	h.mu.RLock()
	targets := make([]*client, 0, 1)
	for c := range h.clients {
		if c.principal == to {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if h.deliver(c, data) {
			delivered = true
		}
	}
	return delivered
}

func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) encode(n domain.Notification) ([]byte, bool) {
	if n.SentAt == 0 {
		n.SentAt = h.now().UnixMilli()
	}
	data, err := json.Marshal(n)
	if err != nil {
		log.Printf("notify: encode %s: %v", n.Type, err)
		return nil, false
	}
	return data, true
}

// deliver never blocks; a subscriber that cannot keep up is dropped.
func (h *Hub) deliver(c *client, data []byte) bool {
	sent, full := c.trySend(data)
	if full {
		log.Printf("notify: dropping slow subscriber %s", c.principal.ID)
		h.unregister(c)
	}
	return sent
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// ServeWS upgrades an authenticated request. Browsers cannot set headers on
// a websocket handshake, so the token travels as ?token=.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	principal, err := h.identity.ResolvePrincipal(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: upgrade: %v", err)
		return
	}

	c := &client{principal: principal, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("notify: read from %s: %v", c.principal.ID, err)
			}
			return
		}

		switch msg.Type {
		case "ping":
			h.deliverReply(c, domain.Notification{Type: "pong"})
		case "subscribe":
			h.deliverReply(c, domain.Notification{
				Type:    "subscribed",
				Payload: map[string]string{"userId": c.principal.ID, "role": string(c.principal.Role)},
			})
		}
	}
}

func (h *Hub) deliverReply(c *client, n domain.Notification) {
	if data, ok := h.encode(n); ok {
		h.deliver(c, data)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
