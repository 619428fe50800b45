// Package realtime delivers inbox events to connected browser clients over
// WebSocket. Delivery is fire-and-forget: a slow or dead client never blocks
// the message persistence path.
package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event is the broadcast payload shape shared with the frontend.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin widget clients connect from customer domains.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	companyID uint
	sessionID string
}

// Hub tracks connected clients in three scopes: per-company (agent inbox
// views), per-webchat-session (visitor widgets) and global (smart-broadcast
// subscribers such as admin dashboards).
type Hub struct {
	mu       sync.RWMutex
	company  map[uint]map[*client]struct{}
	session  map[string]map[*client]struct{}
	global   map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		company: make(map[uint]map[*client]struct{}),
		session: make(map[string]map[*client]struct{}),
		global:  make(map[*client]struct{}),
	}
}

// HandleWS upgrades an HTTP request to a WebSocket client. Scope is taken
// from query parameters: company_id for agents, session_id for webchat
// visitors; a client with neither only receives global events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("realtime: upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, 64),
		sessionID: r.URL.Query().Get("session_id"),
	}
	if v := r.URL.Query().Get("company_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.companyID = uint(id)
		}
	}

	h.register(c)
	go c.writePump()
	go h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.companyID != 0 {
		if h.company[c.companyID] == nil {
			h.company[c.companyID] = make(map[*client]struct{})
		}
		h.company[c.companyID][c] = struct{}{}
	}
	if c.sessionID != "" {
		if h.session[c.sessionID] == nil {
			h.session[c.sessionID] = make(map[*client]struct{})
		}
		h.session[c.sessionID][c] = struct{}{}
	}
	h.global[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.company[c.companyID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.company, c.companyID)
		}
	}
	if set, ok := h.session[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.session, c.sessionID)
		}
	}
	delete(h.global, c)
	close(c.send)
}

// readPump discards inbound frames; the hub is broadcast-only. It exists to
// detect client disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// PublishToCompany delivers an event to every client of one company.
func (h *Hub) PublishToCompany(companyID uint, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.company[companyID] {
		h.push(c, payload)
	}
}

// PublishToSession delivers an event to the clients of one webchat session.
func (h *Hub) PublishToSession(sessionID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.session[sessionID] {
		h.push(c, payload)
	}
}

// PublishGlobal delivers an event to every connected client.
func (h *Hub) PublishGlobal(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.global {
		h.push(c, payload)
	}
}

// push enqueues without blocking; a full buffer drops the event for that
// client rather than stalling the caller.
func (h *Hub) push(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}
