// Package hub streams engine events to plain websocket clients such as bots
// and stage dashboards that do not speak socket.io.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/dropone/internal/game"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer is how many messages a client may fall behind before it
	// is dropped.
	sendBuffer = 32
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SessionLookup confirms a session exists before a client is attached.
type SessionLookup func(ctx context.Context, sessionID string) (game.Session, error)

// client is one websocket connection. Its writer goroutine owns conn for
// writing and closes it once send is closed.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	lookup   SessionLookup
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]map[*client]bool
}

func New(lookup SessionLookup, logger zerolog.Logger) *Hub {
	return &Hub{
		lookup: lookup,
		log:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]map[*client]bool),
	}
}

func (h *Hub) add(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*client]bool)
	}
	h.sessions[sessionID][c] = true
	h.log.Info().Str("session", sessionID).Int("total", len(h.sessions[sessionID])).Msg("ws client connected")
}

func (h *Hub) remove(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(sessionID, c)
}

// drop detaches c and closes its queue. h.mu must be held.
func (h *Hub) drop(sessionID string, c *client) {
	clients, ok := h.sessions[sessionID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.sessions, sessionID)
	}
	h.log.Info().Str("session", sessionID).Msg("ws client disconnected")
}

// Connections reports how many clients follow a session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}

// Publish queues ev for every client of its session and returns without
// waiting for the network. A client whose queue is full is dropped.
func (h *Hub) Publish(_ context.Context, ev game.Event) error {
	data, err := json.Marshal(Message{Type: string(ev.Type), Data: ev})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.sessions[ev.SessionID] {
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("session", ev.SessionID).Msg("ws client too slow, dropping")
			h.drop(ev.SessionID, c)
		}
	}
	return nil
}

func (h *Hub) writePump(sessionID string, c *client) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Warn().Err(err).Str("session", sessionID).Msg("ws write failed")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// Handle upgrades GET /ws/sessions/:id and keeps the connection until the
// client goes away. Incoming messages are ignored.
func (h *Hub) Handle(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.lookup(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": game.KindNotFound, "message": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade")
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(sessionID, cl)
	go h.writePump(sessionID, cl)
	defer h.remove(sessionID, cl)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
