package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hypewatch/internal/dashboard"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is a single WebSocket connection managed by the hub.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans dashboard updates out to connected WebSocket clients. Slow
// clients are disconnected rather than allowed to block the loop.
type Hub struct {
	tracker *dashboard.Tracker
	log     *slog.Logger

	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
}

// NewHub creates a hub over the tracker's update feed.
func NewHub(tracker *dashboard.Tracker, log *slog.Logger) *Hub {
	return &Hub{
		tracker:    tracker,
		log:        log,
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run is the hub's main loop; launch it as a goroutine. It subscribes to the
// tracker and broadcasts every update until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	id, updates := h.tracker.Subscribe(256)
	defer h.tracker.Unsubscribe(id)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			if b := h.snapshotMessage(); b != nil {
				select {
				case client.send <- b:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case u := <-updates:
			b, err := json.Marshal(u)
			if err != nil {
				h.log.Error("encoding update", "error", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- b:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// snapshotMessage builds the initial full-state message for a new client.
func (h *Hub) snapshotMessage() []byte {
	entries, err := h.tracker.Snapshot()
	if err != nil {
		h.log.Warn("building snapshot for new client", "error", err)
		return nil
	}
	out := make([]EntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, convertEntry(e))
	}
	b, err := json.Marshal(map[string]any{"type": "snapshot", "entries": out})
	if err != nil {
		h.log.Error("encoding snapshot", "error", err)
		return nil
	}
	return b
}

// ServeWS upgrades the connection and registers the client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains incoming frames; the dashboard protocol is push-only, so
// the read side only watches for disconnects and answers pings.
func (c *wsClient) readPump() {
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
				c.hub.log.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
