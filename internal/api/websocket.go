package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// WebSocket message types.
const (
	WSTypeEvent        = "event"
	WSTypeSubscribe    = "subscribe"
	WSTypeUnsubscribe  = "unsubscribe"
	WSTypeSubscribed   = "subscribed"
	WSTypeUnsubscribed = "unsubscribed"
	WSTypeError        = "error"
)

// Broadcast channels clients can subscribe to.
const (
	ChannelUnitState   = "unit.state"
	ChannelUnitCatalog = "unit.catalog"
	ChannelUnitCommand = "unit.command"
)

var wsChannels = map[string]bool{
	ChannelUnitState:   true,
	ChannelUnitCatalog: true,
	ChannelUnitCommand: true,
}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub fans registry events out to connected WebSocket clients.
type Hub struct {
	logger *logging.Logger
	config config.WebSocketConfig

	mu      sync.RWMutex
	clients map[*WSClient]bool

	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan WSMessage
}

func newHub(logger *logging.Logger, cfg config.WebSocketConfig) *Hub {
	return &Hub{
		logger:     logger.With("component", "websocket"),
		config:     cfg,
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan WSMessage, 64),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "remote", c.remoteAddr)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "remote", c.remoteAddr)
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.subscribed(msg.Channel) {
					c.trySend(msg)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// broadcastEvent translates a registry event into a WebSocket frame and
// queues it for delivery. Slow clients are skipped, never waited on.
func (h *Hub) broadcastEvent(ev unit.Event) {
	channel := channelForEvent(ev.Type)
	if channel == "" {
		return
	}
	payload, err := json.Marshal(ev.Snapshot)
	if err != nil {
		h.logger.Error("failed to encode event payload", "error", err)
		return
	}
	msg := WSMessage{
		Type:    WSTypeEvent,
		Channel: channel,
		Event:   string(ev.Type),
		Payload: payload,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event", "event", ev.Type)
	}
}

func channelForEvent(t unit.EventType) string {
	switch t {
	case unit.EventUnitAdded, unit.EventUnitRemoved:
		return ChannelUnitCatalog
	case unit.EventStateChanged:
		return ChannelUnitState
	case unit.EventCommandPending, unit.EventCommandConfirmed, unit.EventCommandExpired:
		return ChannelUnitCommand
	default:
		return ""
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client, used during shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan WSMessage
	remoteAddr string

	mu            sync.RWMutex
	subscriptions map[string]bool
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[channel]
}

// trySend queues a message without blocking. The send channel may be
// closed concurrently by the hub, the recover absorbs that race.
func (c *WSClient) trySend(msg WSMessage) {
	defer func() { _ = recover() }()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	pongTimeout := time.Duration(c.hub.config.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(c.hub.config.MaxMessageSize))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout * 2))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "remote", c.remoteAddr, "error", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	pingInterval := time.Duration(c.hub.config.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	writeWait := 10 * time.Second

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	switch msg.Type {
	case WSTypeSubscribe:
		if !wsChannels[msg.Channel] {
			c.sendError("unknown channel: " + msg.Channel)
			return
		}
		c.mu.Lock()
		c.subscriptions[msg.Channel] = true
		c.mu.Unlock()
		c.trySend(WSMessage{Type: WSTypeSubscribed, Channel: msg.Channel})
	case WSTypeUnsubscribe:
		c.mu.Lock()
		delete(c.subscriptions, msg.Channel)
		c.mu.Unlock()
		c.trySend(WSMessage{Type: WSTypeUnsubscribed, Channel: msg.Channel})
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *WSClient) sendError(message string) {
	payload, _ := json.Marshal(map[string]string{"error": message})
	c.trySend(WSMessage{Type: WSTypeError, Payload: payload})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon is expected to sit on a trusted LAN behind whatever
	// origin policy the operator's proxy enforces.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan WSMessage, 32),
		remoteAddr:    r.RemoteAddr,
		subscriptions: make(map[string]bool),
	}

	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
