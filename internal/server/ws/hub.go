// Package ws bridges the Redis signal bus onto WebSocket clients: every
// committed exchange event fans out to connected consumers, which may
// narrow their subscription to individual event categories.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// eventsPattern matches every exchange event channel the services publish
// on: events:listed, events:purchased, events:minted and so on.
const eventsPattern = "events:*"

// eventsStream is the durable stream the services append every committed
// event to, used for backlog replay.
const eventsStream = "events"

// backlogMaxCount caps how many stream entries a single backlog request
// may replay.
const backlogMaxCount = 500

// upgrader configures the WebSocket upgrade parameters. Origin policy is
// enforced by the CORS middleware in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow or widen its
// event subscription, e.g. {"action":"subscribe","channels":["events:purchased"]},
// or to request a replay of the durable event stream:
// {"action":"backlog","last_id":"0"}.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe", "unsubscribe" or "backlog"
	Channels []string `json:"channels"`
	LastID   string   `json:"last_id"`
	Count    int      `json:"count"`
}

// Hub manages connected WebSocket clients and broadcasts exchange events
// from the Redis signal bus to all subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a hub bridging bus onto WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main loop: client registration, unregistration, and
// broadcasting. It exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeEvents subscribes to the exchange event pattern on the signal bus
// and forwards every received message to the broadcast loop. The originating
// channel is recovered from the event name inside the payload envelope.
func (h *Hub) subscribeEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, eventsPattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to events",
			slog.String("pattern", eventsPattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to events", slog.String("pattern", eventsPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			var envelope struct {
				Event string `json:"event"`
			}
			_ = json.Unmarshal(data, &envelope)
			h.broadcast <- broadcastMsg{channel: "events:" + envelope.Event, data: data}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{eventsPattern: true},
	}

	h.register <- c
	c.sendWelcome()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			if sub.Action == "backlog" {
				c.handleBacklog(sub)
			} else {
				c.handleSubscription(sub)
			}
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests. A fresh
// subscribe narrows the client from the catch-all pattern to the named
// channels.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		delete(c.subs, eventsPattern)
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// handleBacklog replays durable stream entries recorded after last_id to
// the requesting client, wrapped in a backlog envelope carrying the stream
// ID so the client can resume from where it left off.
func (c *client) handleBacklog(msg subscribeMsg) {
	lastID := msg.LastID
	if lastID == "" {
		lastID = "0"
	}
	count := msg.Count
	if count <= 0 || count > backlogMaxCount {
		count = backlogMaxCount
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := c.hub.bus.StreamRead(ctx, eventsStream, lastID, count)
	if err != nil {
		c.hub.logger.Warn("ws: backlog read failed", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		frame, err := json.Marshal(map[string]any{
			"type":    "backlog",
			"id":      entry.ID,
			"payload": json.RawMessage(entry.Payload),
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
			c.hub.logger.Warn("ws: dropping backlog frame for slow client")
			return
		}
	}
}

// sendWelcome pushes a small JSON envelope so clients can immediately mark
// the connection as healthy even before any exchange events flow.
func (c *client) sendWelcome() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"connected":      true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given channel,
// honoring trailing-* wildcards ("events:*" matches "events:purchased").
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if len(sub) > 0 && sub[len(sub)-1] == '*' {
			prefix := sub[:len(sub)-1]
			if len(channel) >= len(prefix) && channel[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}

// writePump pumps messages from the hub to the WebSocket connection, with
// periodic ping frames for keepalive.
func (c *client) writePump() {
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
				// The hub closed the channel.
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
