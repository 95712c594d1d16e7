// Package ws streams committed operation events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aoikurokawa/zone/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Config controls the upgrade.
type Config struct {
	// AllowedOrigins restricts browser origins; empty or "*" allows all.
	AllowedOrigins []string
	Mode           string
}

// subscribeMsg narrows (or widens) the assets a client hears about. An empty
// asset set means every asset.
//
//	{"action":"subscribe","assets":["BTC","ETH"]}
//	{"action":"unsubscribe","assets":["ETH"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Assets []string `json:"assets"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	assets map[string]bool
}

// Hub relays events from the signal bus to connected clients.
type Hub struct {
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mode       string
	startedAt  time.Time
	logger     *slog.Logger
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

type broadcastMsg struct {
	assetID string
	data    []byte
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:        bus,
		mode:       cfg.Mode,
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to the events channel and serves the hub until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("channel", domain.EventsChannel))
	go h.forward(ctx, events)

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
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.assetID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.WarnContext(ctx, "ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward tags each bus payload with its asset so the hub can filter.
func (h *Hub) forward(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.WarnContext(ctx, "ws: event subscription closed")
				return
			}
			var evt struct {
				AssetID string `json:"asset_id"`
			}
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.WarnContext(ctx, "ws: malformed event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{assetID: evt.AssetID, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws?assets=BTC,ETH
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		assets: make(map[string]bool),
	}
	if q := r.URL.Query().Get("assets"); q != "" {
		c.update(subscribeMsg{Action: "subscribe", Assets: strings.Split(q, ",")})
	}
	// Once registered, c.send belongs to Run, which closes it on shutdown.
	c.queueHello()

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.update(sub)
		}
	}
}

func (c *client) update(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range msg.Assets {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.assets[a] = true
		case "unsubscribe":
			delete(c.assets, a)
		}
	}
}

// wants reports whether an event for assetID should reach the client.
// Events without an asset (vault initialization) reach everyone.
func (c *client) wants(assetID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets) == 0 || assetID == "" || c.assets[assetID]
}

// queueHello must run before the client is registered.
func (c *client) queueHello() {
	msg, err := json.Marshal(map[string]any{
		"type":           "hello",
		"mode":           c.hub.mode,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
