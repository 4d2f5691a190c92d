// Package ws streams auction read models to browser clients. The hub
// subscribes to the signal bus and routes each update to the clients
// subscribed to its auction channel.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256

	// DefaultPattern matches every auction channel.
	DefaultPattern = "auction:*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the frame sent to clients.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeMsg changes a client's channel set, e.g.
// {"action":"subscribe","channels":["auction:nft-1"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Config configures a Hub.
type Config struct {
	// Pattern is the bus channel the hub listens on.
	Pattern   string
	StartedAt time.Time
	// Snapshot returns the current read models sent to a client on connect.
	Snapshot func() []domain.AuctionView
}

// Hub bridges a domain.SignalBus to connected websocket clients.
type Hub struct {
	bus      domain.SignalBus
	cfg      Config
	logger   *slog.Logger
	ready    chan struct{}
	readyOne sync.Once
	done     chan struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 256),
		clients:    make(map[*client]bool),
	}
}

// Ready is closed once the bus subscription is established.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	updates, err := h.bus.Subscribe(ctx, h.cfg.Pattern)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", h.cfg.Pattern, err)
	}
	h.readyOne.Do(func() { close(h.ready) })
	h.logger.Info("subscribed", slog.String("pattern", h.cfg.Pattern))

	go h.route(ctx, updates)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// route wraps each bus payload in an Envelope addressed to its auction
// channel.
func (h *Hub) route(ctx context.Context, updates <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-updates:
			if !ok {
				h.logger.Warn("bus subscription closed")
				return
			}
			frame, channel, err := viewFrame(data)
			if err != nil {
				h.logger.Warn("undecodable update", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// viewFrame turns a published AuctionView into a client frame.
func viewFrame(data []byte) ([]byte, string, error) {
	var head struct {
		AuctionID string `json:"auctionId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, "", err
	}
	if head.AuctionID == "" {
		return nil, "", fmt.Errorf("missing auctionId")
	}
	channel := "auction:" + head.AuctionID
	frame, err := json.Marshal(Envelope{Type: "auction_view", Channel: channel, Payload: data})
	if err != nil {
		return nil, "", err
	}
	return frame, channel, nil
}

// HandleWS upgrades the request and registers the client. New clients
// follow every auction until they send a subscription message.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{h.cfg.Pattern: true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendSnapshot()

	go c.writePump()
	go c.readPump()
}

// sendSnapshot queues a hello frame and the current read models.
func (c *client) sendSnapshot() {
	hello, _ := json.Marshal(map[string]any{
		"uptimeSeconds": int64(time.Since(c.hub.cfg.StartedAt).Seconds()),
	})
	c.enqueue(Envelope{Type: "hello", Payload: hello})

	if c.hub.cfg.Snapshot == nil {
		return
	}
	for _, v := range c.hub.cfg.Snapshot() {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		c.enqueue(Envelope{Type: "auction_view", Channel: "auction:" + v.AuctionID, Payload: data})
	}
}

func (c *client) enqueue(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
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
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches exact channels and trailing '*' prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
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
