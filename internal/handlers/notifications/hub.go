// Package notifications relays badge awards to connected websocket clients.
package notifications

import (
	"context"
	"net/http"
	"sync"
	"time"

	"badgehub/internal/events"
	"badgehub/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===============================
// HUB CONFIGURATION
// ===============================

// HubConfig tunes client buffering and keepalive
type HubConfig struct {
	SendBuffer   int           `json:"send_buffer"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PongTimeout  time.Duration `json:"pong_timeout"`
	AllowOrigin  func(r *http.Request) bool
}

// DefaultHubConfig returns the default hub configuration
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		SendBuffer:   16,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		AllowOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Message is what a client receives for each award
type Message struct {
	Type        string             `json:"type"`
	Award       models.Award       `json:"award"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

// MessageTypeBadgeAwarded is the only message type sent today
const MessageTypeBadgeAwarded = "badge_awarded"

// ===============================
// HUB
// ===============================

// Hub tracks websocket clients per user
type Hub struct {
	config   *HubConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

type client struct {
	conn   *websocket.Conn
	userID string
	send   chan Message
	done   chan struct{}
	once   sync.Once
}

// NewHub creates a notification hub
func NewHub(config *HubConfig, logger *zap.Logger) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.AllowOrigin,
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// Handler returns the event bus handler that fans awards out to clients
func (h *Hub) Handler() events.EventHandler {
	return events.NewTypedEventHandler("notification_hub", func(ctx context.Context, event *events.BadgeAwardedEvent) error {
		h.Broadcast(event.Award.UserID, Message{
			Type:        MessageTypeBadgeAwarded,
			Award:       event.Award,
			TriggerType: event.TriggerType,
		})
		return nil
	})
}

// Broadcast delivers msg to every client of userID. A client whose buffer
// is full misses the message rather than stalling the publisher.
func (h *Hub) Broadcast(userID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping notification for slow client",
				zap.String("user_id", userID),
				zap.String("badge_id", msg.Award.BadgeID),
			)
		}
	}
}

// ServeWS handles GET /api/v1/users/{userID}/notifications
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		userID: userID,
		send:   make(chan Message, h.config.SendBuffer),
		done:   make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	h.logger.Info("Notification client connected", zap.String("user_id", userID))

	go h.writeMessages(c)
	h.readMessages(c)
}

// ClientCount returns the number of connected clients for userID
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.stop()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.stop()
}

// readMessages discards client input and detects disconnects
func (h *Hub) readMessages(c *client) {
	defer func() {
		h.unregister(c)
		h.logger.Info("Notification client disconnected", zap.String("user_id", c.userID))
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Notification client read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeMessages(c *client) {
	ping := time.NewTicker(h.config.PongTimeout * 9 / 10)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("Notification write failed", zap.String("user_id", c.userID), zap.Error(err))
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.config.WriteTimeout))
			return
		}
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}
