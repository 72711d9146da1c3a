package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/metrics"
	"go.uber.org/zap"
)

// TokenValidator checks the token a client sends as its first message.
type TokenValidator interface {
	ValidateToken(token string) (*auth.JWTClaims, error)
}

// Hub maintains authenticated WebSocket clients and broadcasts record
// events to them.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	logger    *zap.Logger
	validator TokenValidator
	metrics   *metrics.Collector
}

// NewHub creates a new Hub instance. collector may be nil.
func NewHub(logger *zap.Logger, validator TokenValidator, collector *metrics.Collector) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		validator:  validator,
		metrics:    collector,
	}
}

// Run is the hub's event loop. It forwards everything arriving on feed to
// the clients and returns when ctx is cancelled or feed is closed, closing
// every client connection.
func (h *Hub) Run(ctx context.Context, feed <-chan events.Event) {
	h.logger.Info("WebSocket Hub started")
	defer func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		h.metrics.SetWebsocketClients(0)
		h.logger.Info("WebSocket Hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebsocketClients(count)
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebsocketClients(count)

		case event, ok := <-feed:
			if !ok {
				return
			}
			h.send(NewEventMessage(event))

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *Hub) send(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow client: drop it rather than stall everyone else.
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Client send buffer full, unregistering",
				zap.String("remote_addr", client.remoteAddr()))
		}
	}
	h.metrics.SetWebsocketClients(len(h.clients))
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
