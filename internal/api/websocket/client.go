package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the authentication message
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type authRequest struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
	claims *auth.JWTClaims
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// authenticate reads the first message, which must carry a valid access
// token. Nothing else is written to the connection until it returns, so
// replies go out directly.
func (c *Client) authenticate() bool {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var req authRequest
	if err := c.conn.ReadJSON(&req); err != nil {
		c.logger.Debug("WebSocket closed before authentication",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		return false
	}

	if req.Type != MessageTypeAuth || req.Token == "" {
		c.reject("first message must be authentication")
		return false
	}

	claims, err := c.hub.validator.ValidateToken(req.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.reject("invalid or expired token")
		return false
	}
	c.claims = claims

	permissions := make([]string, 0, 3)
	for _, p := range claims.Role.Permissions() {
		permissions = append(permissions, string(p))
	}
	data, _ := json.Marshal(NewMessage(MessageTypeAuthSuccess, AuthData{
		Username:    claims.Username,
		Permissions: permissions,
	}))
	c.send <- data
	return true
}

func (c *Client) reject(reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(NewMessage(MessageTypeAuthFailed, AuthData{Reason: reason})); err != nil {
		c.logger.Debug("Failed to send auth rejection", zap.Error(err))
	}
}

// readPump authenticates the client, registers it with the hub and then
// drains the connection until it closes. Clients only listen; anything they
// send after authenticating is ignored.
func (c *Client) readPump() {
	defer c.conn.Close()

	if !c.authenticate() {
		return
	}
	if !c.hub.join(c) {
		return
	}
	defer c.hub.leave(c)

	go c.writePump()

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("username", c.claims.Username))

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
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
				// Hub closed the channel
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

// ServeWs upgrades the request. The client has to authenticate with its
// first message before it receives any events.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go client.readPump()
}
