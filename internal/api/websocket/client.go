package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/auth"
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

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	maxMessageSize = 8192

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Ward dashboards are served from other origins; access is gated by
	// the token handshake.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	authenticated bool
	identity      auth.Identity

	mu     sync.RWMutex
	bedIDs map[string]bool
	kinds  map[string]bool
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wants reports whether the message passes the client's subscription. An
// empty filter matches everything; queue events carry no bed and pass any
// bed filter.
func (c *Client) wants(msg Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.kinds) > 0 && !c.kinds[string(msg.Type)] {
		return false
	}
	if len(c.bedIDs) > 0 && msg.BedID != "" && !c.bedIDs[msg.BedID] {
		return false
	}
	return true
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.authenticated {
			c.hub.leave(c)
		} else {
			// Never registered, nobody else owns the send channel
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if !c.authenticated {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		if c.authenticated {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			break
		}

		// First message must be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != MessageTypeAuth {
		c.sendAuthFailed("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	identity, err := c.hub.authService.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.authenticated = true
	c.identity = identity
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.sendAuthSuccess()
	c.hub.join(c)
	return true
}

func (c *Client) sendAuthSuccess() {
	c.sendJSON(Message{
		Type:      MessageTypeAuthSuccess,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"subject":     c.identity.Subject,
			"permissions": c.identity.Permissions,
		},
	})
	if c.hub.census != nil {
		c.sendJSON(NewMessage(MessageTypeWardCensus, c.hub.census.CensusSnapshot()))
	}
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendJSON(Message{
		Type:      MessageTypeAuthFailed,
		Timestamp: time.Now(),
		Data:      map[string]string{"reason": reason},
	})
}

// sendJSON queues a direct reply. Only called from readPump before the
// client could have been unregistered.
func (c *Client) sendJSON(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.setFilter(msg.BedIDs, msg.Kinds)
		c.logger.Debug("WebSocket subscription updated",
			zap.String("remote_addr", c.remoteAddr()),
			zap.Strings("bed_ids", msg.BedIDs),
			zap.Strings("kinds", msg.Kinds))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", string(msg.Type)))
	}
}

// setFilter replaces the subscription. Empty lists clear it.
func (c *Client) setFilter(bedIDs, kinds []string) {
	c.mu.Lock()
	c.bedIDs = toSet(bedIDs)
	c.kinds = toSet(kinds)
	c.mu.Unlock()
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// ServeWs handles WebSocket upgrade requests. Clients join the hub once
// they authenticate, or immediately when authentication is disabled.
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

	go client.writePump()

	if hub.authService.Disabled() {
		client.authenticated = true
		client.identity = auth.Identity{Subject: "anonymous"}
		hub.join(client)
	}

	go client.readPump()
}
