package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Client is one websocket connection of one user.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   int
	info     ConnInfo
	presence *presence.Store

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, info ConnInfo, presenceStore *presence.Store) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		userID:   info.UserID,
		info:     info,
		presence: presenceStore,
	}
}

// trySend queues a payload on the send channel. queued is false when the
// buffer is full; closed is true when the client is already gone. The
// mutex pairs with closeSend so a push racing an unregister can never hit
// a closed channel.
func (c *Client) trySend(payload []byte) (queued, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, true
	}
	select {
	case c.send <- payload:
		return true, false
	default:
		return false, false
	}
}

// closeSend closes the send channel exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run starts both pumps and blocks until the read side closes. It returns
// the close reason, empty for a normal close.
func (c *Client) Run() string {
	go c.writePump()
	return c.readPump()
}

// readPump drains inbound frames. Any traffic, including pongs, counts as
// activity for presence staleness.
func (c *Client) readPump() string {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.presence.Touch(c.userID, c.info.ConnID)
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ""
			}
			return err.Error()
		}
		c.presence.Touch(c.userID, c.info.ConnID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
