package realtime

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before being
	// considered dead. Pings go out at a fraction of this.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxInboundSize caps inbound frames. The protocol is push-only, so
	// anything beyond a trivial ping payload is a misbehaving client.
	maxInboundSize = 512
	// sendBufferSize is the per-connection outbound queue. A full queue
	// gets the connection dropped by the hub.
	sendBufferSize = 64
)

// Client is one WebSocket connection bound to a user's room.
type Client struct {
	userID string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
}

// NewClient wraps an upgraded connection for userID. The caller must invoke
// Serve to start the pumps.
func NewClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		userID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Serve registers the client and runs the read and write pumps. It returns
// once the connection is gone; the caller's handler should simply return
// after Serve.
func (c *Client) Serve() {
	c.hub.Join(c)
	go c.writePump()
	c.readPump()
}

// readPump drains inbound frames to keep pong handling alive. The protocol
// is server-push only, so payloads are discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("websocket read ended")
			}
			return
		}
	}
}

// writePump flushes the send queue and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
