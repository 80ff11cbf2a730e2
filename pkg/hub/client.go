package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must be less than pongWait

	// Viewers only send control frames and the occasional ping message.
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

// Client is one websocket connection served by a hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers conn with the hub. The initial messages are queued
// ahead of any broadcast. It returns nil if the hub has stopped.
func NewClient(h *Hub, conn *websocket.Conn, initial ...Message) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan Message, sendBuffer+len(initial)),
	}
	for _, m := range initial {
		c.send <- m
	}
	select {
	case h.register <- c:
		return c
	case <-h.done:
		return nil
	}
}

// Run pumps messages until the connection closes. It blocks, so call it
// from the websocket handler.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump discards client input but must run to process control frames
// and notice disconnects.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("client read failed", "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			wsType := websocket.TextMessage
			if msg.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, msg.Data); err != nil {
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
