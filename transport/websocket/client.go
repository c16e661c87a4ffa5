package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection, either a user's or a watcher's
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	watcher bool

	// Set by the hub loop before the pumps start
	ctx context.Context
}

// readPump pumps frames from the connection to the handler
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if !c.watcher {
		c.hub.handler.OnConnect(c.ctx, c.userID)
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read failed", "user_id", c.userID, "error", err)
			}
			break
		}
		if c.watcher {
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.hub.reply(c.ctx, c, &Message{Type: TypeError, Kind: "invalid_json"})
			continue
		}
		if in.Type != InboundSubmit {
			c.hub.reply(c.ctx, c, &Message{Type: TypeError, Kind: "unknown_type"})
			continue
		}
		c.hub.handler.OnMessage(c.ctx, c.userID, in)
	}

	// Only the connection that still represents the user counts as a
	// departure; replaced and hub-closed connections do not.
	if c.hub.release(c) && !c.watcher {
		c.hub.handler.OnDisconnect(c.ctx, c.userID)
	}
}

// writePump pumps frames from the hub to the connection
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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
