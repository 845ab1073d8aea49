package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polymolt/relay/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Larger than the message text limit to
	// leave room for the envelope.
	maxFrameSize = 8192

	// Outbound buffer per client. Full buffer means the client is too
	// slow and events for it are dropped.
	sendBuffer = 256
)

// Client is one live WebSocket connection. It carries no identity of its
// own; the hub's connection directory binds it to an agent on join.
type Client struct {
	id   string
	ip   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// queue enqueues an encoded event without blocking. Slow clients lose
// events rather than stalling the dispatcher.
func (c *Client) queue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.SlowClientDrops.Inc()
	}
}

// readPump reads inbound events and hands them to the hub. It owns the
// connection's read side; transport errors and clean closes both end in
// the same disconnect path.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("conn_id", c.id).Msg("connection closed abnormally")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.hub.dropEvent("invalid")
			continue
		}
		c.hub.Dispatch(c, env)
	}
}

// writePump writes queued events and heartbeats to the client.
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
