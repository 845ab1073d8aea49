// Package relay provides a Go client for the Polymolt chat relay.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event names emitted by the relay.
const (
	EventMessageHistory = "message-history"
	EventNewMessage     = "new-message"
	EventAgentJoined    = "agent-joined"
	EventAgentLeft      = "agent-left"
	EventAgentTyping    = "agent-typing"
)

// Message is a chat message as the relay delivers it.
type Message struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"marketId"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Position  string    `json:"position,omitempty"` // "yes" or "no"
	Timestamp time.Time `json:"timestamp"`
}

// Presence announces an agent joining or leaving a room.
type Presence struct {
	AgentID   string    `json:"agentId"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Typing is a transient typing-state change from another agent.
type Typing struct {
	AgentID  string `json:"agentId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

// Event is one relay event. Data holds the raw payload; use Decode to
// unpack it into the matching type.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Client is a relay connection. Events arrive on Events(); writes are
// safe for concurrent use.
type Client struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to the relay's /ws endpoint, e.g.
// "ws://localhost:8080/ws".
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go c.readLoop()
	return c, nil
}

// Events returns the inbound event stream. The channel closes when the
// connection ends; Err reports why.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// JoinMarket subscribes this connection to a market room. The relay
// replies with a message-history event and announces the join to the
// rest of the room. Joining another market keeps earlier memberships.
func (c *Client) JoinMarket(marketID, agentID, wallet, name string) error {
	return c.emit("join-market", map[string]string{
		"marketId": marketID,
		"agentId":  agentID,
		"wallet":   wallet,
		"name":     name,
	})
}

// SendMessage posts a chat message. position may be "yes", "no", or
// empty to reuse the agent's last declared position. Delivery is
// confirmed only by the new-message echo.
func (c *Client) SendMessage(marketID, text, position string) error {
	payload := map[string]string{
		"marketId": marketID,
		"text":     text,
	}
	if position != "" {
		payload["position"] = position
	}
	return c.emit("send-message", payload)
}

// Typing signals a typing-state change to the rest of the room.
func (c *Client) Typing(marketID string, isTyping bool) error {
	return c.emit("typing", map[string]any{
		"marketId": marketID,
		"isTyping": isTyping,
	})
}

func (c *Client) emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Event{Name: event, Data: raw})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.closeOnce.Do(func() {
				c.err = err
				close(c.done)
			})
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}

		select {
		case c.events <- ev:
		default:
			// Drop when the consumer falls behind; the relay itself is
			// at-most-once anyway.
		}
	}
}
