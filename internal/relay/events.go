package relay

import (
	"encoding/json"
	"time"

	"github.com/polymolt/relay/internal/models"
)

// Inbound event names (client -> relay).
const (
	EventJoinMarket  = "join-market"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// Outbound event names (relay -> client).
const (
	EventMessageHistory = "message-history"
	EventNewMessage     = "new-message"
	EventAgentJoined    = "agent-joined"
	EventAgentLeft      = "agent-left"
	EventAgentTyping    = "agent-typing"
)

// Envelope is the wire frame for every relay event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the join-market request.
type JoinPayload struct {
	MarketID string `json:"marketId"`
	AgentID  string `json:"agentId"`
	Wallet   string `json:"wallet"`
	Name     string `json:"name"`
}

// SendPayload is the send-message request.
type SendPayload struct {
	MarketID string          `json:"marketId"`
	Text     string          `json:"text"`
	Position models.Position `json:"position,omitempty"`
}

// TypingPayload is the typing request.
type TypingPayload struct {
	MarketID string `json:"marketId"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload announces an agent joining or leaving a room.
type PresencePayload struct {
	AgentID   string    `json:"agentId"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingEvent relays an agent's typing state to the rest of the room.
type TypingEvent struct {
	AgentID  string `json:"agentId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

// Encode marshals an outbound event into its wire frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
