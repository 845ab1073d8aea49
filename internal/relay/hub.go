package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/metrics"
	"github.com/polymolt/relay/internal/models"
	"github.com/polymolt/relay/internal/store"
)

// maxTextLen bounds the body of a chat message.
const maxTextLen = 4096

// Limiter is a fixed-window rate limiter. RedisLog implements it; a nil
// Limiter disables rate limiting.
type Limiter interface {
	Allow(ctx context.Context, scope, id string, limit int, window time.Duration) bool
}

// Options configures a Hub.
type Options struct {
	// HistoryLimit is the number of messages replayed on join. Defaults
	// to 50.
	HistoryLimit int

	// MsgRateLimit caps messages per agent per minute. 0 disables.
	MsgRateLimit int

	// WSRateLimit caps new connections per IP per minute. 0 disables.
	WSRateLimit int

	// Limiter backs the two rate limits above. Nil disables both.
	Limiter Limiter
}

// Hub owns all shared relay state: the connection directory (connection
// to agent binding), the market rooms, and each connection's room
// memberships. One mutex guards all of it, so every inbound event is
// applied as a single atomic step. A connection may belong to several
// market rooms at once; a later join never removes earlier memberships,
// only disconnect does.
type Hub struct {
	logger   zerolog.Logger
	registry *Registry
	messages store.MessageLog
	opts     Options

	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bindings    map[*Client]string
	rooms       map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}

	upgrader websocket.Upgrader
}

// NewHub creates a Hub on top of the given registry and message log.
func NewHub(logger zerolog.Logger, registry *Registry, messages store.MessageLog, opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}

	return &Hub{
		logger:      logger,
		registry:    registry,
		messages:    messages,
		opts:        opts,
		clients:     make(map[*Client]struct{}),
		bindings:    make(map[*Client]string),
		rooms:       make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents connect from anywhere, same as the REST CORS policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an HTTP request into a relay connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := r.RemoteAddr

	if h.opts.Limiter != nil && h.opts.WSRateLimit > 0 {
		if !h.opts.Limiter.Allow(r.Context(), "ws", ip, h.opts.WSRateLimit, time.Minute) {
			metrics.DroppedEventsTotal.WithLabelValues("rate_limited").Inc()
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		ip:   ip,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.register(c)

	go c.writePump()
	go c.readPump()
}

// register adds a freshly upgraded connection. It carries no agent
// identity until its first join.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	h.logger.Debug().Str("conn_id", c.id).Str("remote_addr", c.ip).Msg("connection registered")
}

// Dispatch routes one inbound event. Malformed payloads and events from
// unbound senders are dropped without a reply.
func (h *Hub) Dispatch(c *Client, env Envelope) {
	metrics.EventsTotal.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case EventJoinMarket:
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.dropEvent("invalid")
			return
		}
		h.handleJoin(c, p)
	case EventSendMessage:
		var p SendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.dropEvent("invalid")
			return
		}
		h.handleSend(c, p)
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.dropEvent("invalid")
			return
		}
		h.handleTyping(c, p)
	default:
		h.dropEvent("invalid")
	}
}

// handleJoin registers the agent, binds the connection, subscribes it to
// the market room, replays recent history to the requester only, and
// announces the join to everyone else in the room.
func (h *Hub) handleJoin(c *Client, p JoinPayload) {
	if p.MarketID == "" || p.AgentID == "" {
		h.dropEvent("invalid")
		return
	}

	ctx := context.Background()
	agent := h.registry.Upsert(ctx, p.AgentID, p.Wallet, p.Name)

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	// Rebinding replaces the agent identity but keeps existing room
	// memberships; one connection can sit in several markets.
	h.bindings[c] = p.AgentID
	room, ok := h.rooms[p.MarketID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[p.MarketID] = room
	}
	room[c] = struct{}{}
	member, ok := h.memberships[c]
	if !ok {
		member = make(map[string]struct{})
		h.memberships[c] = member
	}
	member[p.MarketID] = struct{}{}
	online := len(h.bindings)
	h.mu.Unlock()

	metrics.OnlineAgents.Set(float64(online))

	history, err := h.messages.Tail(ctx, p.MarketID, h.opts.HistoryLimit)
	if err != nil {
		h.logger.Warn().Err(err).Str("market_id", p.MarketID).Msg("history fetch failed")
		history = nil
	}
	if history == nil {
		history = []models.Message{}
	}
	if data, err := Encode(EventMessageHistory, history); err == nil {
		c.queue(data)
	}

	joined, err := Encode(EventAgentJoined, PresencePayload{
		AgentID:   agent.ID,
		Name:      agent.Name,
		Timestamp: time.Now().UTC(),
	})
	if err == nil {
		h.broadcast(p.MarketID, joined, c)
	}

	h.logger.Info().
		Str("agent_id", agent.ID).
		Str("name", agent.Name).
		Str("market_id", p.MarketID).
		Msg("agent joined market")
}

// handleSend appends a message and echoes it to the whole room, sender
// included. The echo is the only delivery acknowledgment the protocol
// has.
func (h *Hub) handleSend(c *Client, p SendPayload) {
	h.mu.RLock()
	agentID, bound := h.bindings[c]
	h.mu.RUnlock()
	if !bound {
		h.dropEvent("unbound")
		return
	}

	agent, ok := h.registry.Get(agentID)
	if !ok {
		h.dropEvent("unbound")
		return
	}

	if p.MarketID == "" || p.Text == "" || len(p.Text) > maxTextLen {
		h.dropEvent("invalid")
		return
	}

	ctx := context.Background()

	if h.opts.Limiter != nil && h.opts.MsgRateLimit > 0 {
		if !h.opts.Limiter.Allow(ctx, "msg", agentID, h.opts.MsgRateLimit, time.Minute) {
			h.dropEvent("rate_limited")
			return
		}
	}

	// An explicit position becomes the agent's new default; an omitted
	// one falls back to the last declared position.
	position := p.Position
	if position.Valid() {
		h.registry.SetPosition(ctx, agentID, position)
	} else {
		position = agent.Position
	}

	msg := models.Message{
		MarketID: p.MarketID,
		User:     agent.Name,
		Text:     p.Text,
		Position: position,
	}
	if err := h.messages.Append(ctx, &msg); err != nil {
		h.logger.Warn().Err(err).Str("market_id", p.MarketID).Msg("message append failed")
		return
	}
	metrics.MessagesTotal.Inc()

	if data, err := Encode(EventNewMessage, msg); err == nil {
		h.broadcast(p.MarketID, data, nil)
	}
}

// handleTyping relays a transient typing-state change to the room,
// excluding the sender. Nothing is persisted; last state wins.
func (h *Hub) handleTyping(c *Client, p TypingPayload) {
	h.mu.RLock()
	agentID, bound := h.bindings[c]
	h.mu.RUnlock()
	if !bound {
		h.dropEvent("unbound")
		return
	}

	agent, ok := h.registry.Get(agentID)
	if !ok {
		h.dropEvent("unbound")
		return
	}

	if p.MarketID == "" {
		h.dropEvent("invalid")
		return
	}

	data, err := Encode(EventAgentTyping, TypingEvent{
		AgentID:  agent.ID,
		Name:     agent.Name,
		IsTyping: p.IsTyping,
	})
	if err == nil {
		h.broadcast(p.MarketID, data, c)
	}
}

// Disconnect removes a connection from the directory and from every room
// it belonged to, then announces the departure to each of those rooms.
// Clean closes and transport failures both land here.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)

	agentID, bound := h.bindings[c]
	delete(h.bindings, c)

	var left []string
	for marketID := range h.memberships[c] {
		left = append(left, marketID)
		if room, ok := h.rooms[marketID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, marketID)
			}
		}
	}
	delete(h.memberships, c)
	online := len(h.bindings)
	h.mu.Unlock()

	// Removal happened above, so no broadcast can target c anymore.
	close(c.send)

	metrics.ConnectedClients.Dec()
	metrics.OnlineAgents.Set(float64(online))

	if !bound {
		return
	}

	agent, _ := h.registry.Get(agentID)
	payload := PresencePayload{
		AgentID:   agentID,
		Name:      agent.Name,
		Timestamp: time.Now().UTC(),
	}
	for _, marketID := range left {
		if data, err := Encode(EventAgentLeft, payload); err == nil {
			h.broadcast(marketID, data, nil)
		}
	}

	h.logger.Info().
		Str("agent_id", agentID).
		Str("name", agent.Name).
		Msg("agent disconnected")
}

// broadcast delivers an encoded event once to every current member of
// the market's room, except exclude. Delivery order across members is
// unspecified.
func (h *Hub) broadcast(marketID string, data []byte, exclude *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for member := range h.rooms[marketID] {
		if member == exclude {
			continue
		}
		member.queue(data)
	}
}

// OnlineCount returns the number of connections currently bound to an
// agent.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bindings)
}

// OnlineAgents returns the profiles of currently bound agents, one entry
// per distinct agent.
func (h *Hub) OnlineAgents() []models.Agent {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.bindings))
	ids := make([]string, 0, len(h.bindings))
	for _, agentID := range h.bindings {
		if _, dup := seen[agentID]; dup {
			continue
		}
		seen[agentID] = struct{}{}
		ids = append(ids, agentID)
	}
	h.mu.RUnlock()

	agents := make([]models.Agent, 0, len(ids))
	for _, id := range ids {
		if agent, ok := h.registry.Get(id); ok {
			agents = append(agents, agent)
		}
	}
	return agents
}

// Close drops every live connection. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(writeWait),
			)
			c.conn.Close()
		}
	}
}

func (h *Hub) dropEvent(reason string) {
	metrics.DroppedEventsTotal.WithLabelValues(reason).Inc()
}
