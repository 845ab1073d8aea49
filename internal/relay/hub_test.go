package relay

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/models"
	"github.com/polymolt/relay/internal/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	registry := NewRegistry(nil, zerolog.Nop())
	messages := store.NewMemoryLog(0)
	return NewHub(zerolog.Nop(), registry, messages, Options{})
}

func newTestClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := &Client{
		id:   "test-conn",
		hub:  h,
		send: make(chan []byte, 64),
	}
	h.register(c)
	return c
}

func dispatch(t *testing.T, h *Hub, c *Client, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	h.Dispatch(c, Envelope{Event: event, Data: raw})
}

func join(t *testing.T, h *Hub, c *Client, marketID, agentID, name string) {
	t.Helper()
	dispatch(t, h, c, EventJoinMarket, JoinPayload{
		MarketID: marketID,
		AgentID:  agentID,
		Wallet:   "wallet-" + agentID,
		Name:     name,
	})
}

// nextEvent pops the next queued outbound event for a client.
func nextEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		return env
	default:
		t.Fatal("expected a queued event, got none")
		return Envelope{}
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("expected no event, got %s", data)
	default:
	}
}

func decodeEvent[T any](t *testing.T, env Envelope, want string) T {
	t.Helper()
	if env.Event != want {
		t.Fatalf("expected %s event, got %s", want, env.Event)
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestJoinDeliversEmptyHistory(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(t, h)

	join(t, h, c, "m1", "a1", "alice")

	history := decodeEvent[[]models.Message](t, nextEvent(t, c), EventMessageHistory)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}
	expectNoEvent(t, c)

	if h.OnlineCount() != 1 {
		t.Fatalf("expected 1 online agent, got %d", h.OnlineCount())
	}
}

func TestJoinAnnouncedToRoomNotJoiner(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	b := newTestClient(t, h)

	join(t, h, a, "m1", "a1", "alice")
	nextEvent(t, a) // history

	join(t, h, b, "m1", "b1", "bob")
	nextEvent(t, b) // history

	joined := decodeEvent[PresencePayload](t, nextEvent(t, a), EventAgentJoined)
	if joined.AgentID != "b1" || joined.Name != "bob" {
		t.Fatalf("unexpected join announcement: %+v", joined)
	}
	if joined.Timestamp.IsZero() {
		t.Fatal("expected join timestamp")
	}
	expectNoEvent(t, b)
}

func TestSendEchoesToWholeRoom(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	b := newTestClient(t, h)

	join(t, h, a, "m1", "a1", "alice")
	join(t, h, b, "m1", "b1", "bob")
	drainAll(a, b)

	dispatch(t, h, a, EventSendMessage, SendPayload{
		MarketID: "m1",
		Text:     "gm",
		Position: models.PositionYes,
	})

	for _, c := range []*Client{a, b} {
		msg := decodeEvent[models.Message](t, nextEvent(t, c), EventNewMessage)
		if msg.User != "alice" || msg.Text != "gm" || msg.Position != models.PositionYes {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.ID == "" {
			t.Fatal("expected message id")
		}
	}
}

func TestUnboundSenderSilentlyDropped(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	stranger := newTestClient(t, h)

	join(t, h, a, "m1", "a1", "alice")
	drainAll(a)

	dispatch(t, h, stranger, EventSendMessage, SendPayload{MarketID: "m1", Text: "sneaky"})
	dispatch(t, h, stranger, EventTyping, TypingPayload{MarketID: "m1", IsTyping: true})

	expectNoEvent(t, a)
	expectNoEvent(t, stranger)

	recent, err := h.messages.Recent(context.Background(), "m1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 0 {
		t.Fatal("unbound sender's message should not be stored")
	}
}

func TestOversizedTextDropped(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	join(t, h, a, "m1", "a1", "alice")
	drainAll(a)

	dispatch(t, h, a, EventSendMessage, SendPayload{
		MarketID: "m1",
		Text:     strings.Repeat("x", maxTextLen+1),
	})
	expectNoEvent(t, a)
}

func TestPositionDefaulting(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	join(t, h, a, "m1", "a1", "alice")
	drainAll(a)

	dispatch(t, h, a, EventSendMessage, SendPayload{MarketID: "m1", Text: "first", Position: models.PositionNo})
	nextEvent(t, a)

	// Omitted position falls back to the last declared one.
	dispatch(t, h, a, EventSendMessage, SendPayload{MarketID: "m1", Text: "second"})
	msg := decodeEvent[models.Message](t, nextEvent(t, a), EventNewMessage)
	if msg.Position != models.PositionNo {
		t.Fatalf("expected declared position to persist, got %q", msg.Position)
	}

	agent, _ := h.registry.Get("a1")
	if agent.Position != models.PositionNo {
		t.Fatalf("declared position not stored on agent: %q", agent.Position)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	b := newTestClient(t, h)
	other := newTestClient(t, h)

	join(t, h, a, "m1", "a1", "alice")
	join(t, h, b, "m1", "b1", "bob")
	join(t, h, other, "m2", "c1", "carol")
	drainAll(a, b, other)

	dispatch(t, h, a, EventTyping, TypingPayload{MarketID: "m1", IsTyping: true})

	typing := decodeEvent[TypingEvent](t, nextEvent(t, b), EventAgentTyping)
	if typing.AgentID != "a1" || typing.Name != "alice" || !typing.IsTyping {
		t.Fatalf("unexpected typing event: %+v", typing)
	}
	expectNoEvent(t, a)
	expectNoEvent(t, other)
}

func TestJoinTimeHistoryBoundedAndChronological(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	join(t, h, a, "m1", "a1", "alice")
	drainAll(a)

	for i := 0; i < 60; i++ {
		dispatch(t, h, a, EventSendMessage, SendPayload{MarketID: "m1", Text: "gm"})
	}
	drainAll(a)

	b := newTestClient(t, h)
	join(t, h, b, "m1", "b1", "bob")

	history := decodeEvent[[]models.Message](t, nextEvent(t, b), EventMessageHistory)
	if len(history) != 50 {
		t.Fatalf("expected history capped at 50, got %d", len(history))
	}
	for _, msg := range history {
		if msg.MarketID != "m1" {
			t.Fatalf("history leaked another market: %s", msg.MarketID)
		}
	}
}

func TestMultiRoomMembership(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	sender := newTestClient(t, h)

	// A second join adds membership without leaving earlier rooms.
	join(t, h, a, "m1", "a1", "alice")
	join(t, h, a, "m2", "a1", "alice")
	join(t, h, sender, "m1", "s1", "sam")
	join(t, h, sender, "m2", "s1", "sam")
	drainAll(a, sender)

	dispatch(t, h, sender, EventSendMessage, SendPayload{MarketID: "m1", Text: "one"})
	dispatch(t, h, sender, EventSendMessage, SendPayload{MarketID: "m2", Text: "two"})

	first := decodeEvent[models.Message](t, nextEvent(t, a), EventNewMessage)
	second := decodeEvent[models.Message](t, nextEvent(t, a), EventNewMessage)
	if first.MarketID != "m1" || second.MarketID != "m2" {
		t.Fatalf("expected deliveries from both rooms, got %s then %s", first.MarketID, second.MarketID)
	}
}

func TestDisconnectCleanup(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	b := newTestClient(t, h)
	c := newTestClient(t, h)

	join(t, h, a, "m1", "a1", "alice")
	join(t, h, b, "m1", "b1", "bob")
	join(t, h, b, "m2", "b1", "bob")
	join(t, h, c, "m2", "c1", "carol")
	drainAll(a, b, c)

	h.Disconnect(b)

	// Every room B belonged to hears the departure.
	left := decodeEvent[PresencePayload](t, nextEvent(t, a), EventAgentLeft)
	if left.AgentID != "b1" || left.Name != "bob" {
		t.Fatalf("unexpected leave announcement: %+v", left)
	}
	decodeEvent[PresencePayload](t, nextEvent(t, c), EventAgentLeft)

	if h.OnlineCount() != 2 {
		t.Fatalf("expected 2 online after disconnect, got %d", h.OnlineCount())
	}

	// No room retains a stale member reference.
	h.mu.RLock()
	for marketID, room := range h.rooms {
		if _, ok := room[b]; ok {
			t.Fatalf("room %s still holds disconnected client", marketID)
		}
	}
	_, stillMember := h.memberships[b]
	_, stillBound := h.bindings[b]
	h.mu.RUnlock()
	if stillMember || stillBound {
		t.Fatal("disconnected client still tracked")
	}

	// Further traffic never targets the disconnected client.
	dispatch(t, h, a, EventSendMessage, SendPayload{MarketID: "m1", Text: "after"})
	nextEvent(t, a)

	// Duplicate disconnect is a no-op.
	h.Disconnect(b)
}

func TestDisconnectBeforeJoinIsQuiet(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	b := newTestClient(t, h)

	join(t, h, a, "m1", "a1", "alice")
	drainAll(a)

	h.Disconnect(b)
	expectNoEvent(t, a)
}

func TestUnknownEventDropped(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	join(t, h, a, "m1", "a1", "alice")
	drainAll(a)

	h.Dispatch(a, Envelope{Event: "resolve-market", Data: json.RawMessage(`{}`)})
	h.Dispatch(a, Envelope{Event: EventSendMessage, Data: json.RawMessage(`not json`)})
	expectNoEvent(t, a)
}

func TestOnlineAgentsDeduplicated(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(t, h)
	b := newTestClient(t, h)

	// Same agent on two connections counts once in the profile listing.
	join(t, h, a, "m1", "a1", "alice")
	join(t, h, b, "m2", "a1", "alice")

	agents := h.OnlineAgents()
	if len(agents) != 1 {
		t.Fatalf("expected 1 distinct online agent, got %d", len(agents))
	}
	if agents[0].ID != "a1" {
		t.Fatalf("unexpected agent: %+v", agents[0])
	}
}

// Full join/send/join/disconnect scenario.
func TestRelayScenario(t *testing.T) {
	h := newTestHub(t)

	a := newTestClient(t, h)
	join(t, h, a, "m1", "a1", "alice")
	history := decodeEvent[[]models.Message](t, nextEvent(t, a), EventMessageHistory)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	dispatch(t, h, a, EventSendMessage, SendPayload{MarketID: "m1", Text: "gm", Position: models.PositionYes})
	echo := decodeEvent[models.Message](t, nextEvent(t, a), EventNewMessage)
	if echo.User != "alice" || echo.Text != "gm" || echo.Position != models.PositionYes {
		t.Fatalf("unexpected echo: %+v", echo)
	}

	b := newTestClient(t, h)
	join(t, h, b, "m1", "b1", "bob")
	bHistory := decodeEvent[[]models.Message](t, nextEvent(t, b), EventMessageHistory)
	if len(bHistory) != 1 || bHistory[0].Text != "gm" {
		t.Fatalf("expected history [gm], got %+v", bHistory)
	}
	joined := decodeEvent[PresencePayload](t, nextEvent(t, a), EventAgentJoined)
	if joined.AgentID != "b1" {
		t.Fatalf("unexpected join announcement: %+v", joined)
	}

	h.Disconnect(b)
	left := decodeEvent[PresencePayload](t, nextEvent(t, a), EventAgentLeft)
	if left.AgentID != "b1" || left.Name != "bob" {
		t.Fatalf("unexpected leave announcement: %+v", left)
	}
	if h.OnlineCount() != 1 {
		t.Fatalf("expected 1 online agent, got %d", h.OnlineCount())
	}
}

func drainAll(clients ...*Client) {
	for _, c := range clients {
		for len(c.send) > 0 {
			<-c.send
		}
	}
}
