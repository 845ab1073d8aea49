package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/api"
	"github.com/polymolt/relay/internal/handlers"
	"github.com/polymolt/relay/internal/models"
	"github.com/polymolt/relay/internal/relay"
	"github.com/polymolt/relay/internal/store"
)

type testServer struct {
	srv      *httptest.Server
	hub      *relay.Hub
	messages *store.MemoryLog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := zerolog.Nop()
	messages := store.NewMemoryLog(0)
	registry := relay.NewRegistry(nil, logger)
	hub := relay.NewHub(logger, registry, messages, relay.Options{})
	h := handlers.NewHandler(hub, messages, nil, nil, 100)

	srv := httptest.NewServer(api.NewRouter(logger, hub, h))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, hub: hub, messages: messages}
}

func (ts *testServer) seed(t *testing.T, marketID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg := &models.Message{
			MarketID: marketID,
			User:     "agent",
			Text:     fmt.Sprintf("msg-%d", i),
		}
		if err := ts.messages.Append(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var health handlers.HealthResponse
	status := getJSON(t, ts.srv.URL+"/api/health", &health)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if health.Status != "ok" {
		t.Fatalf("expected ok, got %s", health.Status)
	}
	if health.OnlineAgents != 0 {
		t.Fatalf("expected 0 online agents, got %d", health.OnlineAgents)
	}
}

func TestMessagesNewestFirst(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "m1", 5)

	var messages []models.Message
	status := getJSON(t, ts.srv.URL+"/api/messages/m1?limit=3", &messages)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Text != "msg-4" || messages[2].Text != "msg-2" {
		t.Fatalf("expected newest-first, got %s .. %s", messages[0].Text, messages[2].Text)
	}
}

func TestMessagesQueryCap(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "m1", 120)

	var messages []models.Message
	getJSON(t, ts.srv.URL+"/api/messages/m1", &messages)
	if len(messages) != 100 {
		t.Fatalf("expected cap of 100, got %d", len(messages))
	}

	// An oversized limit clamps instead of failing.
	getJSON(t, ts.srv.URL+"/api/messages/m1?limit=500", &messages)
	if len(messages) != 100 {
		t.Fatalf("expected clamp to 100, got %d", len(messages))
	}
}

func TestMessagesUnknownMarketEmpty(t *testing.T) {
	ts := newTestServer(t)

	var messages []models.Message
	status := getJSON(t, ts.srv.URL+"/api/messages/no-such-market", &messages)
	if status != http.StatusOK {
		t.Fatalf("expected 200 for unknown market, got %d", status)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty result, got %d", len(messages))
	}
}

func TestOnlineAgentsEmpty(t *testing.T) {
	ts := newTestServer(t)

	var agents []models.Agent
	status := getJSON(t, ts.srv.URL+"/api/agents/online", &agents)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(agents) != 0 {
		t.Fatalf("expected no online agents, got %d", len(agents))
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	return f
}

// End-to-end: a real WebSocket join shows up on the REST surface.
func TestWebSocketJoinVisibleOverREST(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	emit(t, conn, "join-market", map[string]string{
		"marketId": "m1",
		"agentId":  "a1",
		"wallet":   "wallet-a1",
		"name":     "alice",
	})

	history := readFrame(t, conn)
	if history.Event != "message-history" {
		t.Fatalf("expected message-history first, got %s", history.Event)
	}

	var health handlers.HealthResponse
	getJSON(t, ts.srv.URL+"/api/health", &health)
	if health.OnlineAgents != 1 {
		t.Fatalf("expected 1 online agent, got %d", health.OnlineAgents)
	}

	var agents []models.Agent
	getJSON(t, ts.srv.URL+"/api/agents/online", &agents)
	if len(agents) != 1 || agents[0].Name != "alice" {
		t.Fatalf("unexpected online agents: %+v", agents)
	}

	// Send a message and read its echo.
	emit(t, conn, "send-message", map[string]string{
		"marketId": "m1",
		"text":     "gm",
		"position": "yes",
	})
	echo := readFrame(t, conn)
	if echo.Event != "new-message" {
		t.Fatalf("expected new-message echo, got %s", echo.Event)
	}
	var msg models.Message
	if err := json.Unmarshal(echo.Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.User != "alice" || msg.Text != "gm" || msg.Position != models.PositionYes {
		t.Fatalf("unexpected echo: %+v", msg)
	}

	// The message is visible on the query path.
	var messages []models.Message
	getJSON(t, ts.srv.URL+"/api/messages/m1", &messages)
	if len(messages) != 1 || messages[0].Text != "gm" {
		t.Fatalf("unexpected messages: %+v", messages)
	}

	// Closing the transport takes the agent offline.
	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for ts.hub.OnlineCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("agent still online after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
