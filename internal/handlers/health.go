package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response. OnlineAgents is
// the number of connections currently bound to an agent, the liveness
// figure the market UI polls for.
type HealthResponse struct {
	Status       string           `json:"status"` // "ok" or "degraded"
	OnlineAgents int              `json:"onlineAgents"`
	Version      string           `json:"version"`
	Checks       map[string]Check `json:"checks"`
	Timestamp    string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Agent store (SQLite or Postgres)
	if h.agents != nil {
		start := time.Now()
		if err := h.agents.Ping(ctx); err != nil {
			checks["agents"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["agents"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["agents"] = Check{Status: "pass", Message: "in-memory"}
	}

	// Message log backend
	if h.redis != nil {
		start := time.Now()
		if err := h.redis.Ping(ctx); err != nil {
			checks["messages"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["messages"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["messages"] = Check{Status: "pass", Message: "in-memory"}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:       status,
		OnlineAgents: h.hub.OnlineCount(),
		Version:      version,
		Checks:       checks,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "polymolt-relay",
		Version: version,
	})
}
