package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/polymolt/relay/internal/relay"
	"github.com/polymolt/relay/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub      *relay.Hub
	messages store.MessageLog
	agents   store.AgentStore // may be nil
	redis    *store.RedisLog  // may be nil; memory log in use instead

	queryLimit int
}

// NewHandler creates a new Handler with the given relay and stores.
// agents and redis may be nil. queryLimit bounds the message query
// endpoint; <= 0 defaults to 100.
func NewHandler(hub *relay.Hub, messages store.MessageLog, agents store.AgentStore, redis *store.RedisLog, queryLimit int) *Handler {
	if queryLimit <= 0 {
		queryLimit = 100
	}
	return &Handler{
		hub:        hub,
		messages:   messages,
		agents:     agents,
		redis:      redis,
		queryLimit: queryLimit,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
