package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/polymolt/relay/internal/models"
)

// Messages handles the bounded per-market message query. Messages come
// back most-recent-first, at most the configured query limit (100 by
// default) — note this is the reverse of the oldest-first history replay
// a joining connection receives. An unknown market yields an empty
// array, not an error.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if marketID == "" {
		h.Error(w, http.StatusBadRequest, "market id is required")
		return
	}

	limit := h.queryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > h.queryLimit {
		limit = h.queryLimit
	}

	messages, err := h.messages.Recent(r.Context(), marketID, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, messages)
}
