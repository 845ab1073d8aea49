package handlers

import "net/http"

// OnlineAgents lists the profiles of agents with a live bound
// connection.
func (h *Handler) OnlineAgents(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.hub.OnlineAgents())
}
