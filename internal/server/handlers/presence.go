// internal/server/handlers/presence.go

package handlers

import (
	"encoding/json"
	"net/http"

	"ritrovo/internal/domain/presence"
)

// PresenceHandler handles presence-related HTTP requests
type PresenceHandler struct {
	tracker presence.Tracker
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(tracker presence.Tracker) *PresenceHandler {
	return &PresenceHandler{
		tracker: tracker,
	}
}

// GetNearby returns the latest derived nearby-online set
func (h *PresenceHandler) GetNearby(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.tracker.NearbyOnlineUsers())
}

// Publish triggers a presence republish, e.g. on app foreground
func (h *PresenceHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	// An empty body just republishes with no status
	_ = json.NewDecoder(r.Body).Decode(&body)

	h.tracker.PublishPresence(r.Context(), body.Status)

	w.WriteHeader(http.StatusAccepted)
}

// Offline best-effort flips the user's record offline, wired to the
// page-unload beacon
func (h *PresenceHandler) Offline(w http.ResponseWriter, r *http.Request) {
	h.tracker.SetOffline(r.Context())

	w.WriteHeader(http.StatusAccepted)
}
