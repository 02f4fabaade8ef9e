// internal/server/handlers/location.go

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ritrovo/internal/adapter/device"
	"ritrovo/internal/domain/geo"
	geoService "ritrovo/internal/service/geo"
)

// LocationHandler bridges the browser's geolocation API to the
// acquirer: the browser posts device outcomes here while a pending
// acquisition request waits on them.
type LocationHandler struct {
	acquirer geo.Acquirer
	provider *device.PushProvider
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(acquirer geo.Acquirer, provider *device.PushProvider) *LocationHandler {
	return &LocationHandler{
		acquirer: acquirer,
		provider: provider,
	}
}

// GetState returns the acquirer's state machine snapshot
func (h *LocationHandler) GetState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.acquirer.State())
}

// Request starts a location acquisition and waits for it to settle
func (h *LocationHandler) Request(w http.ResponseWriter, r *http.Request) {
	coord, err := h.acquirer.RequestLocation(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, geoService.ErrRequestInFlight):
			respondWithError(w, http.StatusConflict, "Location request already in flight", nil)
		case errors.Is(err, geo.ErrPermissionDenied):
			respondWithError(w, http.StatusForbidden, "Location permission denied", nil)
		default:
			respondWithError(w, http.StatusBadGateway, "Location acquisition failed", err)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"coordinate": coord,
		"state":      h.acquirer.State(),
	})
}

// PushPosition receives a device outcome from the browser: either a
// fix or one of the device error codes
func (h *LocationHandler) PushPosition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lat      *float64 `json:"lat"`
		Lng      *float64 `json:"lng"`
		Accuracy float64  `json:"accuracy"`
		Error    string   `json:"error"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid position payload", nil)
		return
	}

	switch body.Error {
	case "":
	case "permission_denied":
		h.provider.PushError(geo.ErrPermissionDenied)
		w.WriteHeader(http.StatusAccepted)
		return
	case "position_unavailable":
		h.provider.PushError(geo.ErrPositionUnavailable)
		w.WriteHeader(http.StatusAccepted)
		return
	case "timeout":
		h.provider.PushError(geo.ErrAcquisitionTimeout)
		w.WriteHeader(http.StatusAccepted)
		return
	default:
		respondWithError(w, http.StatusBadRequest, "Unknown device error code", nil)
		return
	}

	if body.Lat == nil || body.Lng == nil {
		respondWithError(w, http.StatusBadRequest, "Missing coordinates", nil)
		return
	}

	pos := geo.Position{
		Latitude:  *body.Lat,
		Longitude: *body.Lng,
		Accuracy:  body.Accuracy,
		Timestamp: time.Now(),
	}
	if !(geo.Coordinate{Latitude: pos.Latitude, Longitude: pos.Longitude}).Valid() {
		respondWithError(w, http.StatusBadRequest, "Coordinates out of range", nil)
		return
	}

	h.provider.Push(pos)

	w.WriteHeader(http.StatusAccepted)
}
