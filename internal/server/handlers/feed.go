// internal/server/handlers/feed.go

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ritrovo/internal/domain/feed"
	feedService "ritrovo/internal/service/feed"
)

// FeedHandler handles feed-related HTTP requests
type FeedHandler struct {
	aggregator feed.Aggregator
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(aggregator feed.Aggregator) *FeedHandler {
	return &FeedHandler{
		aggregator: aggregator,
	}
}

// GetFeed loads the merged feed from page zero with the filters given
// in the query string
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.aggregator.ApplyFilters(r.Context(), filters); err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to load feed", err)
		return
	}

	respondWithJSON(w, http.StatusOK, feed.Page{
		Items:   h.aggregator.Items(),
		HasMore: h.aggregator.HasMore(),
	})
}

// LoadMore appends the next page to the feed
func (h *FeedHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	if err := h.aggregator.LoadMore(r.Context()); err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to load more", err)
		return
	}

	respondWithJSON(w, http.StatusOK, feed.Page{
		Items:   h.aggregator.Items(),
		HasMore: h.aggregator.HasMore(),
	})
}

// Join performs the atomic join for a moment-kind item
func (h *FeedHandler) Join(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	outcome, err := h.aggregator.JoinItem(r.Context(), itemID)
	if err != nil {
		respondJoinError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// Leave removes the user's participation from a moment-kind item
func (h *FeedHandler) Leave(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	left, err := h.aggregator.LeaveItem(r.Context(), itemID)
	if err != nil {
		respondJoinError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"left": left})
}

// respondJoinError maps join/leave failures onto HTTP statuses
func respondJoinError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feedService.ErrNotAuthenticated):
		respondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
	case errors.Is(err, feedService.ErrNotJoinable):
		respondWithError(w, http.StatusBadRequest, "Item is not joinable", nil)
	case errors.Is(err, feedService.ErrItemNotVisible):
		respondWithError(w, http.StatusNotFound, "Item not found in feed", nil)
	default:
		respondWithError(w, http.StatusBadGateway, "Participation update failed", err)
	}
}

// parseFilters builds the filter set from query parameters
func parseFilters(r *http.Request) (feed.Filters, error) {
	q := r.URL.Query()

	filters := feed.Filters{
		Query:    q.Get("q"),
		Mood:     q.Get("mood"),
		Province: q.Get("province"),
	}

	if v := q.Get("age_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return feed.Filters{}, errors.New("invalid age_min")
		}
		filters.AgeMin = n
	}

	if v := q.Get("age_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return feed.Filters{}, errors.New("invalid age_max")
		}
		filters.AgeMax = n
	}

	if v := q.Get("max_distance_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return feed.Filters{}, errors.New("invalid max_distance_km")
		}
		filters.MaxDistanceKm = f
	}

	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return feed.Filters{}, errors.New("invalid date_from")
		}
		filters.DateFrom = &t
	}

	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return feed.Filters{}, errors.New("invalid date_to")
		}
		filters.DateTo = &t
	}

	if v := q.Get("tags"); v != "" {
		filters.Tags = strings.Split(v, ",")
	}

	return filters, nil
}
