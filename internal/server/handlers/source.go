// internal/server/handlers/source.go

package handlers

import (
	"net/http"
	"strconv"

	"ritrovo/internal/domain/feed"
)

// SourceHandler serves one content collection standalone, paged by the
// store instead of the in-memory aggregator
type SourceHandler struct {
	source   feed.Source
	pageSize int
}

// NewSourceHandler creates a handler for a single feed source
func NewSourceHandler(source feed.Source, pageSize int) *SourceHandler {
	return &SourceHandler{
		source:   source,
		pageSize: pageSize,
	}
}

// GetPage returns one store-paged slice of the source with hosts
// resolved, filtered by the same query parameters as the merged feed
func (h *SourceHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	pageOffset := 0
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid page", nil)
			return
		}
		pageOffset = n
	}

	items, err := h.source.FetchPage(r.Context(), filters, pageOffset)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to load "+string(h.source.Kind())+"s", err)
		return
	}

	respondWithJSON(w, http.StatusOK, feed.Page{
		Items:   items,
		HasMore: len(items) == h.pageSize,
	})
}
