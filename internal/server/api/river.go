package api

import (
	"context"
	"net/http"

	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/river"
)

// RiverReader returns cached rivers.
type RiverReader interface {
	Get(ctx context.Context, key string) (models.River, error)
}

// RiverHandler serves rivers.
type RiverHandler struct {
	rivers RiverReader
}

// NewRiverHandler creates a new handler instance.
func NewRiverHandler(rivers RiverReader) *RiverHandler {
	return &RiverHandler{rivers: rivers}
}

// GetRiver handles GET /v1/river. Without a subscriber it serves the river
// of every subscribed feed.
func (h *RiverHandler) GetRiver(w http.ResponseWriter, r *http.Request) {
	key := subscriberFrom(r)
	if key == "" {
		key = river.AllKey
	}

	rv, err := h.rivers.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rv)
}
