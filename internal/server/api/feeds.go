package api

import (
	"context"
	"net/http"

	"reddot-watch/river/internal/models"
)

// FeedReader reads feed rows.
type FeedReader interface {
	GetFeed(ctx context.Context, feedOrigin string) (models.Feed, error)
}

// FeedsHandler serves feed metadata and per-feed items.
type FeedsHandler struct {
	feeds    FeedReader
	items    ItemReader
	maxItems int
}

// NewFeedsHandler creates a new handler instance. maxItems caps the
// feed-items endpoint.
func NewFeedsHandler(feeds FeedReader, items ItemReader, maxItems int) *FeedsHandler {
	if maxItems <= 0 {
		maxItems = defaultLimit
	}
	return &FeedsHandler{feeds: feeds, items: items, maxItems: maxItems}
}

func feedURLParam(r *http.Request) (string, error) {
	url := r.URL.Query().Get("url")
	if url == "" {
		return "", badRequest("missing required parameter: 'url'")
	}
	return url, nil
}

// GetFeed handles GET /v1/feed.
func (h *FeedsHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	url, err := feedURLParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	feed, err := h.feeds.GetFeed(r.Context(), url)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, feed.Info())
}

// GetFeedItems handles GET /v1/feed-items, the newest items of one feed.
func (h *FeedsHandler) GetFeedItems(w http.ResponseWriter, r *http.Request) {
	url, err := feedURLParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r, "maxItems", h.maxItems, h.maxItems)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.items.RecentForFeed(r.Context(), url, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, items)
}
