package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/river/internal/likes"
	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/server/pagination"
	"reddot-watch/river/internal/storage"
)

const iso8601Format = time.RFC3339

// ItemReader is the read side of the item store.
type ItemReader interface {
	Get(ctx context.Context, id int64) (models.Item, error)
	Page(ctx context.Context, limit int, since *time.Time, cursor *storage.PageCursor) ([]models.Item, error)
	LikedBy(ctx context.Context, subscriberID string, limit int) ([]models.Item, error)
	RecentForFeed(ctx context.Context, feedOrigin string, limit int) ([]models.Item, error)
}

// LikeToggler flips a subscriber's like on an item.
type LikeToggler interface {
	ToggleLike(ctx context.Context, subscriberID string, itemID int64) (likes.Result, error)
}

// RiverInvalidator is told when a request changed what a river shows.
type RiverInvalidator interface {
	Invalidate(key string)
	InvalidateFeed(origin string)
	Evict(key string)
}

// ItemsResponse is a page of the item log.
type ItemsResponse struct {
	Items      []models.Item `json:"items"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// ItemsHandler serves single items, the item log and likes.
type ItemsHandler struct {
	items  ItemReader
	likes  LikeToggler
	rivers RiverInvalidator
}

// NewItemsHandler creates a new handler instance.
func NewItemsHandler(items ItemReader, toggler LikeToggler, rivers RiverInvalidator) *ItemsHandler {
	return &ItemsHandler{items: items, likes: toggler, rivers: rivers}
}

func itemIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid item id %q", raw)
	}
	return id, nil
}

// GetItem handles GET /v1/items/{id}.
func (h *ItemsHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// ToggleLike handles POST /v1/items/{id}/like.
func (h *ItemsHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	id, err := itemIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.likes.ToggleLike(r.Context(), subscriberFrom(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.rivers != nil {
		h.rivers.InvalidateFeed(res.FeedOrigin)
	}
	writeJSON(w, r, http.StatusOK, res)
}

// GetLikes handles GET /v1/likes, the items a subscriber likes.
func (h *ItemsHandler) GetLikes(w http.ResponseWriter, r *http.Request) {
	subscriber := subscriberFrom(r)
	if subscriber == "" {
		writeError(w, r, badRequest("missing required parameter: 'subscriber'"))
		return
	}
	limit, err := parseLimit(r, "limit", defaultLimit, maxLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.items.LikedBy(r.Context(), subscriber, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ItemsResponse{Items: items})
}

// GetItems handles GET /v1/items, the item log in insertion order.
func (h *ItemsHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing items request")

	query := r.URL.Query()
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")

	limit, err := parseLimit(r, "limit", defaultLimit, maxLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var since *time.Time
	var cursor *storage.PageCursor

	if cursorStr != "" {
		c, err := pagination.Decode(cursorStr)
		if err != nil {
			writeError(w, r, badRequest("invalid 'cursor' parameter"))
			return
		}
		cursor = &storage.PageCursor{CreatedAt: c.CreatedAt, ID: c.ID}
	} else if sinceStr != "" {
		parsedSince, err := time.Parse(iso8601Format, sinceStr)
		if err != nil {
			writeError(w, r, badRequest("invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)"))
			return
		}
		utcSince := parsedSince.UTC()
		since = &utcSince
	} else {
		writeError(w, r, badRequest("missing required parameter: 'since' or 'cursor'"))
		return
	}

	items, err := h.items.Page(r.Context(), limit+1, since, cursor) // one extra to detect a next page
	if err != nil {
		writeError(w, r, err)
		return
	}

	var nextCursor *string
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		encoded := pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
		nextCursor = &encoded
	}

	writeJSON(w, r, http.StatusOK, ItemsResponse{Items: items, NextCursor: nextCursor})
}
