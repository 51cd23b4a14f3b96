package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/river"
)

// SubscriptionStore manages subscriptions.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, subscriberID, feedOrigin, categories string) error
	Unsubscribe(ctx context.Context, subscriberID, feedOrigin string) (bool, error)
	ListSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error)
}

// SubscriptionRequest is the body of POST and DELETE /v1/subscriptions.
type SubscriptionRequest struct {
	Subscriber string `json:"subscriber"`
	FeedURL    string `json:"feedUrl"`
	Categories string `json:"categories"`
}

// SubscriptionsHandler serves a subscriber's subscription list.
type SubscriptionsHandler struct {
	subs   SubscriptionStore
	rivers RiverInvalidator
}

// NewSubscriptionsHandler creates a new handler instance.
func NewSubscriptionsHandler(subs SubscriptionStore, rivers RiverInvalidator) *SubscriptionsHandler {
	return &SubscriptionsHandler{subs: subs, rivers: rivers}
}

// List handles GET /v1/subscriptions.
func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriber := subscriberFrom(r)
	if subscriber == "" {
		writeError(w, r, badRequest("missing required parameter: 'subscriber'"))
		return
	}

	subs, err := h.subs.ListSubscriptions(r.Context(), subscriber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, subs)
}

func decodeSubscription(r *http.Request) (SubscriptionRequest, error) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, badRequest("invalid JSON body: %v", err)
	}
	if req.Subscriber == "" {
		req.Subscriber = subscriberFrom(r)
	}
	if req.Subscriber == "" || req.FeedURL == "" {
		return req, badRequest("'subscriber' and 'feedUrl' are required")
	}
	return req, nil
}

// changed marks the subscriber's river and the all-feeds river stale.
func (h *SubscriptionsHandler) changed(subscriber string) {
	if h.rivers == nil {
		return
	}
	h.rivers.Invalidate(subscriber)
	h.rivers.Evict(river.AllKey)
}

// Subscribe handles POST /v1/subscriptions.
func (h *SubscriptionsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubscription(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.subs.Subscribe(r.Context(), req.Subscriber, req.FeedURL, req.Categories); err != nil {
		writeError(w, r, err)
		return
	}
	h.changed(req.Subscriber)

	hlog.FromRequest(r).Info().
		Str("subscriber", req.Subscriber).
		Str("feed_url", req.FeedURL).
		Msg("Subscribed")
	writeJSON(w, r, http.StatusCreated, req)
}

// Unsubscribe handles DELETE /v1/subscriptions.
func (h *SubscriptionsHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubscription(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := h.subs.Unsubscribe(r.Context(), req.Subscriber, req.FeedURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if removed {
		h.changed(req.Subscriber)
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"removed": removed})
}
