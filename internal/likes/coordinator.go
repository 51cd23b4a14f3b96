// Package likes serializes like toggles on stored items.
package likes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/storage"
)

var (
	// ErrConflict is returned when the like state kept moving under us until
	// the retry budget ran out.
	ErrConflict = errors.New("like toggle conflicted too many times")

	// ErrInvalidSubscriber is returned for an empty subscriber id.
	ErrInvalidSubscriber = errors.New("subscriber id is required")
)

// Store is the slice of the item store the coordinator needs.
type Store interface {
	Get(ctx context.Context, id int64) (models.Item, error)
	CompareAndSetLikes(ctx context.Context, itemID, expectedVersion int64, likes models.LikeSet, subscriberID string, liked bool) error
}

// Result is the like state of an item after a toggle.
type Result struct {
	ItemID     int64    `json:"id"`
	FeedOrigin string   `json:"feedUrl"`
	Likes      []string `json:"likes"`
	Count      int      `json:"ctLikes"`
	Liked      bool     `json:"liked"`
}

// Options tunes the retry loop around the compare-and-set.
type Options struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions returns the retry settings used in production.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      8,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

// Coordinator toggles likes. Toggles on the same item are serialized in
// process by a per-item lock; writers in other processes are handled by the
// store's version check and a bounded retry.
type Coordinator struct {
	store Store
	locks *lockTable
	opts  Options
}

// NewCoordinator creates a coordinator on top of store.
func NewCoordinator(store Store, opts Options) *Coordinator {
	return &Coordinator{store: store, locks: newLockTable(), opts: opts}
}

func (c *Coordinator) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx)
}

// ToggleLike adds subscriberID to the item's likes if absent, or removes it
// if present, and returns the resulting state.
func (c *Coordinator) ToggleLike(ctx context.Context, subscriberID string, itemID int64) (Result, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" || strings.Contains(subscriberID, ",") {
		return Result{}, ErrInvalidSubscriber
	}

	unlock := c.locks.lock(itemID)
	defer unlock()

	var result Result
	attempts := 0
	operation := func() error {
		attempts++
		item, err := c.store.Get(ctx, itemID)
		if err != nil {
			return backoff.Permanent(err)
		}

		likes := item.LikedBy.Clone()
		liked := likes.Toggle(subscriberID)

		err = c.store.CompareAndSetLikes(ctx, itemID, item.LikeVersion, likes, subscriberID, liked)
		if errors.Is(err, storage.ErrLikeConflict) {
			log.Debug().
				Int64("item_id", itemID).
				Str("subscriber", subscriberID).
				Int("attempt", attempts).
				Msg("Like state moved, retrying")
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		result = Result{
			ItemID:     itemID,
			FeedOrigin: item.FeedOrigin,
			Likes:      likes.Sorted(),
			Count:      likes.Len(),
			Liked:      liked,
		}
		return nil
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		if errors.Is(err, storage.ErrLikeConflict) {
			return Result{}, fmt.Errorf("item %d after %d attempts: %w", itemID, attempts, ErrConflict)
		}
		return Result{}, err
	}

	log.Info().
		Int64("item_id", itemID).
		Str("subscriber", subscriberID).
		Bool("liked", result.Liked).
		Int("likes", result.Count).
		Msg("Like toggled")
	return result, nil
}
