package river

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"reddot-watch/river/internal/models"
)

// ItemSource reads the newest items of one feed.
type ItemSource interface {
	RecentForFeed(ctx context.Context, feedOrigin string, limit int) ([]models.Item, error)
}

// SubscriptionSource resolves a river key to feed origins.
type SubscriptionSource interface {
	FeedOriginsFor(ctx context.Context, subscriberID string) ([]string, error)
	SubscribedFeedOrigins(ctx context.Context) ([]string, error)
}

const defaultBuildConcurrency = 4

// StoreBuilder builds rivers from the item and subscription stores.
type StoreBuilder struct {
	items       ItemSource
	subs        SubscriptionSource
	maxItems    int
	concurrency int
}

// NewStoreBuilder creates a builder producing rivers of at most maxItems.
func NewStoreBuilder(items ItemSource, subs SubscriptionSource, maxItems int) *StoreBuilder {
	return &StoreBuilder{
		items:       items,
		subs:        subs,
		maxItems:    maxItems,
		concurrency: defaultBuildConcurrency,
	}
}

// Build reads the newest maxItems of every feed behind key and merges them.
// A key without subscriptions yields an empty river.
func (b *StoreBuilder) Build(ctx context.Context, key string) (models.River, error) {
	var origins []string
	var err error
	if key == AllKey {
		origins, err = b.subs.SubscribedFeedOrigins(ctx)
	} else {
		origins, err = b.subs.FeedOriginsFor(ctx, key)
	}
	if err != nil {
		return models.River{}, fmt.Errorf("failed to resolve feeds of river %s: %w", key, err)
	}

	perFeed := make([][]models.Item, len(origins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, origin := range origins {
		g.Go(func() error {
			items, err := b.items.RecentForFeed(gctx, origin, b.maxItems)
			if err != nil {
				return fmt.Errorf("failed to read items of %s: %w", origin, err)
			}
			perFeed[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.River{}, err
	}

	var all []models.Item
	for _, items := range perFeed {
		all = append(all, items...)
	}

	if origins == nil {
		origins = []string{}
	}
	return models.River{
		Key:   key,
		Items: models.MergeRiver(all, b.maxItems),
		Feeds: origins,
	}, nil
}
