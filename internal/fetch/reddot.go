package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/reddot-watch/feedfetcher"

	"reddot-watch/river/internal/models"
)

// ReddotConfig mirrors feedfetcher.Config.
type ReddotConfig struct {
	UserAgent            string
	RequestTimeout       time.Duration
	MaxItems             int
	MaxHeadingLength     int
	MaxAge               time.Duration
	FutureDriftTolerance time.Duration
}

// ReddotFetcher runs feeds through the feedfetcher pipeline, which cleans
// headlines and drops stale items. Items carry no enclosure and use their
// URL as guid.
type ReddotFetcher struct {
	fetcher *feedfetcher.FeedFetcher
}

// NewReddotFetcher creates a fetcher around feedfetcher.
func NewReddotFetcher(cfg ReddotConfig) *ReddotFetcher {
	return &ReddotFetcher{
		fetcher: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent:            cfg.UserAgent,
			RequestTimeout:       cfg.RequestTimeout,
			MaxItems:             cfg.MaxItems,
			MaxHeadingLength:     cfg.MaxHeadingLength,
			MaxAge:               cfg.MaxAge,
			FutureDriftTolerance: cfg.FutureDriftTolerance,
		}),
	}
}

// Fetch retrieves origin. feedfetcher wraps every download failure in a
// "failed to parse" message but keeps the gofeed error in the chain, so
// classification follows the wrapped error rather than the text.
func (f *ReddotFetcher) Fetch(ctx context.Context, origin string) (models.FetchedFeed, error) {
	items, err := f.fetcher.FetchAndProcess(ctx, origin)
	if err != nil {
		if strings.Contains(err.Error(), "publication date format is invalid") {
			return models.FetchedFeed{}, &MalformedFeedError{URL: origin, Err: err}
		}
		return models.FetchedFeed{}, classifyGofeedError(origin, err)
	}

	feed := models.FetchedFeed{Items: make([]models.FetchedItem, 0, len(items))}
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		feed.Items = append(feed.Items, models.FetchedItem{
			FeedOrigin:  origin,
			GUID:        item.URL,
			Title:       models.NullableString(item.Headline),
			Description: models.NullableString(item.Content),
			Link:        models.NullableString(item.URL),
			PublishedAt: item.PublishedAt,
		})
	}
	return feed, nil
}
