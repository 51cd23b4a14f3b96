// Package fetch adapts feed parsing libraries to the scheduler's Fetcher
// contract.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"reddot-watch/river/internal/models"
)

// GofeedConfig configures a GofeedFetcher.
type GofeedConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	// HostInterval is the minimum spacing between two requests to one host.
	HostInterval time.Duration
	HostBurst    int
}

// GofeedFetcher downloads and parses feeds with gofeed and keeps every item
// field the store knows about.
type GofeedFetcher struct {
	parser  *gofeed.Parser
	limiter *hostLimiter
	timeout time.Duration
}

// NewGofeedFetcher creates a fetcher with its own HTTP client.
func NewGofeedFetcher(cfg GofeedConfig) *GofeedFetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.HostBurst <= 0 {
		cfg.HostBurst = 1
	}
	limit := rate.Inf
	if cfg.HostInterval > 0 {
		limit = rate.Every(cfg.HostInterval)
	}

	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = &http.Client{Timeout: cfg.RequestTimeout}

	return &GofeedFetcher{
		parser:  parser,
		limiter: newHostLimiter(limit, cfg.HostBurst),
		timeout: cfg.RequestTimeout,
	}
}

// Fetch retrieves origin and converts its items.
func (f *GofeedFetcher) Fetch(ctx context.Context, origin string) (models.FetchedFeed, error) {
	if err := f.limiter.wait(ctx, origin); err != nil {
		return models.FetchedFeed{}, &TransientFetchError{URL: origin, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(origin, ctx)
	if err != nil {
		return models.FetchedFeed{}, classifyGofeedError(origin, err)
	}

	feed := models.FetchedFeed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Link:        parsed.Link,
		Items:       make([]models.FetchedItem, 0, len(parsed.Items)),
	}

	skipped := 0
	for _, item := range parsed.Items {
		fi, ok := convertGofeedItem(origin, item)
		if !ok {
			skipped++
			continue
		}
		feed.Items = append(feed.Items, fi)
	}

	if skipped > 0 {
		log.Debug().
			Str("feed_url", origin).
			Int("skipped", skipped).
			Msg("Skipped items without guid or link")
	}
	return feed, nil
}

func classifyGofeedError(origin string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return &TransientFetchError{URL: origin, StatusCode: httpErr.StatusCode, Err: err}
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) || strings.Contains(err.Error(), "XML syntax error") {
		return &MalformedFeedError{URL: origin, Err: err}
	}
	return &TransientFetchError{URL: origin, Err: err}
}

func convertGofeedItem(origin string, item *gofeed.Item) (models.FetchedItem, bool) {
	if item == nil {
		return models.FetchedItem{}, false
	}
	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = strings.TrimSpace(item.Link)
	}
	if guid == "" {
		return models.FetchedItem{}, false
	}

	description := item.Description
	if description == "" {
		description = item.Content
	}

	fi := models.FetchedItem{
		FeedOrigin:  origin,
		GUID:        guid,
		Title:       models.NullableString(strings.TrimSpace(item.Title)),
		Description: models.NullableString(description),
		Link:        models.NullableString(item.Link),
	}

	switch {
	case item.PublishedParsed != nil:
		fi.PublishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		fi.PublishedAt = *item.UpdatedParsed
	}

	if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
		enc := item.Enclosures[0]
		fi.EnclosureURL = models.NullableString(enc.URL)
		fi.EnclosureType = models.NullableString(enc.Type)
		fi.EnclosureLength = enc.Length
	}

	meta := map[string]any{}
	if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		meta["author"] = item.Authors[0].Name
	}
	if len(item.Categories) > 0 {
		meta["categories"] = item.Categories
	}
	if item.Image != nil && item.Image.URL != "" {
		meta["image"] = item.Image.URL
	}
	if item.Content != "" && item.Content != description {
		meta["content"] = item.Content
	}
	if len(meta) > 0 {
		fi.Metadata = meta
	}
	return fi, true
}
