package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	"reddot-watch/river/internal/database"
	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/river"
)

// FeedMeta is what a successful check learns about a feed.
type FeedMeta struct {
	Title       string
	Description string
	HTMLURL     string
}

// SubscriptionStore owns the feeds and subscriptions tables.
type SubscriptionStore struct {
	db  *database.DB
	now func() time.Time
}

// NewSubscriptionStore creates a subscription store on an open database.
func NewSubscriptionStore(db *database.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db, now: utcNow}
}

// Subscribe adds (or updates the categories of) a subscription, creating the
// feed row when the origin is new.
func (s *SubscriptionStore) Subscribe(ctx context.Context, subscriberID, feedOrigin, categories string) error {
	subscriberID = strings.TrimSpace(subscriberID)
	feedOrigin = strings.TrimSpace(feedOrigin)
	op := fmt.Sprintf("subscribe %s to %s", subscriberID, feedOrigin)
	if subscriberID == "" || feedOrigin == "" {
		return &ConstraintError{Op: op, Err: errors.New("subscriber and feed url are required")}
	}
	if subscriberID == river.AllKey {
		return &ConstraintError{Op: op, Err: fmt.Errorf("subscriber id %q is reserved", river.AllKey)}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return writeError(op, err)
	}
	defer tx.Rollback()

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO feeds (url, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		feedOrigin, now, now); err != nil {
		return writeError(op, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (subscriber_id, feed_url, categories, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(subscriber_id, feed_url) DO UPDATE SET categories = excluded.categories`,
		subscriberID, feedOrigin, categories, now); err != nil {
		return writeError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return writeError(op, err)
	}
	return nil
}

// Unsubscribe removes a subscription and reports whether one existed.
func (s *SubscriptionStore) Unsubscribe(ctx context.Context, subscriberID, feedOrigin string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE subscriber_id = ? AND feed_url = ?", subscriberID, feedOrigin)
	if err != nil {
		return false, writeError(fmt.Sprintf("unsubscribe %s from %s", subscriberID, feedOrigin), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSubscriptions returns a subscriber's subscriptions ordered by feed url.
func (s *SubscriptionStore) ListSubscriptions(ctx context.Context, subscriberID string) ([]models.Subscription, error) {
	subs := []models.Subscription{}
	err := s.db.SelectContext(ctx, &subs, `
		SELECT subscriber_id, feed_url, categories, created_at
		FROM subscriptions WHERE subscriber_id = ? ORDER BY feed_url`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return subs, nil
}

// FeedOriginsFor returns the feed origins a subscriber follows.
func (s *SubscriptionStore) FeedOriginsFor(ctx context.Context, subscriberID string) ([]string, error) {
	origins := []string{}
	err := s.db.SelectContext(ctx, &origins,
		"SELECT feed_url FROM subscriptions WHERE subscriber_id = ? ORDER BY feed_url", subscriberID)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return origins, nil
}

// SubscribedFeedOrigins returns every origin with at least one subscriber.
func (s *SubscriptionStore) SubscribedFeedOrigins(ctx context.Context) ([]string, error) {
	origins := []string{}
	err := s.db.SelectContext(ctx, &origins,
		"SELECT DISTINCT feed_url FROM subscriptions ORDER BY feed_url")
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return origins, nil
}

// SubscribersOf returns the subscribers of one feed.
func (s *SubscriptionStore) SubscribersOf(ctx context.Context, feedOrigin string) ([]string, error) {
	subscribers := []string{}
	err := s.db.SelectContext(ctx, &subscribers,
		"SELECT subscriber_id FROM subscriptions WHERE feed_url = ? ORDER BY subscriber_id", feedOrigin)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return subscribers, nil
}

var feedColumns = []string{
	"feeds.id", "feeds.url", "feeds.title", "feeds.description", "feeds.html_url",
	"feeds.last_checked_at", "feeds.last_success_at", "feeds.last_failure_at", "feeds.last_error",
	"feeds.consecutive_failures", "feeds.ct_checks", "feeds.ct_items",
	"feeds.created_at", "feeds.updated_at",
}

// SubscribedFeeds returns the feed rows of every subscribed origin, least
// recently checked first. Never-checked feeds come first.
func (s *SubscriptionStore) SubscribedFeeds(ctx context.Context) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).
		From("feeds").
		Where("EXISTS (SELECT 1 FROM subscriptions WHERE subscriptions.feed_url = feeds.url)").
		OrderBy("feeds.last_checked_at IS NOT NULL", "feeds.last_checked_at ASC", "feeds.url ASC")
	return s.selectFeeds(ctx, sb)
}

// ListFeeds returns every known feed ordered by id.
func (s *SubscriptionStore) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").OrderBy("feeds.id ASC")
	return s.selectFeeds(ctx, sb)
}

// GetFeed reads one feed by origin.
func (s *SubscriptionStore) GetFeed(ctx context.Context, feedOrigin string) (models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").Where(sb.Equal("feeds.url", feedOrigin))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var feed models.Feed
	if err := s.db.GetContext(ctx, &feed, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Feed{}, ErrNotFound
		}
		return models.Feed{}, fmt.Errorf("database query failed: %w", err)
	}
	return feed, nil
}

func (s *SubscriptionStore) selectFeeds(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Feed, error) {
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	feeds := []models.Feed{}
	if err := s.db.SelectContext(ctx, &feeds, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return feeds, nil
}

// RecordCheckSuccess stores the outcome of a successful check: metadata,
// timestamps, the count of new items, and a reset failure streak.
func (s *SubscriptionStore) RecordCheckSuccess(ctx context.Context, feedOrigin string, meta FeedMeta, newItems int, at time.Time) error {
	at = at.UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (url, title, description, html_url, last_checked_at, last_success_at,
			consecutive_failures, ct_checks, ct_items, created_at, updated_at)
		VALUES (?1, NULLIF(?2, ''), NULLIF(?3, ''), NULLIF(?4, ''), ?5, ?5, 0, 1, ?6, ?5, ?5)
		ON CONFLICT(url) DO UPDATE SET
			title = COALESCE(NULLIF(?2, ''), feeds.title),
			description = COALESCE(NULLIF(?3, ''), feeds.description),
			html_url = COALESCE(NULLIF(?4, ''), feeds.html_url),
			last_checked_at = ?5,
			last_success_at = ?5,
			last_error = NULL,
			consecutive_failures = 0,
			ct_checks = feeds.ct_checks + 1,
			ct_items = feeds.ct_items + ?6,
			updated_at = ?5`,
		feedOrigin, meta.Title, meta.Description, meta.HTMLURL, at, newItems)
	if err != nil {
		return writeError(fmt.Sprintf("record check success for %s", feedOrigin), err)
	}
	return nil
}

// RecordCheckFailure stores a failed check and returns the new length of the
// feed's failure streak.
func (s *SubscriptionStore) RecordCheckFailure(ctx context.Context, feedOrigin string, checkErr error, at time.Time) (int, error) {
	at = at.UTC()
	msg := ""
	if checkErr != nil {
		msg = truncateUTF8(checkErr.Error(), maxLastErrorLen)
	}

	var streak int
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO feeds (url, last_checked_at, last_failure_at, last_error,
			consecutive_failures, ct_checks, created_at, updated_at)
		VALUES (?1, ?2, ?2, ?3, 1, 1, ?2, ?2)
		ON CONFLICT(url) DO UPDATE SET
			last_checked_at = ?2,
			last_failure_at = ?2,
			last_error = ?3,
			consecutive_failures = feeds.consecutive_failures + 1,
			ct_checks = feeds.ct_checks + 1,
			updated_at = ?2
		RETURNING consecutive_failures`,
		feedOrigin, at, msg).Scan(&streak)
	if err != nil {
		return 0, writeError(fmt.Sprintf("record check failure for %s", feedOrigin), err)
	}
	return streak, nil
}

const maxLastErrorLen = 500

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
