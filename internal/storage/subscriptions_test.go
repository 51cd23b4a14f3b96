package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/storage"
)

func TestSubscribeAndList(t *testing.T) {
	ctx := context.Background()
	subs := storage.NewSubscriptionStore(openTestDB(t))

	require.NoError(t, subs.Subscribe(ctx, "alice", "https://b.example.com/rss", "news"))
	require.NoError(t, subs.Subscribe(ctx, "alice", "https://a.example.com/rss", ""))
	require.NoError(t, subs.Subscribe(ctx, "bob", "https://a.example.com/rss", "tech"))
	require.NoError(t, subs.Subscribe(ctx, "alice", "https://b.example.com/rss", "world"), "resubscribe updates categories")

	list, err := subs.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "https://a.example.com/rss", list[0].FeedOrigin)
	assert.Equal(t, "world", list[1].Categories)

	origins, err := subs.FeedOriginsFor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com/rss", "https://b.example.com/rss"}, origins)

	all, err := subs.SubscribedFeedOrigins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com/rss", "https://b.example.com/rss"}, all)

	subscribers, err := subs.SubscribersOf(ctx, "https://a.example.com/rss")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, subscribers)

	origins, err = subs.FeedOriginsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, origins)
	assert.Empty(t, origins)
}

func TestSubscribeValidates(t *testing.T) {
	subs := storage.NewSubscriptionStore(openTestDB(t))

	err := subs.Subscribe(context.Background(), " ", "https://a.example.com/rss", "")
	assert.ErrorIs(t, err, storage.ErrConstraint)

	var constraintErr *storage.ConstraintError
	assert.True(t, errors.As(err, &constraintErr))

	err = subs.Subscribe(context.Background(), "all", "https://a.example.com/rss", "")
	assert.ErrorIs(t, err, storage.ErrConstraint, "all is the key of the combined river")

	list, err := subs.ListSubscriptions(context.Background(), "all")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	subs := storage.NewSubscriptionStore(openTestDB(t))
	require.NoError(t, subs.Subscribe(ctx, "alice", "f1", ""))

	removed, err := subs.Unsubscribe(ctx, "alice", "f1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = subs.Unsubscribe(ctx, "alice", "f1")
	require.NoError(t, err)
	assert.False(t, removed)

	feeds, err := subs.SubscribedFeeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)

	all, err := subs.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "the feed row outlives its last subscription")
}

func TestRecordCheckOutcomes(t *testing.T) {
	ctx := context.Background()
	subs := storage.NewSubscriptionStore(openTestDB(t))
	require.NoError(t, subs.Subscribe(ctx, "alice", "f1", ""))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		streak, err := subs.RecordCheckFailure(ctx, "f1", errors.New("connection refused"), at.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, i, streak)
	}

	feed, err := subs.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 3, feed.ConsecutiveFailures)
	assert.Equal(t, int64(3), feed.CtChecks)
	assert.Equal(t, "connection refused", feed.LastError.String)
	assert.True(t, feed.LastFailureAt.Valid)
	assert.False(t, feed.LastSuccessAt.Valid)

	meta := storage.FeedMeta{Title: "Feed One", HTMLURL: "https://f1.example.com"}
	require.NoError(t, subs.RecordCheckSuccess(ctx, "f1", meta, 5, at.Add(time.Hour)))

	feed, err = subs.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, feed.ConsecutiveFailures)
	assert.Equal(t, int64(4), feed.CtChecks)
	assert.Equal(t, int64(5), feed.CtItems)
	assert.Equal(t, "Feed One", feed.Title.String)
	assert.False(t, feed.LastError.Valid)
	assert.True(t, at.Add(time.Hour).Equal(feed.LastCheckedAt.Time))

	info := feed.Info()
	assert.Equal(t, "f1", info.FeedURL)
	require.NotNil(t, info.LastSuccessAt)

	require.NoError(t, subs.RecordCheckSuccess(ctx, "f1", storage.FeedMeta{}, 0, at.Add(2*time.Hour)))
	feed, err = subs.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Feed One", feed.Title.String, "empty metadata keeps the stored title")
}

func TestRecordCheckFailureTruncatesOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	subs := storage.NewSubscriptionStore(openTestDB(t))
	require.NoError(t, subs.Subscribe(ctx, "alice", "f1", ""))

	// One ASCII byte shifts the two-byte runes so that byte 500 falls mid-rune.
	msg := "x" + strings.Repeat("é", 300)
	_, err := subs.RecordCheckFailure(ctx, "f1", errors.New(msg), time.Now())
	require.NoError(t, err)

	feed, err := subs.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(feed.LastError.String))
	assert.Len(t, feed.LastError.String, 499)
	assert.True(t, strings.HasPrefix(msg, feed.LastError.String))
}

func TestSubscribedFeedsOrder(t *testing.T) {
	ctx := context.Background()
	subs := storage.NewSubscriptionStore(openTestDB(t))
	for _, origin := range []string{"f1", "f2", "f3"} {
		require.NoError(t, subs.Subscribe(ctx, "alice", origin, ""))
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, subs.RecordCheckSuccess(ctx, "f1", storage.FeedMeta{}, 0, at.Add(time.Minute)))
	require.NoError(t, subs.RecordCheckSuccess(ctx, "f3", storage.FeedMeta{}, 0, at))

	feeds, err := subs.SubscribedFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 3)
	assert.Equal(t, "f2", feeds[0].URL, "never checked comes first")
	assert.Equal(t, "f3", feeds[1].URL)
	assert.Equal(t, "f1", feeds[2].URL)
}

func TestGetFeedNotFound(t *testing.T) {
	subs := storage.NewSubscriptionStore(openTestDB(t))
	_, err := subs.GetFeed(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
