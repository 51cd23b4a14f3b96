package river_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/river"
)

// countingBuilder records how often each key was built.
type countingBuilder struct {
	mu     sync.Mutex
	calls  map[string]int
	feeds  map[string][]string
	delay  time.Duration
	gate   chan struct{}
	failOn string
}

func newCountingBuilder() *countingBuilder {
	return &countingBuilder{
		calls: make(map[string]int),
		feeds: map[string][]string{
			"alice":      {"f1", "f2"},
			"bob":        {"f2"},
			river.AllKey: {"f1", "f2"},
		},
	}
}

func (b *countingBuilder) Build(_ context.Context, key string) (models.River, error) {
	b.mu.Lock()
	b.calls[key]++
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if key == b.failOn {
		return models.River{}, errors.New("boom")
	}
	return models.River{Feeds: b.feeds[key], Items: []models.Item{{GUID: key}}}, nil
}

func (b *countingBuilder) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(b river.Builder, clock *fakeClock, ttl time.Duration) *river.Cache {
	return river.NewCache(b, river.Options{Enabled: true, TTL: ttl, Now: clock.Now}, nil)
}

func TestCacheServesFreshEntries(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, time.Minute)

	assert.Equal(t, river.Absent, cache.State("alice"))

	first, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	second, err := cache.Get(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, b.count("alice"))
	assert.Equal(t, first, second)
	assert.Equal(t, "alice", first.Key)
	assert.Equal(t, river.Fresh, cache.State("alice"))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Rebuilds)
	assert.Equal(t, 1, stats.Entries)
}

func TestInvalidateIsLazy(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	_, err := cache.Get(ctx, "alice")
	require.NoError(t, err)

	cache.Invalidate("alice")
	assert.Equal(t, river.Stale, cache.State("alice"))
	assert.Equal(t, 1, b.count("alice"), "invalidation does not rebuild")

	r, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, b.count("alice"))
	assert.Equal(t, uint64(2), r.Generation)
	assert.Equal(t, river.Fresh, cache.State("alice"))
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	cache := newCache(newCountingBuilder(), &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	for _, key := range []string{"alice", "bob", river.AllKey} {
		_, err := cache.Get(ctx, key)
		require.NoError(t, err)
	}

	cache.Invalidate(river.AllKey)
	for _, key := range []string{"alice", "bob", river.AllKey} {
		assert.Equal(t, river.Stale, cache.State(key), key)
	}
}

func TestInvalidateFeed(t *testing.T) {
	ctx := context.Background()
	cache := newCache(newCountingBuilder(), &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	for _, key := range []string{"alice", "bob"} {
		_, err := cache.Get(ctx, key)
		require.NoError(t, err)
	}

	cache.InvalidateFeed("f1")
	assert.Equal(t, river.Stale, cache.State("alice"))
	assert.Equal(t, river.Fresh, cache.State("bob"))

	cache.InvalidateFeed("f2")
	assert.Equal(t, river.Stale, cache.State("bob"))
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	_, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	cache.Evict("alice")
	assert.Equal(t, river.Absent, cache.State("alice"))
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newCache(b, clock, 300*time.Second)

	_, err := cache.Get(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(299 * time.Second)
	_, err = cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, b.count("alice"))

	clock.Advance(time.Second)
	assert.Equal(t, river.Stale, cache.State("alice"))
	_, err = cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, b.count("alice"))
}

func TestZeroTTLNeverServesFresh(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, 0)

	for range 2 {
		_, err := cache.Get(ctx, "bob")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, b.count("bob"))
	assert.Equal(t, river.Stale, cache.State("bob"))
	assert.Zero(t, cache.Stats().Hits)
}

func TestDisabledCacheAlwaysRebuilds(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	cache := river.NewCache(b, river.Options{Enabled: false}, nil)

	for range 3 {
		_, err := cache.Get(ctx, "alice")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, b.count("alice"))
	assert.Equal(t, river.Absent, cache.State("alice"))
}

func TestConcurrentGetsShareOneRebuild(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	b.delay = 50 * time.Millisecond
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(ctx, "alice"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, b.count("alice"))
}

func TestInvalidationDuringRebuildLeavesEntryStale(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	b.gate = make(chan struct{})
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	done := make(chan error)
	go func() {
		_, err := cache.Get(ctx, "alice")
		done <- err
	}()

	require.Eventually(t, func() bool { return b.count("alice") == 1 }, time.Second, time.Millisecond)
	cache.InvalidateFeed("f2")
	close(b.gate)
	require.NoError(t, <-done)

	assert.Equal(t, river.Stale, cache.State("alice"))
}

func TestBuildErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	b := newCountingBuilder()
	b.failOn = "alice"
	cache := newCache(b, &fakeClock{now: time.Unix(1000, 0)}, time.Hour)

	_, err := cache.Get(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, river.Absent, cache.State("alice"))
	assert.Equal(t, int64(0), cache.Stats().Rebuilds)
}

func TestCacheMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	cache := river.NewCache(newCountingBuilder(), river.Options{Enabled: true, TTL: time.Hour}, reg)

	for range 3 {
		_, err := cache.Get(ctx, "bob")
		require.NoError(t, err)
	}

	count, err := testutil.GatherAndCount(reg, "river_cache_hits_total", "river_cache_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
