// Package scheduler decides which feed to refresh next and runs the
// fetch-and-store pipeline for it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reddot-watch/river/internal/fetch"
	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/river"
	"reddot-watch/river/internal/storage"
)

// Fetcher retrieves and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, origin string) (models.FetchedFeed, error)
}

// ItemWriter is the part of the item store the scheduler writes to.
type ItemWriter interface {
	UpsertItem(ctx context.Context, in models.FetchedItem) (storage.UpsertResult, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// FeedStore holds the subscribed feed set and its check bookkeeping.
type FeedStore interface {
	SubscribedFeeds(ctx context.Context) ([]models.Feed, error)
	RecordCheckSuccess(ctx context.Context, origin string, meta storage.FeedMeta, newItems int, at time.Time) error
	RecordCheckFailure(ctx context.Context, origin string, checkErr error, at time.Time) (int, error)
}

// Invalidator is told which rivers went stale.
type Invalidator interface {
	InvalidateFeed(origin string)
	Invalidate(key string)
}

// ErrNoItems is recorded as a malformed-feed failure when a fetch succeeds
// but yields nothing to store.
var ErrNoItems = errors.New("feed has no items")

// Config holds the scheduler knobs.
type Config struct {
	MinCheckInterval time.Duration
	TickInterval     time.Duration
	Workers          int
	FetchTimeout     time.Duration
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Ticks         int64
	Dispatched    int64
	Successes     int64
	Failures      int64
	ItemsUpserted int64
	ItemsFailed   int64
	InFlight      int
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler refreshes subscribed feeds, at most one refresh per origin at a
// time and never more often than MinCheckInterval per origin.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	items   ItemWriter
	feeds   FeedStore
	rivers  Invalidator
	cursor  *Cursor
	now     func() time.Time
	metrics *metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	failures map[string]int
	wg       sync.WaitGroup

	ticks         atomic.Int64
	dispatched    atomic.Int64
	successes     atomic.Int64
	failed        atomic.Int64
	itemsUpserted atomic.Int64
	itemsFailed   atomic.Int64
}

// New creates a scheduler. Collectors are registered on reg when it is not
// nil.
func New(cfg Config, fetcher Fetcher, items ItemWriter, feeds FeedStore, rivers Invalidator, cursor *Cursor, reg prometheus.Registerer, opts ...Option) (*Scheduler, error) {
	if fetcher == nil || items == nil || feeds == nil {
		return nil, fmt.Errorf("fetcher, item store and feed store are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cursor == nil {
		cursor = NewCursor()
	}

	s := &Scheduler{
		cfg:      cfg,
		fetcher:  fetcher,
		items:    items,
		feeds:    feeds,
		rivers:   rivers,
		cursor:   cursor,
		now:      time.Now,
		metrics:  newMetrics(reg),
		inFlight: make(map[string]struct{}),
		failures: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Cursor exposes the refresh state.
func (s *Scheduler) Cursor() *Cursor {
	return s.cursor
}

// Reload refreshes the cursor's origin set from the feed table.
func (s *Scheduler) Reload(ctx context.Context) error {
	feeds, err := s.feeds.SubscribedFeeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscribed feeds: %w", err)
	}
	if s.cursor.Rebuild(feeds) {
		log.Debug().Int("feeds", len(feeds)).Msg("Subscribed feed set changed")
	}

	s.mu.Lock()
	for _, f := range feeds {
		if _, known := s.failures[f.URL]; !known {
			s.failures[f.URL] = f.ConsecutiveFailures
		}
	}
	s.mu.Unlock()
	return nil
}

// Tick picks the next due origin that is not already being refreshed and
// starts refreshing it in the background. It never waits for the refresh.
// Nothing is dispatched while Workers refreshes are running.
func (s *Scheduler) Tick(ctx context.Context) (string, bool) {
	s.ticks.Add(1)

	if err := s.Reload(ctx); err != nil {
		log.Error().Err(err).Msg("Tick could not reload feeds")
		s.metrics.ticks.WithLabelValues("false").Inc()
		return "", false
	}

	s.mu.Lock()
	var origin string
	var ok bool
	if len(s.inFlight) < s.cfg.Workers {
		origin, ok = s.cursor.Next(s.now(), s.cfg.MinCheckInterval, func(o string) bool {
			_, busy := s.inFlight[o]
			return busy
		})
	}
	if ok {
		s.inFlight[origin] = struct{}{}
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.metrics.ticks.WithLabelValues(strconv.FormatBool(ok)).Inc()
	if !ok {
		return "", false
	}
	s.dispatched.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.release(origin)
		if err := s.RefreshFeed(ctx, origin); err != nil {
			log.Warn().Err(err).Str("feed_url", origin).Msg("Feed refresh failed")
		}
	}()
	return origin, true
}

func (s *Scheduler) tryAcquire(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[origin]; busy {
		return false
	}
	s.inFlight[origin] = struct{}{}
	return true
}

func (s *Scheduler) release(origin string) {
	s.mu.Lock()
	delete(s.inFlight, origin)
	s.mu.Unlock()
}

// Busy reports whether origin is being refreshed right now.
func (s *Scheduler) Busy(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[origin]
	return busy
}

// Wait blocks until every refresh dispatched by Tick has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Run ticks every TickInterval until ctx is done, then waits for the
// refreshes still running.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	log.Info().
		Int("feeds", len(s.cursor.Origins())).
		Dur("tick_interval", s.cfg.TickInterval).
		Dur("min_check_interval", s.cfg.MinCheckInterval).
		Msg("Scheduler started")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopping, waiting for running refreshes")
			s.Wait()
			ticks, dispatched := s.ticks.Load(), s.dispatched.Load()
			log.Info().
				Int64("ticks", ticks).
				Int64("dispatched", dispatched).
				Msg("Scheduler stopped")
			return nil
		}
	}
}

// RefreshFeed fetches origin and stores its items. Item write failures are
// logged and counted without aborting the batch. The returned error is the
// fetch error, if any.
func (s *Scheduler) RefreshFeed(ctx context.Context, origin string) error {
	started := s.now()
	s.cursor.MarkChecked(origin, started)
	timer := prometheus.NewTimer(s.metrics.refreshDuration)
	defer timer.ObserveDuration()

	log.Info().Str("feed_url", origin).Msg("Processing feed")

	fetchCtx := ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	feed, err := s.fetcher.Fetch(fetchCtx, origin)
	if err == nil && len(feed.Items) == 0 {
		err = &fetch.MalformedFeedError{URL: origin, Err: ErrNoItems}
	}
	if err != nil {
		s.recordFailure(ctx, origin, err, started)
		return err
	}

	upserted, inserted, failed := 0, 0, 0
	for _, item := range feed.Items {
		if ctx.Err() != nil {
			break
		}
		item.FeedOrigin = origin
		res, err := s.items.UpsertItem(ctx, item)
		if err != nil {
			failed++
			var writeErr *storage.StoreWriteError
			log.Error().
				Err(err).
				Str("feed_url", origin).
				Str("guid", item.GUID).
				Bool("transient", errors.As(err, &writeErr)).
				Msg("Failed to store item")
			continue
		}
		upserted++
		if res.Inserted {
			inserted++
		}
	}
	s.itemsUpserted.Add(int64(upserted))
	s.itemsFailed.Add(int64(failed))
	s.metrics.itemsUpserted.Add(float64(upserted))
	s.metrics.itemsFailed.Add(float64(failed))

	meta := storage.FeedMeta{Title: feed.Title, Description: feed.Description, HTMLURL: feed.Link}
	if err := s.feeds.RecordCheckSuccess(ctx, origin, meta, inserted, started); err != nil {
		log.Error().Err(err).Str("feed_url", origin).Msg("Failed to record feed check")
	}

	s.mu.Lock()
	s.failures[origin] = 0
	s.mu.Unlock()
	s.successes.Add(1)
	s.metrics.checks.WithLabelValues("success").Inc()
	s.metrics.consecutiveFailures.WithLabelValues(origin).Set(0)

	if s.rivers != nil {
		s.rivers.InvalidateFeed(origin)
	}

	log.Info().
		Str("feed_url", origin).
		Int("items", len(feed.Items)).
		Int("new", inserted).
		Int("failed", failed).
		Msg("Feed processed successfully")
	return nil
}

func (s *Scheduler) recordFailure(ctx context.Context, origin string, fetchErr error, at time.Time) {
	streak, err := s.feeds.RecordCheckFailure(ctx, origin, fetchErr, at)

	s.mu.Lock()
	if err != nil {
		log.Error().Err(err).Str("feed_url", origin).Msg("Failed to record feed failure")
		streak = s.failures[origin] + 1
	}
	s.failures[origin] = streak
	s.mu.Unlock()

	s.failed.Add(1)
	kind := "transient"
	if fetch.IsMalformed(fetchErr) {
		kind = "malformed"
	}
	s.metrics.checks.WithLabelValues(kind).Inc()
	s.metrics.consecutiveFailures.WithLabelValues(origin).Set(float64(streak))

	log.Warn().
		Err(fetchErr).
		Str("feed_url", origin).
		Str("kind", kind).
		Int("consecutive_failures", streak).
		Msg("Feed check failed")
}

// RefreshAll refreshes every due feed once with at most Workers refreshes in
// parallel, and returns when all are done. Origins already being refreshed
// by Run are skipped.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	due := s.cursor.Due(s.now(), s.cfg.MinCheckInterval)
	log.Info().Int("feeds", len(due)).Int("workers", s.cfg.Workers).Msg("Refreshing due feeds")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	var failures atomic.Int64
	for _, origin := range due {
		if gctx.Err() != nil {
			break
		}
		if !s.tryAcquire(origin) {
			continue
		}
		g.Go(func() error {
			defer s.release(origin)
			if err := s.RefreshFeed(gctx, origin); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("feeds", len(due)).
		Int64("failed", failures.Load()).
		Msg("Refresh finished")
	return ctx.Err()
}

// Purge deletes items older than retentionDays that nobody likes and marks
// every river stale.
func (s *Scheduler) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	log.Info().
		Time("cutoff", cutoff).
		Int("retention_days", retentionDays).
		Msg("Purging old items")

	n, err := s.items.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge items: %w", err)
	}
	if s.rivers != nil && n > 0 {
		s.rivers.Invalidate(river.AllKey)
	}

	log.Info().Int64("rows_affected", n).Msg("Purged old items")
	return n, nil
}

// ConsecutiveFailures returns the current failure streak of origin.
func (s *Scheduler) ConsecutiveFailures(origin string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[origin]
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	inFlight := len(s.inFlight)
	s.mu.Unlock()
	return Stats{
		Ticks:         s.ticks.Load(),
		Dispatched:    s.dispatched.Load(),
		Successes:     s.successes.Load(),
		Failures:      s.failed.Load(),
		ItemsUpserted: s.itemsUpserted.Load(),
		ItemsFailed:   s.itemsFailed.Load(),
		InFlight:      inFlight,
	}
}
