// Package river builds and caches the merged, newest-first item view of a
// subscriber.
package river

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"reddot-watch/river/internal/models"
)

// AllKey is the logical river over every subscribed feed. Invalidating it
// marks every cached river stale.
const AllKey = "all"

// Builder computes a river from the store.
type Builder interface {
	Build(ctx context.Context, key string) (models.River, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, key string) (models.River, error)

func (f BuilderFunc) Build(ctx context.Context, key string) (models.River, error) {
	return f(ctx, key)
}

// State is the cache state of one key.
type State int

const (
	Absent State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Options configures a Cache.
type Options struct {
	// Enabled false turns every Get into a rebuild.
	Enabled bool
	// TTL is how long a fresh entry may be served. With TTL <= 0 every
	// entry is stale as soon as it is built, so each Get rebuilds.
	TTL time.Duration
	Now func() time.Time
}

// Stats counts cache traffic.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Rebuilds int64 `json:"rebuilds"`
	Entries  int   `json:"entries"`
}

type entry struct {
	river   models.River
	builtAt time.Time
	stale   bool
}

// Cache keeps one river per key. Invalidation only marks entries stale; the
// rebuild happens on the next Get of that key. Concurrent Gets of the same
// key share one rebuild.
type Cache struct {
	builder Builder
	opts    Options
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	// seq orders invalidations against rebuilds. A rebuild that started
	// before an invalidation touching its key is stored stale.
	seq        uint64
	allSeq     uint64
	keySeq     map[string]uint64
	feedSeq    map[string]uint64
	generation uint64

	hits     atomic.Int64
	misses   atomic.Int64
	rebuilds atomic.Int64

	hitCounter     prometheus.Counter
	missCounter    prometheus.Counter
	rebuildCounter prometheus.Counter
}

// NewCache creates a cache on top of builder. Collectors are registered on
// reg when it is not nil.
func NewCache(builder Builder, opts Options, reg prometheus.Registerer) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	factory := promauto.With(reg)
	return &Cache{
		builder: builder,
		opts:    opts,
		entries: make(map[string]*entry),
		keySeq:  make(map[string]uint64),
		feedSeq: make(map[string]uint64),
		hitCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "river_cache_hits_total",
			Help: "River reads served from the cache",
		}),
		missCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "river_cache_misses_total",
			Help: "River reads that needed a rebuild",
		}),
		rebuildCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "river_cache_rebuilds_total",
			Help: "River rebuilds",
		}),
	}
}

// Get returns the river for key, rebuilding it when absent, stale or
// expired.
func (c *Cache) Get(ctx context.Context, key string) (models.River, error) {
	if !c.opts.Enabled {
		c.misses.Add(1)
		c.missCounter.Inc()
		return c.rebuild(ctx, key, false)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.stateLocked(e) == Fresh {
		river := e.river
		c.mu.Unlock()
		c.hits.Add(1)
		c.hitCounter.Inc()
		return river, nil
	}
	c.mu.Unlock()

	c.misses.Add(1)
	c.missCounter.Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		return c.rebuild(context.WithoutCancel(ctx), key, true)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.River{}, res.Err
		}
		return res.Val.(models.River), nil
	case <-ctx.Done():
		return models.River{}, ctx.Err()
	}
}

func (c *Cache) rebuild(ctx context.Context, key string, store bool) (models.River, error) {
	c.mu.Lock()
	startSeq := c.seq
	c.mu.Unlock()

	started := c.opts.Now()
	river, err := c.builder.Build(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("river", key).Msg("Failed to build river")
		return models.River{}, err
	}
	c.rebuilds.Add(1)
	c.rebuildCounter.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	river.Key = key
	river.Generation = c.generation
	if river.BuiltAt.IsZero() {
		river.BuiltAt = started
	}
	if river.Items == nil {
		river.Items = []models.Item{}
	}

	if store {
		c.entries[key] = &entry{
			river:   river,
			builtAt: started,
			stale:   c.invalidatedSinceLocked(key, river.Feeds, startSeq),
		}
	}

	log.Debug().
		Str("river", key).
		Int("items", len(river.Items)).
		Int("feeds", len(river.Feeds)).
		Uint64("generation", river.Generation).
		Msg("River rebuilt")
	return river, nil
}

func (c *Cache) invalidatedSinceLocked(key string, feeds []string, seq uint64) bool {
	if c.allSeq > seq || c.keySeq[key] > seq {
		return true
	}
	for _, origin := range feeds {
		if c.feedSeq[origin] > seq {
			return true
		}
	}
	return false
}

func (c *Cache) stateLocked(e *entry) State {
	if e.stale {
		return Stale
	}
	if c.opts.Now().Sub(e.builtAt) >= c.opts.TTL {
		return Stale
	}
	return Fresh
}

// State reports the cache state of key without touching it.
func (c *Cache) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Absent
	}
	return c.stateLocked(e)
}

// Invalidate marks the river of key stale. AllKey marks every river stale.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if key == AllKey {
		c.allSeq = c.seq
		for _, e := range c.entries {
			e.stale = true
		}
		return
	}
	c.keySeq[key] = c.seq
	if e, ok := c.entries[key]; ok {
		e.stale = true
	}
}

// InvalidateFeed marks stale every river built from origin.
func (c *Cache) InvalidateFeed(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.feedSeq[origin] = c.seq
	for _, e := range c.entries {
		for _, f := range e.river.Feeds {
			if f == origin {
				e.stale = true
				break
			}
		}
	}
}

// Evict drops the entry of key.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.keySeq[key] = c.seq
	delete(c.entries, key)
}

// Stats returns the traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Rebuilds: c.rebuilds.Load(),
		Entries:  entries,
	}
}
