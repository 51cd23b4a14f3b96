package scheduler

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"reddot-watch/river/internal/models"
)

// Cursor is the scheduler's refresh state: when each subscribed origin was
// last checked and where the round-robin walk stopped.
type Cursor struct {
	mu        sync.Mutex
	origins   []string
	lastCheck map[string]time.Time
	last      string
}

// NewCursor returns an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{lastCheck: make(map[string]time.Time)}
}

// Rebuild replaces the origin set with feeds. Check times already known in
// memory win over older ones from the table. It reports whether the origin
// set changed.
func (c *Cursor) Rebuild(feeds []models.Feed) bool {
	origins := lo.Uniq(lo.Map(feeds, func(f models.Feed, _ int) string { return f.URL }))
	slices.Sort(origins)

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := !slices.Equal(origins, c.origins)
	c.origins = origins

	next := make(map[string]time.Time, len(feeds))
	for _, f := range feeds {
		at := c.lastCheck[f.URL]
		if f.LastCheckedAt.Valid && f.LastCheckedAt.Time.After(at) {
			at = f.LastCheckedAt.Time
		}
		next[f.URL] = at
	}
	c.lastCheck = next
	return changed
}

// Next walks the origins round-robin from just after the last one handed
// out and returns the first that is due at now and not rejected by skip.
func (c *Cursor) Next(now time.Time, minInterval time.Duration, skip func(origin string) bool) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.origins)
	if n == 0 {
		return "", false
	}

	start, found := slices.BinarySearch(c.origins, c.last)
	if found {
		start++
	}
	for i := range n {
		origin := c.origins[(start+i)%n]
		if last := c.lastCheck[origin]; !last.IsZero() && now.Sub(last) < minInterval {
			continue
		}
		if skip != nil && skip(origin) {
			continue
		}
		c.last = origin
		return origin, true
	}
	return "", false
}

// MarkChecked records a check of origin at at.
func (c *Cursor) MarkChecked(origin string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCheck[origin] = at
}

// LastCheck returns the last recorded check time of origin.
func (c *Cursor) LastCheck(origin string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.lastCheck[origin]
	return at, ok && !at.IsZero()
}

// Due returns every origin due at now, sorted by origin.
func (c *Cursor) Due(now time.Time, minInterval time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Filter(c.origins, func(origin string, _ int) bool {
		last := c.lastCheck[origin]
		return last.IsZero() || now.Sub(last) >= minInterval
	})
}

// Origins returns the current origin set.
func (c *Cursor) Origins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.origins)
}
