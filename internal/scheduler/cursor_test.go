package scheduler_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/scheduler"
)

func TestCursorRebuild(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := scheduler.NewCursor()

	changed := c.Rebuild([]models.Feed{
		{URL: "b"},
		{URL: "a", LastCheckedAt: sql.NullTime{Time: now.Add(-time.Minute), Valid: true}},
	})
	assert.True(t, changed)
	assert.Equal(t, []string{"a", "b"}, c.Origins())

	c.MarkChecked("a", now)
	changed = c.Rebuild([]models.Feed{
		{URL: "a", LastCheckedAt: sql.NullTime{Time: now.Add(-time.Minute), Valid: true}},
		{URL: "b"},
	})
	assert.False(t, changed)

	at, ok := c.LastCheck("a")
	assert.True(t, ok)
	assert.True(t, now.Equal(at), "newer in-memory check time wins")

	_, ok = c.LastCheck("b")
	assert.False(t, ok)
}

func TestCursorNext(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := scheduler.NewCursor()
	c.Rebuild([]models.Feed{{URL: "a"}, {URL: "b"}, {URL: "c"}})

	origin, ok := c.Next(now, time.Minute, nil)
	assert.True(t, ok)
	assert.Equal(t, "a", origin)
	c.MarkChecked("a", now)

	origin, ok = c.Next(now, time.Minute, func(o string) bool { return o == "b" })
	assert.True(t, ok)
	assert.Equal(t, "c", origin, "skipped origins are passed over")
	c.MarkChecked("c", now)

	origin, ok = c.Next(now, time.Minute, nil)
	assert.True(t, ok)
	assert.Equal(t, "b", origin, "walk wraps around")
	c.MarkChecked("b", now)

	_, ok = c.Next(now.Add(59*time.Second), time.Minute, nil)
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, c.Due(now.Add(time.Minute), time.Minute))
}

func TestCursorRemovedOrigin(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := scheduler.NewCursor()
	c.Rebuild([]models.Feed{{URL: "a"}, {URL: "b"}})

	origin, _ := c.Next(now, time.Minute, nil)
	assert.Equal(t, "a", origin)

	c.Rebuild([]models.Feed{{URL: "b"}, {URL: "c"}})
	origin, ok := c.Next(now, time.Minute, nil)
	assert.True(t, ok)
	assert.Equal(t, "b", origin, "walk resumes after the removed origin")
}
