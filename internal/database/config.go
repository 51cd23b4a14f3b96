package database

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds database configuration settings
type Config struct {
	DBPath string

	// Zero values fall back to the defaults below.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	// CacheSizeKB is passed to PRAGMA cache_size; negative means KiB.
	CacheSizeKB int
	// ReadOnly opens the file in read-only mode and skips migrations.
	ReadOnly bool
}

// NewConfig creates a configuration for dbPath with default tuning.
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		MaxOpenConns:    8,
		MaxIdleConns:    8,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
		CacheSizeKB:     -64000,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	def := NewConfig(c.DBPath)
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = def.MaxOpenConns
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = out.MaxOpenConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if out.BusyTimeout <= 0 {
		out.BusyTimeout = def.BusyTimeout
	}
	if out.CacheSizeKB == 0 {
		out.CacheSizeKB = def.CacheSizeKB
	}
	return out
}

// DSN builds the go-sqlite3 connection string. WAL lets river readers run
// while the scheduler writes; foreign keys are per connection so they go in
// the DSN rather than a PRAGMA.
func (c *Config) DSN() string {
	q := url.Values{}
	q.Set("_journal", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	if c.ReadOnly {
		q.Set("mode", "ro")
	}
	return "file:" + c.DBPath + "?" + q.Encode()
}
