package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	SubscriptionsCSVPath string `toml:"subscriptions_csv"`
	SubscriptionsCSVURL  string `toml:"subscriptions_csv_url"`
	DBPath               string `toml:"db_path"`

	// Server settings
	ServerHost string `toml:"host"`
	ServerPort int    `toml:"port"`
	APIKey     string `toml:"api_key"`

	// River settings
	MaxRiverItems        int  `toml:"max_river_items"`
	CtSecsLifeRiverCache int  `toml:"ct_secs_life_river_cache"`
	FlUseRiverCache      bool `toml:"fl_use_river_cache"`

	// Refresh settings
	FlUpdateFeedsInBackground bool   `toml:"fl_update_feeds_in_background"`
	MinSecsBetwFeedChecks     int    `toml:"min_secs_betw_feed_checks"`
	TickIntervalMS            int    `toml:"tick_interval_ms"`
	RefreshWorkers            int    `toml:"refresh_workers"`
	FetchTimeoutSecs          int    `toml:"fetch_timeout_secs"`
	Fetcher                   string `toml:"fetcher"`
	UserAgent                 string `toml:"user_agent"`
	RetentionDays             int    `toml:"retention_days"`

	// Log settings
	LogLevelName string        `toml:"log_level"`
	LogLevel     zerolog.Level `toml:"-"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		SubscriptionsCSVPath:      DefaultSubscriptionsCSVPath,
		DBPath:                    DefaultDBPath,
		ServerHost:                DefaultServerHost,
		ServerPort:                DefaultServerPort,
		MaxRiverItems:             DefaultMaxRiverItems,
		CtSecsLifeRiverCache:      DefaultCtSecsLifeRiverCache,
		FlUseRiverCache:           DefaultFlUseRiverCache,
		FlUpdateFeedsInBackground: DefaultFlUpdateFeedsInBackground,
		MinSecsBetwFeedChecks:     DefaultMinSecsBetwFeedChecks,
		TickIntervalMS:            DefaultTickIntervalMS,
		RefreshWorkers:            DefaultRefreshWorkers,
		FetchTimeoutSecs:          DefaultFetchTimeoutSecs,
		Fetcher:                   DefaultFetcher,
		UserAgent:                 DefaultUserAgent,
		RetentionDays:             DefaultRetentionDays,
		LogLevelName:              DefaultLogLevel,
		LogLevel:                  logLevel,
	}
}

// Load builds a configuration from defaults, an optional TOML file and
// RIVER_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields with RIVER_* environment variables when set.
func (c *Config) applyEnv() {
	c.SubscriptionsCSVPath = GetEnvString("CSV_PATH", c.SubscriptionsCSVPath)
	c.SubscriptionsCSVURL = GetEnvString("CSV_URL", c.SubscriptionsCSVURL)
	c.DBPath = GetEnvString("DB_PATH", c.DBPath)
	c.ServerHost = GetEnvString("HOST", c.ServerHost)
	c.ServerPort = GetEnvInt("PORT", c.ServerPort)
	c.APIKey = GetEnvString("API_KEY", c.APIKey)

	c.MaxRiverItems = GetEnvInt("MAX_RIVER_ITEMS", c.MaxRiverItems)
	c.CtSecsLifeRiverCache = GetEnvInt("CT_SECS_LIFE_RIVER_CACHE", c.CtSecsLifeRiverCache)
	c.FlUseRiverCache = GetEnvBool("FL_USE_RIVER_CACHE", c.FlUseRiverCache)

	c.FlUpdateFeedsInBackground = GetEnvBool("FL_UPDATE_FEEDS_IN_BACKGROUND", c.FlUpdateFeedsInBackground)
	c.MinSecsBetwFeedChecks = GetEnvInt("MIN_SECS_BETW_FEED_CHECKS", c.MinSecsBetwFeedChecks)
	c.TickIntervalMS = GetEnvInt("TICK_INTERVAL_MS", c.TickIntervalMS)
	c.RefreshWorkers = GetEnvInt("REFRESH_WORKERS", c.RefreshWorkers)
	c.FetchTimeoutSecs = GetEnvInt("FETCH_TIMEOUT_SECS", c.FetchTimeoutSecs)
	c.Fetcher = GetEnvString("FETCHER", c.Fetcher)
	c.UserAgent = GetEnvString("USER_AGENT", c.UserAgent)
	c.RetentionDays = GetEnvInt("RETENTION_DAYS", c.RetentionDays)

	c.LogLevel = GetEnvLogLevel("LOG_LEVEL", c.LogLevel)
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	if c.MaxRiverItems <= 0 {
		return fmt.Errorf("max_river_items must be positive, got %d", c.MaxRiverItems)
	}
	if c.MinSecsBetwFeedChecks < 0 {
		return fmt.Errorf("min_secs_betw_feed_checks must not be negative, got %d", c.MinSecsBetwFeedChecks)
	}
	if c.CtSecsLifeRiverCache < 0 {
		return fmt.Errorf("ct_secs_life_river_cache must not be negative, got %d", c.CtSecsLifeRiverCache)
	}
	if c.RefreshWorkers <= 0 {
		c.RefreshWorkers = DefaultRefreshWorkers
	}
	if c.TickIntervalMS <= 0 {
		c.TickIntervalMS = DefaultTickIntervalMS
	}
	switch c.Fetcher {
	case FetcherGofeed, FetcherFeedfetcher:
	default:
		return fmt.Errorf("unknown fetcher %q (want %q or %q)", c.Fetcher, FetcherGofeed, FetcherFeedfetcher)
	}
	return nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// MinFeedCheckInterval is the minimum time between two checks of one feed.
func (c *Config) MinFeedCheckInterval() time.Duration {
	return time.Duration(c.MinSecsBetwFeedChecks) * time.Second
}

// RiverCacheTTL is how long a built river stays fresh.
func (c *Config) RiverCacheTTL() time.Duration {
	return time.Duration(c.CtSecsLifeRiverCache) * time.Second
}

// TickInterval is the delay between two scheduler ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// FetchTimeout bounds a single feed fetch.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}
