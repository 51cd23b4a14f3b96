package config

// Constants defining default values for application configuration
const (
	DefaultSubscriptionsCSVPath = "./subscriptions.csv"
	DefaultDBPath               = "./river.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultMaxRiverItems             = 175
	DefaultMinSecsBetwFeedChecks     = 15
	DefaultCtSecsLifeRiverCache      = 300
	DefaultFlUpdateFeedsInBackground = true
	DefaultFlUseRiverCache           = true

	DefaultTickIntervalMS   = 1000
	DefaultRefreshWorkers   = 4
	DefaultFetchTimeoutSecs = 30
	DefaultRetentionDays    = 30 // Days to keep unliked items before purging

	FetcherGofeed      = "gofeed"
	FetcherFeedfetcher = "feedfetcher"
	DefaultFetcher     = FetcherGofeed

	DefaultUserAgent = "RiverAggregator/1.0"
	DefaultLogLevel  = "debug"

	EnvPrefix = "RIVER_"
)
