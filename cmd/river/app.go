package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"reddot-watch/river/internal/config"
	"reddot-watch/river/internal/database"
	"reddot-watch/river/internal/fetch"
	importsubs "reddot-watch/river/internal/import"
	"reddot-watch/river/internal/likes"
	"reddot-watch/river/internal/river"
	"reddot-watch/river/internal/scheduler"
	"reddot-watch/river/internal/server"
	"reddot-watch/river/internal/storage"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "river",
		Usage: "Aggregate subscribed feeds into per-subscriber rivers",
		Description: `Polls the feeds subscribers follow, stores their items in SQLite
		and serves the merged, newest-first river of each subscriber over HTTP.

		Settings come from defaults, an optional TOML file, RIVER_* environment
		variables and finally the flags below, e.g.:

		--db => RIVER_DB_PATH=river.db
		--port => RIVER_PORT=8080
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "SQLite database file location",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Commands: []*cli.Command{
			importCmd(),
			serveCmd(),
			refreshCmd(),
			purgeCmd(),
			migrateCmd(),
		},
	}
}

// loadConfig layers the global flags over config.Load.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("log-level") {
		level, err := zerolog.ParseLevel(c.String("log-level"))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.String("log-level"), err)
		}
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	return cfg, nil
}

func openDB(cfg *config.Config) (*database.DB, error) {
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import subscriptions from a CSV file",
		Description: `Reads a CSV file with subscriber, url and optional categories
		columns and subscribes every row. Existing subscriptions are updated.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Path to the subscriptions CSV file",
			},
			&cli.BoolFlag{
				Name:  "fresh",
				Usage: "Delete the database before importing",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("csv") {
				cfg.SubscriptionsCSVPath = c.String("csv")
			}
			if c.Bool("fresh") {
				if err := database.DeleteDB(cfg.DBPath); err != nil {
					return fmt.Errorf("failed to delete existing database: %w", err)
				}
				log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signalContext(c.Context)
			defer stop()

			importer := importsubs.NewImporter(storage.NewSubscriptionStore(db), cfg.SubscriptionsCSVURL)
			summary, err := importer.Import(ctx, cfg.SubscriptionsCSVPath)
			if err != nil {
				return err
			}

			fmt.Printf("Imported %d subscriptions successfully\n", summary.Imported)
			if len(summary.Errors) > 0 {
				fmt.Printf("Encountered %d errors:\n", len(summary.Errors))
				for _, e := range summary.Errors {
					fmt.Printf("  - %s\n", e)
				}
			}
			return nil
		},
	}
}

// app bundles the long-lived components every command shares.
type app struct {
	cfg       *config.Config
	db        *database.DB
	items     *storage.ItemStore
	subs      *storage.SubscriptionStore
	rivers    *river.Cache
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
}

func newFetcher(cfg *config.Config) scheduler.Fetcher {
	switch cfg.Fetcher {
	case config.FetcherFeedfetcher:
		return fetch.NewReddotFetcher(fetch.ReddotConfig{
			UserAgent:      cfg.UserAgent,
			RequestTimeout: cfg.FetchTimeout(),
		})
	default:
		return fetch.NewGofeedFetcher(fetch.GofeedConfig{
			UserAgent:      cfg.UserAgent,
			RequestTimeout: cfg.FetchTimeout(),
			HostInterval:   time.Second,
			HostBurst:      2,
		})
	}
}

func buildApp(cfg *config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	items := storage.NewItemStore(db)
	subs := storage.NewSubscriptionStore(db)
	rivers := river.NewCache(
		river.NewStoreBuilder(items, subs, cfg.MaxRiverItems),
		river.Options{Enabled: cfg.FlUseRiverCache, TTL: cfg.RiverCacheTTL()},
		reg,
	)

	sched, err := scheduler.New(scheduler.Config{
		MinCheckInterval: cfg.MinFeedCheckInterval(),
		TickInterval:     cfg.TickInterval(),
		Workers:          cfg.RefreshWorkers,
		FetchTimeout:     cfg.FetchTimeout(),
	}, newFetcher(cfg), items, subs, rivers, nil, reg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	return &app{
		cfg:       cfg,
		db:        db,
		items:     items,
		subs:      subs,
		rivers:    rivers,
		scheduler: sched,
		registry:  reg,
	}, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve rivers over HTTP and refresh feeds in the background",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to bind the server to",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
			},
			&cli.BoolFlag{
				Name:  "no-refresh",
				Usage: "Serve only, do not refresh feeds in the background",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("host") {
				cfg.ServerHost = c.String("host")
			}
			if c.IsSet("port") {
				cfg.ServerPort = c.Int("port")
			}
			if c.Bool("no-refresh") {
				cfg.FlUpdateFeedsInBackground = false
			}

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, stop := signalContext(c.Context)
			defer stop()

			handler := server.NewHandler(server.Deps{
				DB:            a.db,
				Items:         a.items,
				Subscriptions: a.subs,
				Likes:         likes.NewCoordinator(a.items, likes.DefaultOptions()),
				Rivers:        a.rivers,
				Gatherer:      a.registry,
				MaxRiverItems: cfg.MaxRiverItems,
			}, log.Logger, cfg.APIKey)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.RunServer(ctx, handler, cfg.ListenAddr(), log.Logger)
			})
			if cfg.FlUpdateFeedsInBackground {
				g.Go(func() error {
					err := a.scheduler.Run(ctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			} else {
				log.Info().Msg("Background feed refresh disabled")
			}

			err = g.Wait()
			log.Info().Interface("stats", a.scheduler.Stats()).Msg("Shut down")
			return err
		},
	}
}

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Check every subscribed feed once and exit",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, stop := signalContext(c.Context)
			defer stop()

			startTime := time.Now()
			if err := a.scheduler.RefreshAll(ctx); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}

			stats := a.scheduler.Stats()
			log.Info().
				Dur("duration", time.Since(startTime)).
				Int64("successes", stats.Successes).
				Int64("failures", stats.Failures).
				Int64("items_upserted", stats.ItemsUpserted).
				Msg("Refresh finished")
			return nil
		},
	}
}

func purgeCmd() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete unliked items older than the retention period",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "retention",
				Usage: "Number of days to retain items",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("retention") {
				cfg.RetentionDays = c.Int("retention")
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.db.Close()

			ctx, cancel := context.WithTimeout(c.Context, 5*time.Minute)
			defer cancel()

			purged, err := a.scheduler.Purge(ctx, cfg.RetentionDays)
			if err != nil {
				return fmt.Errorf("failed to purge old items: %w", err)
			}
			if purged > 0 {
				log.Info().Int64("purged_count", purged).Msg("Successfully purged old items")
			} else {
				log.Info().Msg("No old items needed purging")
			}
			return nil
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Applies pending migrations, creating the database if it does not exist. With --rollback N, the newest N migrations are then undone.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "rollback",
				Usage: "Number of migrations to roll back",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if n := c.Int("rollback"); n > 0 {
				reverted, err := db.Rollback(c.Context, n)
				if err != nil {
					return fmt.Errorf("rollback failed after %d step(s): %w", reverted, err)
				}
				log.Info().Int("steps", reverted).Msg("Rolled back migrations")
			}

			versions, err := db.SchemaVersions(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Applied migrations: %v\n", versions)
			return nil
		},
	}
}
