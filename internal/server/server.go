// Package server wires the HTTP API of the river service.
package server

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/river/internal/models"
	"reddot-watch/river/internal/river"
	"reddot-watch/river/internal/server/api"
	"reddot-watch/river/internal/storage"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// FeedLister lists every known feed for the CSV export.
type FeedLister interface {
	ListFeeds(ctx context.Context) ([]models.Feed, error)
}

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	DB            Pinger
	Items         api.ItemReader
	Subscriptions *storage.SubscriptionStore
	Likes         api.LikeToggler
	Rivers        *river.Cache
	Gatherer      prometheus.Gatherer
	MaxRiverItems int
}

// apiKeyMiddleware checks for the X-API-Key header and validates it against the provided key.
// If key is empty, it allows all requests.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqApiKey := r.Header.Get("X-API-Key")
			if reqApiKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if reqApiKey != apiKey {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler builds the router with its logging middleware. Everything
// except /health requires apiKey when one is set.
func NewHandler(deps Deps, logger zerolog.Logger, apiKey string) http.Handler {
	logger = logger.With().Str("service", "river-api").Logger()

	itemsHandler := api.NewItemsHandler(deps.Items, deps.Likes, deps.Rivers)
	riverHandler := api.NewRiverHandler(deps.Rivers)
	feedsHandler := api.NewFeedsHandler(deps.Subscriptions, deps.Items, deps.MaxRiverItems)
	subsHandler := api.NewSubscriptionsHandler(deps.Subscriptions, deps.Rivers)

	r := chi.NewRouter()
	r.Use(
		hlog.NewHandler(logger),
		hlog.MethodHandler("method"),
		hlog.URLHandler("url"),
		hlog.RemoteAddrHandler("remote_addr"),
		hlog.UserAgentHandler("user_agent"),
		hlog.RequestIDHandler("req_id", "Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			idReq, _ := hlog.IDFromRequest(r)

			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Str("req_id", idReq.String()).
				Msg("HTTP Request")
		}),
		middleware.Recoverer,
	)

	r.Get("/health", healthCheckHandler(deps.DB))

	r.Group(func(r chi.Router) {
		if apiKey != "" {
			r.Use(apiKeyMiddleware(apiKey))
			logger.Info().Msg("API key authentication enabled")
		} else {
			logger.Info().Msg("API key authentication disabled")
		}

		if deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}

		r.Route("/v1", func(r chi.Router) {
			r.Get("/river", riverHandler.GetRiver)
			r.Get("/river/stats", riverStatsHandler(deps.Rivers))

			r.Get("/items", itemsHandler.GetItems)
			r.Get("/items/{id}", itemsHandler.GetItem)
			r.Post("/items/{id}/like", itemsHandler.ToggleLike)
			r.Get("/likes", itemsHandler.GetLikes)

			r.Get("/feed", feedsHandler.GetFeed)
			r.Get("/feed-items", feedsHandler.GetFeedItems)
			r.Get("/feeds", exportFeedsHandler(deps.Subscriptions))

			r.Get("/subscriptions", subsHandler.List)
			r.Post("/subscriptions", subsHandler.Subscribe)
			r.Delete("/subscriptions", subsHandler.Unsubscribe)
		})
	})

	return r
}

// RunServer serves handler on listenAddr until ctx is done, then shuts down
// gracefully.
func RunServer(ctx context.Context, handler http.Handler, listenAddr string, logger zerolog.Logger) error {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err

	case <-ctx.Done():
		logger.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler answers 200 OK while the database is reachable.
func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check database ping failed")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}

func riverStatsHandler(rivers *river.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rivers.Stats()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Error writing river stats")
		}
	}
}

// exportFeedsHandler returns a handler function that exports all feeds as a CSV file
func exportFeedsHandler(feeds FeedLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Export feeds request received")

		rows, err := feeds.ListFeeds(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to query feeds")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=feeds.csv")

		csvWriter := csv.NewWriter(w)

		header := []string{"url", "title", "html_url", "last_success_at", "consecutive_failures", "ct_items"}
		if err := csvWriter.Write(header); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV header")
			http.Error(w, "Error generating CSV", http.StatusInternalServerError)
			return
		}

		for _, feed := range rows {
			record := []string{
				feed.URL,
				nullStringValue(feed.Title),
				nullStringValue(feed.HTMLURL),
				nullTimeValue(feed.LastSuccessAt),
				strconv.Itoa(feed.ConsecutiveFailures),
				strconv.FormatInt(feed.CtItems, 10),
			}
			if err := csvWriter.Write(record); err != nil {
				log.Error().Err(err).Msg("Failed to write CSV record")
				return
			}
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Error().Err(err).Msg("Error flushing CSV data")
			return
		}

		log.Info().Int("feed_count", len(rows)).Msg("Exported feeds as CSV")
	}
}

// nullStringValue returns the string value of a sql.NullString or an empty string if not valid
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTimeValue(nt sql.NullTime) string {
	if nt.Valid {
		return nt.Time.UTC().Format(time.RFC3339)
	}
	return ""
}
