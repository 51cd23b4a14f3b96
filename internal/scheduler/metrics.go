package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	ticks               *prometheus.CounterVec
	checks              *prometheus.CounterVec
	itemsUpserted       prometheus.Counter
	itemsFailed         prometheus.Counter
	consecutiveFailures *prometheus.GaugeVec
	refreshDuration     prometheus.Histogram
}

// newMetrics registers the scheduler collectors on reg. A nil reg keeps
// them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "river_scheduler_ticks_total",
			Help: "Scheduler ticks, by whether a refresh was dispatched",
		}, []string{"dispatched"}),
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "river_feed_checks_total",
			Help: "Feed checks, by outcome",
		}, []string{"outcome"}),
		itemsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "river_items_upserted_total",
			Help: "Items written to the item store",
		}),
		itemsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "river_items_failed_total",
			Help: "Items the item store rejected",
		}),
		consecutiveFailures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "river_feed_consecutive_failures",
			Help: "Current failure streak per feed",
		}, []string{"feed_url"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "river_feed_refresh_duration_seconds",
			Help:    "Duration of one feed refresh",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
