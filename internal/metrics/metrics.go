package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingStats tracks routing computation counters. All methods are safe for
// concurrent use.
type RoutingStats struct {
	attempts      atomic.Int64
	notFound      atomic.Int64
	depthFailures atomic.Int64
	prunedCycles  atomic.Int64
	failures      atomic.Int64
}

// RecordAttempt counts one routing computation request.
func (s *RoutingStats) RecordAttempt() { s.attempts.Add(1) }

// RecordNotFound counts one attempt rejected because caller or called party
// was unknown.
func (s *RoutingStats) RecordNotFound() { s.notFound.Add(1) }

// RecordDepthFailure counts one attempt rejected by the discovery depth bound.
func (s *RoutingStats) RecordDepthFailure() { s.depthFailures.Add(1) }

// RecordPruned counts one attempt in which discovery neutralized a cycle.
func (s *RoutingStats) RecordPruned() { s.prunedCycles.Add(1) }

// RecordFailure counts one attempt that failed for any other reason.
func (s *RoutingStats) RecordFailure() { s.failures.Add(1) }

// CacheCounter returns the number of persisted deferred routes.
type CacheCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers hiveroute metrics at
// scrape time.
type Collector struct {
	stats     *RoutingStats
	cache     CacheCounter
	startTime time.Time

	attemptsDesc      *prometheus.Desc
	notFoundDesc      *prometheus.Desc
	depthFailuresDesc *prometheus.Desc
	prunedDesc        *prometheus.Desc
	failuresDesc      *prometheus.Desc
	cacheEntriesDesc  *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a metrics collector. cache may be nil if unavailable.
func NewCollector(stats *RoutingStats, cache CacheCounter, startTime time.Time) *Collector {
	return &Collector{
		stats:     stats,
		cache:     cache,
		startTime: startTime,

		attemptsDesc: prometheus.NewDesc(
			"hiveroute_routing_attempts_total",
			"Total routing computations requested.",
			nil, nil),
		notFoundDesc: prometheus.NewDesc(
			"hiveroute_routing_not_found_total",
			"Routing attempts rejected because an extension was unknown.",
			nil, nil),
		depthFailuresDesc: prometheus.NewDesc(
			"hiveroute_routing_depth_failures_total",
			"Routing attempts rejected by the discovery depth bound.",
			nil, nil),
		prunedDesc: prometheus.NewDesc(
			"hiveroute_routing_pruned_total",
			"Routing attempts in which discovery neutralized a cycle.",
			nil, nil),
		failuresDesc: prometheus.NewDesc(
			"hiveroute_routing_failures_total",
			"Routing attempts that failed for other reasons.",
			nil, nil),
		cacheEntriesDesc: prometheus.NewDesc(
			"hiveroute_route_cache_entries",
			"Unexpired deferred routes currently persisted.",
			nil, nil),
		uptimeDesc: prometheus.NewDesc(
			"hiveroute_uptime_seconds",
			"Seconds since the daemon started.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attemptsDesc
	ch <- c.notFoundDesc
	ch <- c.depthFailuresDesc
	ch <- c.prunedDesc
	ch <- c.failuresDesc
	ch <- c.cacheEntriesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.attemptsDesc, prometheus.CounterValue,
		float64(c.stats.attempts.Load()))
	ch <- prometheus.MustNewConstMetric(c.notFoundDesc, prometheus.CounterValue,
		float64(c.stats.notFound.Load()))
	ch <- prometheus.MustNewConstMetric(c.depthFailuresDesc, prometheus.CounterValue,
		float64(c.stats.depthFailures.Load()))
	ch <- prometheus.MustNewConstMetric(c.prunedDesc, prometheus.CounterValue,
		float64(c.stats.prunedCycles.Load()))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue,
		float64(c.stats.failures.Load()))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds())

	if c.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		count, err := c.cache.Count(ctx)
		if err != nil {
			slog.Error("failed to count route cache entries for metrics", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.cacheEntriesDesc, prometheus.GaugeValue,
				float64(count))
		}
	}
}

var _ prometheus.Collector = (*Collector)(nil)
