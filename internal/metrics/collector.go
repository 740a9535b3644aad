package metrics

import (
	"net/http"
	"time"

	"tunesync/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes sync counters to Prometheus and feeds the
// progress tracker.
type Collector struct {
	itemsTotal *prometheus.CounterVec
	bytesTotal prometheus.Counter
	duration   prometheus.Histogram
	tracker    *progress.Tracker
}

// New creates a collector with its own registry, so repeated runs in
// one process never collide on registration.
func New() *Collector {
	c := &Collector{
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_items_total",
				Help: "Total number of items processed, by status",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_bytes_total",
				Help: "Total bytes written to the target",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sync_item_duration_seconds",
				Help:    "Time taken to fetch one item",
				Buckets: prometheus.DefBuckets,
			},
		),
		tracker: progress.NewTracker(),
	}
	return c
}

// Registry builds a registry holding this collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c.itemsTotal, c.bytesTotal, c.duration)
	return reg
}

// IncFetched records a successful download of the given size.
func (c *Collector) IncFetched(bytes int64) {
	c.itemsTotal.WithLabelValues("fetched").Inc()
	c.bytesTotal.Add(float64(bytes))
	c.tracker.AddFetched(bytes)
}

// IncSkipped records an item already intact on the target.
func (c *Collector) IncSkipped(bytes int64) {
	c.itemsTotal.WithLabelValues("skipped").Inc()
	c.tracker.AddSkipped(bytes)
}

// IncFailed records a failed item.
func (c *Collector) IncFailed() {
	c.itemsTotal.WithLabelValues("failed").Inc()
	c.tracker.AddFailed()
}

// ObserveDuration records how long one fetch took.
func (c *Collector) ObserveDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// SetTotals primes the progress tracker with plan totals.
func (c *Collector) SetTotals(items, bytes int64) {
	c.tracker.SetTotal(items, bytes)
}

// ProgressTracker returns the tracker fed by this collector.
func (c *Collector) ProgressTracker() *progress.Tracker {
	return c.tracker
}

// StartServer serves /metrics on addr. Blocks; run in a goroutine.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
