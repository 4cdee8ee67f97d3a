package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QidCacheBytes tracks the aggregate size of cached query contexts.
	QidCacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "occsearch",
		Name:      "qid_cache_bytes",
		Help:      "Aggregate size of in-memory query contexts in bytes",
	})

	// QidCacheEntries tracks the number of cached query contexts.
	QidCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "occsearch",
		Name:      "qid_cache_entries",
		Help:      "Number of in-memory query contexts",
	})

	// QidEvictions counts query contexts dropped by the cache cleaner.
	QidEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "occsearch",
		Name:      "qid_evictions_total",
		Help:      "Total query contexts evicted from the cache",
	})

	// IndexRetries counts transient index failures that were retried.
	IndexRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "occsearch",
		Name:      "index_retries_total",
		Help:      "Total retried index requests",
	})

	// ExportRows counts rows written by export jobs.
	ExportRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "occsearch",
		Name:      "export_rows_total",
		Help:      "Total rows written by bulk exports",
	})

	// ExportJobDuration observes wall time per completed export job.
	ExportJobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "occsearch",
		Name:      "export_job_duration_seconds",
		Help:      "Bulk export job duration in seconds",
		Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	})
)

func init() {
	prometheus.MustRegister(
		QidCacheBytes,
		QidCacheEntries,
		QidEvictions,
		IndexRetries,
		ExportRows,
		ExportJobDuration,
	)
}
