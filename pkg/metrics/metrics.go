package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scraper metrics
	ScrapeRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rscount_scrape_runs_total",
		Help: "The total number of collection runs attempted",
	})
	ScrapeFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rscount_scrape_fetch_errors_total",
		Help: "The total number of failed fetches, by source",
	}, []string{"source"})
	ScrapeWorldRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rscount_scrape_world_rows_total",
		Help: "The total number of per-world rows collected",
	})

	// Ingest metrics
	IngestRunsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rscount_ingest_runs_written_total",
		Help: "The total number of collection runs written to PostgreSQL",
	})
	IngestWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rscount_ingest_write_errors_total",
		Help: "The total number of errors occurred during PostgreSQL writes",
	})
	IngestSpooledRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rscount_ingest_spooled_runs_total",
		Help: "The total number of runs spooled after a failed write",
	})
	IngestDroppedRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rscount_ingest_dropped_runs_total",
		Help: "The total number of runs dropped because the spool was full",
	})
	IngestWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rscount_ingest_write_latency_seconds",
		Help:    "Latency of collection-run writes to PostgreSQL",
		Buckets: prometheus.DefBuckets,
	})

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rscount_api_requests_total",
		Help: "The total number of API requests, by endpoint and status",
	}, []string{"endpoint", "status"})
	APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rscount_api_request_latency_seconds",
		Help:    "Latency of API requests, by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
