package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Index metrics
	IndexCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_index_commits_total",
			Help: "Total number of index commits by document class",
		},
		[]string{"document"},
	)

	IndexFindRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_index_find_retries_total",
			Help: "Total number of reopen-and-retry attempts on failing finds",
		},
		[]string{"document"},
	)

	WriteQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "node_index_write_queue_depth",
			Help: "Number of index operations waiting for the writer",
		},
	)

	// Document metrics
	DocumentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_documents_created_total",
			Help: "Total number of documents created by class",
		},
		[]string{"document"},
	)

	DocumentsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_documents_deleted_total",
			Help: "Total number of documents deleted by class",
		},
		[]string{"document"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "node_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Sync metrics
	SyncPacketsIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_sync_packets_in_total",
			Help: "Total number of ingested sync packets by kind",
		},
		[]string{"kind"},
	)

	SyncPacketsOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_sync_packets_out_total",
			Help: "Total number of produced sync packets by kind",
		},
		[]string{"kind"},
	)

	PullCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "node_sync_pull_cache_entries",
			Help: "Number of cached pull packets",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(IndexCommits)
	prometheus.MustRegister(IndexFindRetries)
	prometheus.MustRegister(WriteQueueDepth)
	prometheus.MustRegister(DocumentsCreated)
	prometheus.MustRegister(DocumentsDeleted)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SyncPacketsIn)
	prometheus.MustRegister(SyncPacketsOut)
	prometheus.MustRegister(PullCacheSize)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}
