package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_http_rate_limited_total",
			Help: "Total number of submissions rejected by the per-client rate limit",
		},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Job metrics
var (
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_jobs_submitted_total",
			Help: "Total number of jobs accepted, by pipeline and operation",
		},
		[]string{"pipeline", "operation"},
	)

	JobsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_jobs_rejected_total",
			Help: "Total number of submissions rejected with invalid parameters",
		},
		[]string{"pipeline"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"pipeline", "status"}, // status: "succeeded" or a failure kind
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_job_duration_seconds",
			Help:    "Wall time of a job from start to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"pipeline"},
	)

	JobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_jobs_in_progress",
			Help: "Number of jobs currently running",
		},
		[]string{"pipeline"},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_jobs_queued",
			Help: "Number of accepted jobs waiting for a free worker",
		},
	)

	ArtifactMegabytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_artifact_megabytes_total",
			Help: "Total megabytes of finalized artifacts",
		},
		[]string{"pipeline"},
	)

	DownloadsToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_downloads_today",
			Help: "Number of successful downloads since local midnight",
		},
	)

	ProgressBytesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_progress_bytes_appended_total",
			Help: "Total bytes appended to progress records",
		},
	)
)

// Output lifecycle and quota metrics
var (
	SlotEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_slot_evictions_total",
			Help: "Total number of previous artifacts evicted from an output slot",
		},
		[]string{"pipeline", "status"},
	)

	ArtifactsExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_artifacts_expired_total",
			Help: "Total number of artifacts removed by the retention sweep",
		},
		[]string{"pipeline"},
	)

	RenameConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_rename_conflicts_total",
			Help: "Total number of finalize renames that fell back to the working name",
		},
		[]string{"pipeline"},
	)

	QuotaPurgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_quota_purges_total",
			Help: "Total number of purges run by quota enforcement",
		},
		[]string{"directory", "reason"}, // reason: "scratch" or "ceiling"
	)

	QuotaPurgeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_quota_purge_failures_total",
			Help: "Total number of files a purge could not delete",
		},
		[]string{"directory"},
	)

	DirectorySizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_directory_size_bytes",
			Help: "Current size of managed directories in bytes",
		},
		[]string{"directory"},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_filesystem_operation_duration_seconds",
			Help:    "Duration of filesystem operations",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"directory", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_filesystem_operation_errors_total",
			Help: "Total number of failed filesystem operations",
		},
		[]string{"directory", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_filesystem_retry_attempts_total",
			Help: "Total number of retries of transient filesystem errors",
		},
		[]string{"operation", "directory"},
	)

	FilesystemFreedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_filesystem_freed_bytes_total",
			Help: "Total bytes released by purges",
		},
		[]string{"directory"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_converter_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_converter_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	UsageClientsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_usage_clients",
			Help: "Number of distinct client addresses in the usage ledger",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_memory_usage_ratio",
			Help: "Go heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_converter_memory_paused",
			Help: "Whether job admission is paused for memory pressure (1 = paused)",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_converter_memory_pauses_total",
			Help: "Total number of times job admission was paused for memory pressure",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_converter_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
