package metrics

// Pipelines and directories used as label values.
var (
	Pipelines   = []string{"download", "conversion"}
	Directories = []string{"uploads", "conversions", "downloads", "scratch", "progress", "unknown"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	statuses := []string{"succeeded", "external_tool", "timeout", "canceled", "artifact_not_found", "internal"}

	for _, p := range Pipelines {
		JobsRejectedTotal.WithLabelValues(p)
		JobDuration.WithLabelValues(p)
		JobsInProgress.WithLabelValues(p)
		ArtifactMegabytesTotal.WithLabelValues(p)
		RenameConflictsTotal.WithLabelValues(p)
		ArtifactsExpiredTotal.WithLabelValues(p)
		SlotEvictionsTotal.WithLabelValues(p, "success")
		SlotEvictionsTotal.WithLabelValues(p, "error")
		for _, s := range statuses {
			JobsCompletedTotal.WithLabelValues(p, s)
		}
	}

	fsOps := []string{"stat", "remove", "size", "purge", "locate"}
	for _, dir := range Directories {
		DirectorySizeBytes.WithLabelValues(dir)
		QuotaPurgeFailuresTotal.WithLabelValues(dir)
		QuotaPurgesTotal.WithLabelValues(dir, "scratch")
		QuotaPurgesTotal.WithLabelValues(dir, "ceiling")
		FilesystemFreedBytes.WithLabelValues(dir)
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(dir, op)
			FilesystemOperationErrors.WithLabelValues(dir, op)
		}
		FilesystemRetryAttempts.WithLabelValues("stat", dir)
		FilesystemRetryAttempts.WithLabelValues("remove", dir)
	}

	for _, op := range []string{"initialize_schema", "record_usage", "get_usage", "list_usage",
		"create_job", "finish_job", "get_job", "list_jobs", "live_tokens", "prune_jobs", "count_usage"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
}
