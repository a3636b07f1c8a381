// Package metrics declares the Prometheus metrics exported by the media
// converter and the helpers that feed them.
//
// Metrics are registered at package init via promauto and exposed by mounting
// promhttp.Handler() on the metrics server. InitializeMetrics pre-creates the
// label combinations so dashboards see zero values before the first job.
//
// Groups:
//   - HTTP: request counts, durations and in-flight requests
//   - Jobs: submissions, rejections, terminal states, durations, queue depth
//   - Output lifecycle: slot evictions, rename fallbacks, artifact megabytes
//   - Quota: purges, purge failures, managed directory sizes
//   - Filesystem: operation latency and errors via the filesystem.Observer
//   - Database: query counts and latency for the usage ledger and job records
//
// The Collector samples values that are expensive to compute on every
// request (directory sizes, ledger size) on a fixed interval.
package metrics
