package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride names the environment variable that overrides every count.
const EnvOverride = "MAX_JOBS"

// jobsLimit caps the automatic job concurrency. Each ffmpeg process is
// multi-threaded on its own.
const jobsLimit = 8

// Count returns the number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//   - 0.5 for external processes that use several cores each
//
// The limit parameter caps the worker count. Use 0 for no limit.
//
// Can be overridden with the MAX_JOBS environment variable.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(EnvOverride); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	// GOMAXPROCS is automatically set to container CPU limit in Go 1.19+
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForJobs returns how many jobs may run at once. A positive configured
// value wins; otherwise one job per two CPUs, at most eight.
func ForJobs(configured int) int {
	if configured > 0 {
		return configured
	}
	return Count(0.5, jobsLimit)
}
