/*
Package workers sizes the job pool in containerized environments.

When running in a container the number of usable CPUs may be limited by
cgroup constraints. Go 1.19+ sets GOMAXPROCS from that limit, while
runtime.NumCPU() still reports the host's CPU count, so the helpers here base
their counts on GOMAXPROCS.

# Usage

	// Concurrent conversion and download jobs
	limit := workers.ForJobs(cfg.MaxJobs)

	// CPU-bound and I/O-bound helpers
	n := workers.ForCPU(8)
	n = workers.ForIO(16)

# Environment Variable Override

MAX_JOBS overrides the automatic calculation:

	env:
	- name: MAX_JOBS
	  value: "4"

Each job runs one external process that is itself multi-threaded, so the
automatic job count is one per two CPUs, capped at eight.
*/
package workers
