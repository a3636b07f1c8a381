// Package memory sizes the Go memory limit for a container and holds back
// new jobs while the heap is close to it.
//
// # Memory Limit
//
// Call [ConfigureFromEnv] early in main. The environment variables are:
//
//   - GOMEMLIMIT: Standard Go variable; when set it takes precedence.
//   - MEMORY_LIMIT: Container memory limit in bytes, typically from the
//     Kubernetes Downward API (resourceFieldRef limits.memory).
//   - MEMORY_RATIO: Share of MEMORY_LIMIT given to the Go heap (default 0.5).
//     External tools run in the same cgroup, so the rest is left for them.
//
// # Admission Gate
//
// A [Gate] samples the heap every few seconds. When it crosses PauseAt of
// the limit, [Gate.Wait] blocks until it falls below ResumeAt again. The job
// pipeline calls Wait before starting each job, so queued jobs stay queued
// under pressure while running ones finish.
package memory
