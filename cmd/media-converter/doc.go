// Package main provides the entry point for the media converter server.
//
// The server accepts conversion jobs (an uploaded file run through FFmpeg)
// and download jobs (a remote link fetched with yt-dlp), runs them on a
// bounded worker pool and serves the finished artifacts.
//
// # Application Lifecycle
//
//  1. Configuration Loading: Reads environment variables and prepares directories
//  2. Tool Check: Verifies that ffmpeg and yt-dlp can be executed
//  3. Database Initialization: Opens the SQLite usage ledger and job records,
//     failing any job left running by a previous process
//  4. Component Initialization:
//     - Progress channel: one append-only record per job token
//     - Output manager: finalizes artifacts and tracks per-session slots
//     - Quota enforcer: keeps staging directories under their ceilings
//     - Runner: starts and supervises external tool processes
//     - Job pipeline: validates, queues and executes jobs
//  5. HTTP Server Setup: Configures routes and middleware and starts the server
//  6. Graceful Shutdown: Handles SIGINT/SIGTERM and drains the job pool
//
// # Background Services
//
//   - Job pool: executes queued jobs
//   - Sweeper: removes finished jobs, progress records and job rows older
//     than PROGRESS_RETENTION
//   - Metrics Collector: Updates directory size and usage gauges every minute
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default port 8080):
//     - Job submission, progress, status and result endpoints under /api
//     - Artifact downloads under /downloads and /conversions
//     - Health, readiness and version endpoints
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//     - Health check endpoint (/health)
//
// # Environment Variables
//
//   - DATA_DIR: Root of all working directories (default: /data)
//   - UPLOAD_DIR, CONVERSION_DIR, DOWNLOAD_DIR, SCRATCH_DIR, PROGRESS_DIR,
//     LOG_DIR, DATABASE_DIR: Per-directory overrides
//   - PORT: Main HTTP server port (default: 8080)
//   - METRICS_PORT: Metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable metrics server (default: true)
//   - FFMPEG_PATH, YTDLP_PATH: External tool binaries
//   - JOB_TIMEOUT: Maximum run time of one job (default: 30m)
//   - MAX_JOBS: Concurrent jobs, 0 sizes the pool from the CPU count
//   - UPLOAD_QUOTA_BYTES, DOWNLOAD_QUOTA_BYTES: Staging directory ceilings
//   - MAX_UPLOAD_SIZE: Largest accepted upload in bytes
//   - PROGRESS_RETENTION: Age after which finished jobs are swept (default: 24h)
//   - LOG_LEVEL: Logging level (debug/info/warn/error)
//
// # Graceful Shutdown
//
//  1. Stop accepting new HTTP requests
//  2. Cancel running jobs and wait for their terminal state
//  3. Kill external tools still running after the timeout
//  4. Stop metrics collector and metrics server
//  5. Close database connections
package main
