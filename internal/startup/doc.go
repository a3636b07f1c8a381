// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is read from environment variables with caarlos0/env via
// [ParseConfig]; [LoadConfig] additionally logs every value and prepares the
// working directories. Supported variables:
//
//   - DATA_DIR: Root of all working directories (default: /data)
//   - UPLOAD_DIR, CONVERSION_DIR, DOWNLOAD_DIR, SCRATCH_DIR, PROGRESS_DIR,
//     LOG_DIR, DATABASE_DIR: Override single directories (default: under DATA_DIR)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - FFMPEG_PATH, YTDLP_PATH: External tool binaries (default: ffmpeg, yt-dlp)
//   - JOB_TIMEOUT: Maximum run time of one job (default: 30m)
//   - MAX_JOBS: Concurrent jobs, 0 sizes the pool from the CPU count (default: 0)
//   - UPLOAD_QUOTA_BYTES, DOWNLOAD_QUOTA_BYTES: Staging ceilings (default: 1e9)
//   - MAX_UPLOAD_SIZE: Largest accepted upload in bytes (default: 5e9)
//   - PROGRESS_RETENTION: Age after which finished jobs, their progress
//     records and their artifacts are swept (default: 24h)
//   - SUBMIT_RATE, SUBMIT_BURST: Per-client submission rate in requests per
//     second and its burst, 0 rate disables limiting (default: 1, 10)
//   - TRUSTED_PROXIES: Comma-separated addresses or networks whose
//     X-Real-IP and X-Forwarded-For headers are believed (default: none)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_STATIC_FILES: Log artifact download requests (default: false)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
