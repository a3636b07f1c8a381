package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"media-converter/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Pipeline info
	ActiveJobs          int    `json:"activeJobs"`
	FFmpegAvailable     bool   `json:"ffmpegAvailable"`
	DownloaderAvailable bool   `json:"downloaderAvailable"`
	DatabaseError       string `json:"databaseError,omitempty"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// pingDatabase returns the usage ledger's ping error, if any.
func (h *Handlers) pingDatabase(ctx context.Context) error {
	if h.usage == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.usage.Ping(ctx)
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()

	response := HealthResponse{
		Ready:               ready,
		Version:             startup.Version,
		Uptime:              time.Since(h.startTime).Round(time.Second).String(),
		ActiveJobs:          h.pipeline.Active(),
		FFmpegAvailable:     h.cfg.FFmpegAvailable,
		DownloaderAvailable: h.cfg.DownloaderAvailable,
		GoVersion:           runtime.Version(),
		NumCPU:              runtime.NumCPU(),
		NumGoroutine:        runtime.NumGoroutine(),
	}

	switch {
	case !ready:
		response.Status = statusStarting
	default:
		response.Status = statusHealthy
	}

	if err := h.pingDatabase(r.Context()); err != nil {
		response.DatabaseError = err.Error()
		response.Status = statusDegraded
	}
	if ready && (!h.cfg.FFmpegAvailable || !h.cfg.DownloaderAvailable) {
		response.Status = statusDegraded
	}

	// Return 503 only if not ready at all
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, response)
}

// LivenessCheck is a simple liveness check (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the service is ready to accept jobs
// and its database answers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() && h.pingDatabase(r.Context()) == nil {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
