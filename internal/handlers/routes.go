package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-converter/internal/output"
)

// RegisterRoutes adds every endpoint to r and returns the API subrouter so
// callers can attach API-only middleware. submit wraps only the endpoints
// that create jobs.
func (h *Handlers) RegisterRoutes(r *mux.Router, submit ...mux.MiddlewareFunc) *mux.Router {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	submissions := api.NewRoute().Subrouter()
	submissions.Use(submit...)
	submissions.HandleFunc("/tokens", h.RequestToken).Methods("POST")
	submissions.HandleFunc("/yt", h.SubmitDownload).Methods("POST")
	submissions.HandleFunc("/convert", h.SubmitConversion).Methods("POST")

	api.HandleFunc("/progress/{token}", h.GetProgress).Methods("GET")
	api.HandleFunc("/jobs/{token}", h.GetJobStatus).Methods("GET")
	api.HandleFunc("/jobs/{token}/result", h.GetJobResult).Methods("GET")
	api.HandleFunc("/usage", h.GetUsage).Methods("GET")

	r.Handle("/downloads/{token}/{name}", h.FetchArtifact(output.PipelineDownload)).Methods("GET", "HEAD")
	r.Handle("/conversions/{token}/{name}", h.FetchArtifact(output.PipelineConversion)).Methods("GET", "HEAD")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, "not found", http.StatusNotFound)
	})
	return api
}
