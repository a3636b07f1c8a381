package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"media-converter/internal/jobs"
	"media-converter/internal/logging"
)

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Status, bool) {
	tok := mux.Vars(r)["token"]
	st, err := h.pipeline.Status(r.Context(), tok)
	if errors.Is(err, jobs.ErrUnknownJob) {
		writeJSONError(w, "unknown job", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logging.Error("failed to load job %s: %v", tok, err)
		writeJSONError(w, "failed to load job", http.StatusInternalServerError)
		return nil, false
	}
	return st, true
}

// GetJobStatus returns the status of a job as JSON.
// GET /api/jobs/{token}
func (h *Handlers) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONStatus(w, http.StatusOK, st)
}

// ResultResponse is the body of a successful result.
type ResultResponse struct {
	Path        string  `json:"path"`
	URL         string  `json:"url"`
	DisplayName string  `json:"displayName"`
	Megabytes   float64 `json:"megabytes"`
	Extension   string  `json:"extension"`
}

// GetJobResult reports a job's outcome: 202 while it runs, 200 with the
// artifact path on success and 500 with the diagnostic as a plain-text body
// on failure.
// GET /api/jobs/{token}/result
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	st, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")

	switch st.State {
	case jobs.StateSucceeded:
		if st.Artifact == nil {
			writeJSONError(w, "artifact missing from job record", http.StatusInternalServerError)
			return
		}
		writeJSONStatus(w, http.StatusOK, ResultResponse{
			Path:        st.Artifact.Path,
			URL:         st.Artifact.URL,
			DisplayName: st.Artifact.DisplayName,
			Megabytes:   st.Artifact.Megabytes,
			Extension:   st.Artifact.Extension,
		})
	case jobs.StateFailed:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Failure-Kind", string(st.FailureKind))
		w.WriteHeader(http.StatusInternalServerError)
		diag := st.Diagnostic
		if diag == "" {
			diag = string(st.FailureKind)
		}
		if _, err := w.Write([]byte(diag)); err != nil {
			logging.Debug("failed to write diagnostic: %v", err)
		}
	default:
		writeJSONStatus(w, http.StatusAccepted, map[string]string{
			"token": st.Token,
			"state": string(st.State),
		})
	}
}
