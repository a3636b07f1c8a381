package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"media-converter/internal/jobs"
	"media-converter/internal/logging"
	"media-converter/internal/params"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatus writes v as JSON with the given status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, statusCode, ErrorResponse{Error: message})
}

// writeSubmitError maps a submission error to its response.
func writeSubmitError(w http.ResponseWriter, err error) {
	var verr *params.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeJSONStatus(w, http.StatusBadRequest, ErrorResponse{
			Error:  "invalid parameters",
			Field:  verr.Field,
			Reason: verr.Reason,
		})
	case errors.Is(err, params.ErrInvalidParameters):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &tooLarge):
		writeJSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, jobs.ErrShuttingDown):
		writeJSONError(w, "server is shutting down", http.StatusServiceUnavailable)
	default:
		logging.Error("job submission failed: %v", err)
		writeJSONError(w, "failed to submit job", http.StatusInternalServerError)
	}
}
