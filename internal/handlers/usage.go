package handlers

import (
	"errors"
	"net/http"

	"media-converter/internal/database"
	"media-converter/internal/logging"
)

// GetUsage returns the usage record of the calling address. An address with
// no jobs gets a zero record.
// GET /api/usage
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	addr := clientAddress(r)
	if h.usage == nil {
		writeJSONError(w, "usage ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	u, err := h.usage.GetUsage(r.Context(), addr)
	if errors.Is(err, database.ErrNotFound) {
		u = &database.Usage{Address: addr}
	} else if err != nil {
		logging.Error("failed to load usage for %s: %v", addr, err)
		writeJSONError(w, "failed to load usage", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSONStatus(w, http.StatusOK, u)
}
