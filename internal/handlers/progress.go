package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"media-converter/internal/logging"
	"media-converter/internal/progress"
)

// GetProgress returns the progress record of a job as plain text. With
// offset only the bytes after it are returned; with wait the request blocks
// up to that long for new bytes. The next offset is in X-Progress-Offset.
// GET /api/progress/{token}
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	tok := mux.Vars(r)["token"]

	var offset int64
	if s := r.URL.Query().Get("offset"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeJSONError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		offset = n
	}

	wait, err := parseWait(r.URL.Query().Get("wait"), h.cfg.MaxProgressWait)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		data []byte
		next int64
	)
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		data, next, err = h.progress.Wait(ctx, tok, offset)
		cancel()
	} else {
		data, next, err = h.progress.ReadFrom(tok, offset)
	}
	if errors.Is(err, progress.ErrUnknownToken) {
		writeJSONError(w, "unknown token", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("failed to read progress for %s: %v", tok, err)
		writeJSONError(w, "failed to read progress", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Progress-Offset", strconv.FormatInt(next, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Debug("failed to write progress for %s: %v", tok, err)
	}
}

// parseWait accepts a Go duration or whole seconds, capped at limit.
func parseWait(s string, limit time.Duration) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, serr := strconv.Atoi(s)
		if serr != nil {
			return 0, errors.New("wait must be a duration such as 10s")
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, errors.New("wait must not be negative")
	}
	if d > limit {
		d = limit
	}
	return d, nil
}
