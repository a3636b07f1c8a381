package handlers

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"media-converter/internal/logging"
	"media-converter/internal/output"
	"media-converter/internal/streaming"
)

// contentTypeOverrides holds extensions whose system MIME type is wrong or
// missing for artifacts.
var contentTypeOverrides = map[string]string{
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".mka":  "audio/x-matroska",
	".mkv":  "video/x-matroska",
	".opus": "audio/ogg",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".ac3":  "audio/ac3",
	".dts":  "audio/vnd.dts",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// artifactContentType returns the Content-Type for an artifact name.
func artifactContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypeOverrides[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// FetchArtifact returns the handler serving finished artifacts of p as
// attachments.
// GET /downloads/{token}/{name}, GET /conversions/{token}/{name}
func (h *Handlers) FetchArtifact(p output.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		tok, name := vars["token"], vars["name"]

		path, err := h.output.Resolve(p, tok, name)
		if err != nil {
			writeJSONError(w, "artifact not found", http.StatusNotFound)
			return
		}

		f, err := os.Open(path)
		if err != nil {
			// Evicted between Resolve and Open.
			writeJSONError(w, "artifact not found", http.StatusNotFound)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			logging.Error("failed to stat artifact %s: %v", path, err)
			writeJSONError(w, "failed to read artifact", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", artifactContentType(name))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		w.Header().Set("Cache-Control", "private, no-cache")

		_, err = streaming.ServeContent(w, r, name, info.ModTime(), f, h.cfg.Stream)
		if err != nil && !errors.Is(err, streaming.ErrClientGone) {
			logging.Warn("artifact %s/%s stream ended early: %v", tok, name, err)
		}
	}
}
