package handlers

import (
	"errors"
	"net/http"
	"strings"

	"media-converter/internal/jobs"
	"media-converter/internal/logging"
	"media-converter/internal/params"
)

// SubmitResponse is returned for accepted jobs.
type SubmitResponse struct {
	Token    string `json:"token"`
	Status   string `json:"status"`
	Progress string `json:"progress"`
	Result   string `json:"result"`
}

func submitted(tok string) SubmitResponse {
	return SubmitResponse{
		Token:    tok,
		Status:   "/api/jobs/" + tok,
		Progress: "/api/progress/" + tok,
		Result:   "/api/jobs/" + tok + "/result",
	}
}

// conversionFields are multipart fields that are not codec options.
var conversionFields = map[string]bool{
	"chosen_codec": true,
	"output_name":  true,
	"token":        true,
	"request_type": true,
}

// RequestToken issues a job token with an empty progress record, so a
// client can start polling before it submits.
// POST /api/tokens
func (h *Handlers) RequestToken(w http.ResponseWriter, _ *http.Request) {
	tok, err := h.pipeline.NewToken()
	if err != nil {
		logging.Error("failed to issue token: %v", err)
		writeJSONError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{
		"token":    tok,
		"progress": "/api/progress/" + tok,
	})
}

// SubmitDownload queues a download of a remote link.
// POST /api/yt
func (h *Handlers) SubmitDownload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, "malformed form body", http.StatusBadRequest)
		return
	}

	kind := r.FormValue("kind")
	if kind == "" {
		kind = r.FormValue("button_clicked")
	}

	tok, err := h.pipeline.SubmitDownload(r.Context(), jobs.DownloadRequest{
		Token:   strings.TrimSpace(r.FormValue("token")),
		Link:    strings.TrimSpace(r.FormValue("link")),
		Kind:    kind,
		Address: clientAddress(r),
		Session: sessionKey(w, r),
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, submitted(tok))
}

// SubmitConversion stages an uploaded file and queues its conversion.
// POST /api/convert
func (h *Handlers) SubmitConversion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "expected a multipart upload", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.Debug("failed to remove multipart temp files: %v", err)
		}
	}()

	file, header, err := r.FormFile("chosen_file")
	if err != nil {
		writeSubmitError(w, &params.ValidationError{Field: "chosen_file", Reason: "is required"})
		return
	}
	defer file.Close()

	opts := params.Options{}
	for key, values := range r.MultipartForm.Value {
		if conversionFields[key] || len(values) == 0 {
			continue
		}
		opts[key] = values[0]
	}

	tok, err := h.pipeline.SubmitConversion(r.Context(), jobs.ConversionRequest{
		Token:      strings.TrimSpace(r.FormValue("token")),
		Codec:      r.FormValue("chosen_codec"),
		Options:    opts,
		Upload:     file,
		UploadName: header.Filename,
		OutputName: r.FormValue("output_name"),
		Address:    clientAddress(r),
		Session:    sessionKey(w, r),
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, submitted(tok))
}
