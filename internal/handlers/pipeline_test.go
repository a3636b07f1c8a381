package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"media-converter/internal/jobs"
	"media-converter/internal/output"
	"media-converter/internal/progress"
	"media-converter/internal/quota"
	"media-converter/internal/runner"
)

// copyingFFmpeg copies its -i input to its last argument.
const copyingFFmpeg = `#!/bin/sh
in=""; prev=""
for a; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
done
for last; do :; done
echo "progress=end"
cp "$in" "$last"
`

// newPipelineRouter serves the handlers over a real job pipeline whose
// ffmpeg is a shell script.
func newPipelineRouter(t *testing.T) *mux.Router {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are POSIX shell scripts")
	}
	root := t.TempDir()

	ffmpeg := filepath.Join(root, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte(copyingFFmpeg), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ch, err := progress.New(filepath.Join(root, "progress"))
	if err != nil {
		t.Fatalf("progress.New() error = %v", err)
	}
	slots := output.NewSlots()
	out := output.NewManager(output.Config{
		DownloadDir:   filepath.Join(root, "downloads"),
		ConversionDir: filepath.Join(root, "conversions"),
		LogDir:        filepath.Join(root, "logs"),
	}, slots, nil)
	q := quota.New(quota.Config{
		ScratchDir: filepath.Join(root, "scratch"),
		Uploads:    quota.Policy{Name: "uploads", Dir: filepath.Join(root, "uploads")},
		Downloads:  quota.Policy{Name: "downloads", Dir: filepath.Join(root, "downloads")},
	}, slots)

	p := jobs.New(jobs.Config{
		UploadDir:  filepath.Join(root, "uploads"),
		ScratchDir: filepath.Join(root, "scratch"),
		MaxJobs:    1,
	}, jobs.Deps{
		Runner:   runner.New(runner.Config{FFmpegPath: ffmpeg, DownloaderPath: "yt-dlp", Timeout: 30 * time.Second}),
		Progress: ch,
		Output:   out,
		Quota:    q,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	r := mux.NewRouter()
	New(p, ch, out, nil, Config{}).RegisterRoutes(r)
	return r
}

// convert submits an mp3 conversion and waits for its result.
func convert(t *testing.T, r *mux.Router, name string, cookie *http.Cookie) (*httptest.ResponseRecorder, ResultResponse) {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{
		"chosen_codec":      "mp3",
		"mp3_encoding_type": "cbr",
		"mp3_bitrate":       "192",
	}, name, bytes.Repeat([]byte{0x5a}, 4096))

	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ct)
	req.RemoteAddr = "203.0.113.7:4000"
	if cookie != nil {
		req.AddCookie(cookie)
	}
	submit := httptest.NewRecorder()
	r.ServeHTTP(submit, req)
	if submit.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want %d: %s", submit.Code, http.StatusAccepted, submit.Body.String())
	}
	var accepted SubmitResponse
	decode(t, submit, &accepted)

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, accepted.Result, http.NoBody))
		switch rec.Code {
		case http.StatusAccepted:
			time.Sleep(20 * time.Millisecond)
		case http.StatusOK:
			var res ResultResponse
			decode(t, rec, &res)
			return submit, res
		default:
			t.Fatalf("result status = %d: %s", rec.Code, rec.Body.String())
		}
	}
	t.Fatalf("job %s did not finish", accepted.Token)
	return nil, ResultResponse{}
}

func fetch(r *mux.Router, url string) int {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, http.NoBody))
	return rec.Code
}

func TestFirstBrowserJobIsEvictedBySecond(t *testing.T) {
	r := newPipelineRouter(t)

	submit, first := convert(t, r, "first.wav", nil)
	cookies := submit.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie {
		t.Fatalf("cookies = %v, want one %s cookie", cookies, sessionCookie)
	}
	if code := fetch(r, first.URL); code != http.StatusOK {
		t.Fatalf("first artifact status = %d, want %d", code, http.StatusOK)
	}

	_, second := convert(t, r, "second.wav", cookies[0])

	if code := fetch(r, first.URL); code != http.StatusNotFound {
		t.Errorf("first artifact status after second job = %d, want %d", code, http.StatusNotFound)
	}
	if code := fetch(r, second.URL); code != http.StatusOK {
		t.Errorf("second artifact status = %d, want %d", code, http.StatusOK)
	}
}

func TestCookielessClientsKeepSeparateSlots(t *testing.T) {
	r := newPipelineRouter(t)

	_, first := convert(t, r, "first.wav", nil)
	_, second := convert(t, r, "second.wav", nil)

	for _, res := range []ResultResponse{first, second} {
		if code := fetch(r, res.URL); code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", res.URL, code, http.StatusOK)
		}
	}
}
