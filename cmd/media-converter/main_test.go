package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"media-converter/internal/handlers"
	"media-converter/internal/jobs"
	"media-converter/internal/middleware"
	"media-converter/internal/output"
	"media-converter/internal/progress"
	"media-converter/internal/quota"
	"media-converter/internal/runner"
)

func newTestHandlers(t *testing.T) *handlers.Handlers {
	t.Helper()
	dir := t.TempDir()

	ch, err := progress.New(filepath.Join(dir, "progress"))
	if err != nil {
		t.Fatalf("progress.New() error = %v", err)
	}
	slots := output.NewSlots()
	out := output.NewManager(output.Config{
		DownloadDir:   filepath.Join(dir, "downloads"),
		ConversionDir: filepath.Join(dir, "conversions"),
		LogDir:        filepath.Join(dir, "logs"),
	}, slots, nil)
	enforcer := quota.New(quota.Config{
		ScratchDir: filepath.Join(dir, "scratch"),
		Uploads:    quota.Policy{Name: "uploads", Dir: filepath.Join(dir, "uploads")},
		Downloads:  quota.Policy{Name: "downloads", Dir: filepath.Join(dir, "downloads")},
	}, slots)

	pipeline := jobs.New(jobs.Config{
		UploadDir:  filepath.Join(dir, "uploads"),
		ScratchDir: filepath.Join(dir, "scratch"),
		MaxJobs:    1,
	}, jobs.Deps{
		Runner:   runner.New(runner.Config{}),
		Progress: ch,
		Output:   out,
		Quota:    enforcer,
	})
	t.Cleanup(func() {
		_ = pipeline.Shutdown(context.Background())
	})

	return handlers.New(pipeline, ch, out, nil, handlers.Config{})
}

type mockUsageCounter struct {
	n   int
	err error
}

func (m *mockUsageCounter) CountUsage(context.Context) (int, error) {
	return m.n, m.err
}

type mockTodayCounter map[output.Pipeline]int

func (m mockTodayCounter) CompletedToday(p output.Pipeline) int {
	return m[p]
}

func TestStatsAdapter(t *testing.T) {
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	if err := os.MkdirAll(filepath.Join(uploads, "tok"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(uploads, "tok", "a.wav"), make([]byte, 1500), 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &statsAdapter{
		db:  &mockUsageCounter{n: 4},
		out: mockTodayCounter{output.PipelineDownload: 7, output.PipelineConversion: 2},
		dirs: map[string]string{
			"uploads": uploads,
			"missing": filepath.Join(dir, "nope"),
		},
	}

	stats := adapter.GetStats()
	if stats.DirectorySizes["uploads"] != 1500 {
		t.Errorf("uploads size = %d, want 1500", stats.DirectorySizes["uploads"])
	}
	if size, ok := stats.DirectorySizes["missing"]; !ok || size != 0 {
		t.Errorf("missing size = %d (present %v), want 0", size, ok)
	}
	if stats.UsageClients != 4 {
		t.Errorf("UsageClients = %d, want 4", stats.UsageClients)
	}
	if stats.DownloadsToday != 7 {
		t.Errorf("DownloadsToday = %d, want 7", stats.DownloadsToday)
	}
}

func TestStatsAdapterDatabaseError(t *testing.T) {
	adapter := &statsAdapter{db: &mockUsageCounter{n: 0, err: errors.New("locked")}}

	stats := adapter.GetStats()
	if stats.UsageClients != 0 {
		t.Errorf("UsageClients = %d, want 0", stats.UsageClients)
	}
	if stats.DownloadsToday != 0 {
		t.Errorf("DownloadsToday = %d, want 0", stats.DownloadsToday)
	}
}

func TestSetupRouter(t *testing.T) {
	router := setupRouter(newTestHandlers(t), middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/livez", http.StatusOK},
		{http.MethodGet, "/version", http.StatusOK},
		{http.MethodGet, "/api/jobs/unknown", http.StatusNotFound},
		{http.MethodGet, "/downloads/tok/missing.mp3", http.StatusNotFound},
		{http.MethodDelete, "/api/yt", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMetricsMux(t *testing.T) {
	m := metricsMux(newTestHandlers(t))

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d", rec.Code, http.StatusOK)
	}
}
