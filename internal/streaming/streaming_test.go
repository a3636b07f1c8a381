package streaming

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultTimeoutWriterConfig(t *testing.T) {
	config := DefaultTimeoutWriterConfig()

	if config.WriteTimeout != 30*time.Second {
		t.Errorf("WriteTimeout = %v, want 30s", config.WriteTimeout)
	}
	if config.ChunkSize != 64*1024 {
		t.Errorf("ChunkSize = %d, want 64KiB", config.ChunkSize)
	}
	if config.MaxDuration != 0 {
		t.Errorf("MaxDuration = %v, want unlimited", config.MaxDuration)
	}
}

func TestTimeoutWriterWrite(t *testing.T) {
	w := httptest.NewRecorder()
	tw := NewTimeoutWriter(context.Background(), w, DefaultTimeoutWriterConfig())
	defer tw.Close()

	data := []byte("song bytes")
	n, err := tw.Write(data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Write() = %d, want %d", n, len(data))
	}
	if w.Body.String() != string(data) {
		t.Errorf("body = %q, want %q", w.Body.String(), data)
	}
}

func TestTimeoutWriterChunkedWrites(t *testing.T) {
	w := httptest.NewRecorder()
	config := DefaultTimeoutWriterConfig()
	config.ChunkSize = 10

	tw := NewTimeoutWriter(context.Background(), w, config)
	defer tw.Close()

	data := make([]byte, 105)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := tw.Write(data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Write() = %d, want %d", n, len(data))
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("chunked body differs from input")
	}
	if !w.Flushed {
		t.Error("expected chunks to be flushed")
	}
	if written, _ := tw.Stats(); written != int64(len(data)) {
		t.Errorf("Stats() bytes = %d, want %d", written, len(data))
	}
}

func TestTimeoutWriterClosed(t *testing.T) {
	tw := NewTimeoutWriter(context.Background(), httptest.NewRecorder(), DefaultTimeoutWriterConfig())
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := tw.Write([]byte("x")); !errors.Is(err, ErrStreamCanceled) {
		t.Errorf("Write after Close = %v, want ErrStreamCanceled", err)
	}
}

func TestTimeoutWriterClientGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tw := NewTimeoutWriter(ctx, httptest.NewRecorder(), DefaultTimeoutWriterConfig())
	defer tw.Close()

	cancel()
	if _, err := tw.Write([]byte("x")); !errors.Is(err, ErrClientGone) {
		t.Errorf("Write after cancel = %v, want ErrClientGone", err)
	}
}

func TestTimeoutWriterMaxDuration(t *testing.T) {
	config := DefaultTimeoutWriterConfig()
	config.MaxDuration = time.Millisecond
	tw := NewTimeoutWriter(context.Background(), httptest.NewRecorder(), config)
	defer tw.Close()

	time.Sleep(5 * time.Millisecond)
	if _, err := tw.Write([]byte("late")); !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("Write past MaxDuration = %v, want ErrWriteTimeout", err)
	}
}

func TestTimeoutWriterOnProgress(t *testing.T) {
	var calls []int64
	config := DefaultTimeoutWriterConfig()
	config.OnProgress = func(bytes int64, _ time.Duration) {
		calls = append(calls, bytes)
	}

	tw := NewTimeoutWriter(context.Background(), httptest.NewRecorder(), config)
	defer tw.Close()

	if _, err := tw.Write(make([]byte, 3<<20)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(calls) != 3 {
		t.Errorf("OnProgress called %d times, want 3 (%v)", len(calls), calls)
	}
}

func TestServeContent(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)
	modtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("full body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/conversions/tok/song.mp3", http.NoBody)
		w := httptest.NewRecorder()

		n, err := ServeContent(w, req, "song.mp3", modtime, strings.NewReader(content), DefaultTimeoutWriterConfig())
		if err != nil {
			t.Fatalf("ServeContent() error = %v", err)
		}
		if n != int64(len(content)) {
			t.Errorf("bytes = %d, want %d", n, len(content))
		}
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if w.Body.String() != content {
			t.Error("body differs from content")
		}
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
		}
	})

	t.Run("range request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/conversions/tok/song.mp3", http.NoBody)
		req.Header.Set("Range", "bytes=10-19")
		w := httptest.NewRecorder()

		if _, err := ServeContent(w, req, "song.mp3", modtime, strings.NewReader(content), DefaultTimeoutWriterConfig()); err != nil {
			t.Fatalf("ServeContent() error = %v", err)
		}
		if w.Code != http.StatusPartialContent {
			t.Errorf("status = %d, want 206", w.Code)
		}
		if w.Body.String() != "0123456789" {
			t.Errorf("body = %q", w.Body.String())
		}
	})

	t.Run("not modified", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/conversions/tok/song.mp3", http.NoBody)
		req.Header.Set("If-Modified-Since", modtime.Add(time.Hour).Format(http.TimeFormat))
		w := httptest.NewRecorder()

		n, err := ServeContent(w, req, "song.mp3", modtime, strings.NewReader(content), DefaultTimeoutWriterConfig())
		if err != nil {
			t.Fatalf("ServeContent() error = %v", err)
		}
		if w.Code != http.StatusNotModified || n != 0 {
			t.Errorf("status = %d bytes = %d, want 304 and 0", w.Code, n)
		}
	})
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	errs := []error{ErrWriteTimeout, ErrClientGone, ErrStreamCanceled}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}
