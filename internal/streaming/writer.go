package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"media-converter/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that a write missed its deadline or the
	// stream exceeded MaxDuration.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the client disconnected before the stream completed.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates that the writer was closed before the write.
	ErrStreamCanceled = errors.New("stream canceled")
)

// TimeoutWriterConfig configures the timeout writer behavior
type TimeoutWriterConfig struct {
	// WriteTimeout bounds each chunk write
	WriteTimeout time.Duration
	// MaxDuration is the absolute maximum streaming duration (0 = unlimited)
	MaxDuration time.Duration
	// ChunkSize is the size of chunks to write (0 = write as received)
	ChunkSize int
	// OnProgress is called about once per megabyte written
	OnProgress func(bytesWritten int64, duration time.Duration)
}

// DefaultTimeoutWriterConfig returns sensible defaults
func DefaultTimeoutWriterConfig() TimeoutWriterConfig {
	return TimeoutWriterConfig{
		WriteTimeout: 30 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// TimeoutWriter writes to an http.ResponseWriter under per-chunk write
// deadlines set through http.ResponseController.
type TimeoutWriter struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	ctx          context.Context
	config       TimeoutWriterConfig
	startTime    time.Time
	bytesWritten int64
	nextProgress int64
	// deadlines is cleared once the writer reports it cannot set them.
	deadlines bool

	mu     sync.Mutex
	closed bool
}

// NewTimeoutWriter creates a new timeout-protected writer
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *TimeoutWriter {
	return &TimeoutWriter{
		w:            w,
		rc:           http.NewResponseController(w),
		ctx:          ctx,
		config:       config,
		startTime:    time.Now(),
		nextProgress: 1 << 20,
		deadlines:    config.WriteTimeout > 0,
	}
}

// Write implements io.Writer with timeout protection
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return 0, ErrStreamCanceled
	}

	total := 0
	for len(p) > 0 {
		if err := tw.ctx.Err(); err != nil {
			return total, ErrClientGone
		}
		if tw.config.MaxDuration > 0 && time.Since(tw.startTime) > tw.config.MaxDuration {
			return total, ErrWriteTimeout
		}

		chunk := p
		if tw.config.ChunkSize > 0 && len(chunk) > tw.config.ChunkSize {
			chunk = chunk[:tw.config.ChunkSize]
		}

		tw.setDeadline(time.Now().Add(tw.config.WriteTimeout))
		n, err := tw.w.Write(chunk)
		total += n
		tw.bytesWritten += int64(n)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				return total, ErrWriteTimeout
			}
			return total, err
		}
		p = p[n:]

		if tw.config.ChunkSize > 0 {
			_ = tw.rc.Flush()
		}
		if tw.config.OnProgress != nil && tw.bytesWritten >= tw.nextProgress {
			tw.nextProgress = tw.bytesWritten + 1<<20
			tw.config.OnProgress(tw.bytesWritten, time.Since(tw.startTime))
		}
	}
	return total, nil
}

func (tw *TimeoutWriter) setDeadline(t time.Time) {
	if !tw.deadlines {
		return
	}
	if err := tw.rc.SetWriteDeadline(t); err != nil {
		// httptest recorders and some wrappers have no deadlines.
		tw.deadlines = false
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Close marks the writer as closed and clears the write deadline.
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	tw.closed = true
	tw.setDeadline(time.Time{})
	return nil
}

// Stats returns streaming statistics
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten, time.Since(tw.startTime)
}

// timeoutResponseWriter routes body writes through a TimeoutWriter and
// remembers the first write error.
type timeoutResponseWriter struct {
	http.ResponseWriter
	tw  *TimeoutWriter
	err error
}

func (t *timeoutResponseWriter) Write(p []byte) (int, error) {
	n, err := t.tw.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

func (t *timeoutResponseWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// ServeContent serves content like http.ServeContent, including Range and
// conditional requests, with every body write under the configured timeouts.
// It returns the number of body bytes written.
func ServeContent(w http.ResponseWriter, r *http.Request, name string, modtime time.Time, content io.ReadSeeker, config TimeoutWriterConfig) (int64, error) {
	tw := NewTimeoutWriter(r.Context(), w, config)
	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close timeout writer: %v", err)
		}
	}()

	trw := &timeoutResponseWriter{ResponseWriter: w, tw: tw}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(trw, r, name, modtime, content)

	bytesWritten, duration := tw.Stats()
	logging.Debug("Served %s: %d bytes in %v", name, bytesWritten, duration)
	return bytesWritten, trw.err
}
