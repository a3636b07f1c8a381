package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
)

// CompressionConfig holds configuration for the compression middleware
type CompressionConfig struct {
	// MinSize is the smallest body, in bytes, worth compressing
	MinSize int
	// Level is the gzip level (gzip.BestSpeed to gzip.BestCompression)
	Level int
	// Types are the media types that are compressed
	Types []string
	// Skip exempts requests whose responses must reach the client as they
	// are written.
	Skip func(r *http.Request) bool
}

// DefaultCompressionConfig compresses JSON and progress text above 1KB and
// leaves long-polled progress alone.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
		Types:   []string{"application/json", "text/plain"},
		Skip:    isLongPoll,
	}
}

func isLongPoll(r *http.Request) bool {
	return r.URL.Query().Get("wait") != ""
}

var (
	gzipPoolsMu sync.Mutex
	gzipPools   = map[int]*sync.Pool{}
)

func gzipPool(level int) *sync.Pool {
	gzipPoolsMu.Lock()
	defer gzipPoolsMu.Unlock()

	p, ok := gzipPools[level]
	if !ok {
		p = &sync.Pool{New: func() interface{} {
			zw, err := gzip.NewWriterLevel(io.Discard, level)
			if err != nil {
				zw = gzip.NewWriter(io.Discard)
			}
			return zw
		}}
		gzipPools[level] = p
	}
	return p
}

// compressWriter holds the body back until MinSize bytes are buffered or the
// handler returns, then commits to gzip or plain output.
type compressWriter struct {
	http.ResponseWriter
	config CompressionConfig

	status    int
	buf       bytes.Buffer
	committed bool
	zw        *gzip.Writer
	pool      *sync.Pool
}

func (c *compressWriter) WriteHeader(status int) {
	if c.committed || c.status != 0 {
		return
	}
	c.status = status
}

func (c *compressWriter) Write(p []byte) (int, error) {
	if c.committed {
		if c.zw != nil {
			return c.zw.Write(p)
		}
		return c.ResponseWriter.Write(p)
	}

	c.buf.Write(p)
	if c.buf.Len() >= c.config.MinSize {
		if err := c.commit(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (c *compressWriter) compressible() bool {
	if c.Header().Get("Content-Encoding") != "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(c.Header().Get("Content-Type"))
	if err != nil {
		return false
	}
	for _, t := range c.config.Types {
		if strings.EqualFold(mediaType, t) {
			return true
		}
	}
	return false
}

// commit writes the status line and the buffered body.
func (c *compressWriter) commit() error {
	if c.committed {
		return nil
	}
	c.committed = true

	if c.status == 0 {
		c.status = http.StatusOK
	}

	if c.buf.Len() >= c.config.MinSize && c.compressible() {
		h := c.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")

		c.pool = gzipPool(c.config.Level)
		c.zw = c.pool.Get().(*gzip.Writer)
		c.zw.Reset(c.ResponseWriter)
	}

	c.ResponseWriter.WriteHeader(c.status)

	body := c.buf.Bytes()
	c.buf = bytes.Buffer{}
	if len(body) == 0 {
		return nil
	}
	if c.zw != nil {
		_, err := c.zw.Write(body)
		return err
	}
	_, err := c.ResponseWriter.Write(body)
	return err
}

// close commits anything still buffered and returns the gzip writer.
func (c *compressWriter) close() error {
	err := c.commit()
	if c.zw != nil {
		if cerr := c.zw.Close(); err == nil {
			err = cerr
		}
		c.pool.Put(c.zw)
		c.zw = nil
	}
	return err
}

// Flush implements http.Flusher
func (c *compressWriter) Flush() {
	if err := c.commit(); err != nil {
		return
	}
	if c.zw != nil {
		_ = c.zw.Flush()
	}
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Compression returns a middleware that gzips compressible API responses for
// clients that accept it.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
				(config.Skip != nil && config.Skip(r)) {
				next.ServeHTTP(w, r)
				return
			}

			cw := &compressWriter{ResponseWriter: w, config: config}
			defer func() {
				_ = cw.close()
			}()
			next.ServeHTTP(cw, r)
		})
	}
}
