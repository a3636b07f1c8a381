package middleware

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// w3cFields is the #Fields directive describing each access log line.
const w3cFields = "#Fields: date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes time-taken sc(Content-Encoding) sc(Retry-After) cs(User-Agent)"

// responseWriter records the status and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the connection for write
// deadlines on artifact streams.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	// SkipPaths are path prefixes that are never logged.
	SkipPaths []string
	// ArtifactPrefixes are the routes serving finished artifacts; they are
	// logged only when LogStaticFiles is set.
	ArtifactPrefixes []string
	LogStaticFiles   bool
	LogHealthChecks  bool
}

// DefaultLoggingConfig logs everything except artifact downloads.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		ArtifactPrefixes: []string{"/downloads/", "/conversions/"},
		LogHealthChecks:  true,
	}
}

var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

func (c LoggingConfig) skip(path string) bool {
	if !c.LogHealthChecks && healthCheckPaths[path] {
		return true
	}
	for _, p := range c.SkipPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	if c.LogStaticFiles {
		return false
	}
	for _, p := range c.ArtifactPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// sanitizeLogField strips control characters from client-supplied values so
// they cannot forge log lines or inject terminal escapes. Newlines become
// spaces; tabs are kept.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// w3cValue renders one field: "-" when empty, quoted when it holds blanks.
func w3cValue(s string) string {
	s = sanitizeLogField(s)
	if s == "" {
		return "-"
	}
	if strings.ContainsAny(s, " \t\"") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// Logger returns middleware writing one W3C Extended Log Format line per
// request. The #Fields directive is written before the first line.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	var directive sync.Once

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			directive.Do(func() { log.Println(w3cFields) })
			log.Println(accessLine(r, rw, start))
		})
	}
}

func accessLine(r *http.Request, rw *responseWriter, start time.Time) string {
	now := time.Now().UTC()
	fields := []string{
		now.Format("2006-01-02"),
		now.Format("15:04:05"),
		w3cValue(ClientIP(r)),
		w3cValue(r.Method),
		w3cValue(r.URL.Path),
		w3cValue(r.URL.RawQuery),
		strconv.Itoa(rw.statusCode),
		strconv.FormatInt(rw.bytesWritten, 10),
		strconv.FormatInt(time.Since(start).Milliseconds(), 10),
		w3cValue(rw.Header().Get("Content-Encoding")),
		w3cValue(rw.Header().Get("Retry-After")),
		w3cValue(r.UserAgent()),
	}
	return strings.Join(fields, " ")
}
