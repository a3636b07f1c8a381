package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/token"
)

const fileSuffix = ".txt"

var (
	// ErrUnknownToken is returned for tokens with no progress record.
	ErrUnknownToken = errors.New("unknown token")
	// ErrWriterOpen is returned by Open when the token already has a writer.
	ErrWriterOpen = errors.New("progress writer already open")
)

// pollFallback is how often Wait re-reads the record when no fsnotify event
// arrives.
var pollFallback = 500 * time.Millisecond

// Channel stores progress records under one directory.
type Channel struct {
	dir string

	mu      sync.Mutex
	writers map[string]*Writer
}

// New creates a Channel rooted at dir, creating the directory if needed.
func New(dir string) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress directory: %w", err)
	}
	return &Channel{dir: dir, writers: make(map[string]*Writer)}, nil
}

// Dir returns the directory holding the records.
func (c *Channel) Dir() string {
	return c.dir
}

func (c *Channel) path(tok string) (string, error) {
	if !token.Valid(tok) {
		return "", fmt.Errorf("%w: %q", ErrUnknownToken, tok)
	}
	return filepath.Join(c.dir, tok+fileSuffix), nil
}

// Create makes an empty record for tok. An existing record is left as is.
func (c *Channel) Create(tok string) error {
	p, err := c.path(tok)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create progress record: %w", err)
	}
	return f.Close()
}

// Exists reports whether tok has a record.
func (c *Channel) Exists(tok string) bool {
	p, err := c.path(tok)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Empty reports whether tok has a record that nothing was written to and
// that no writer holds open.
func (c *Channel) Empty(tok string) bool {
	p, err := c.path(tok)
	if err != nil {
		return false
	}
	c.mu.Lock()
	_, busy := c.writers[tok]
	c.mu.Unlock()
	if busy {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() == 0
}

// Open returns the single writer for tok, creating the record if needed.
func (c *Channel) Open(tok string) (*Writer, error) {
	p, err := c.path(tok)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.writers[tok]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWriterOpen, tok)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress record: %w", err)
	}
	w := &Writer{token: tok, file: f, channel: c}
	c.writers[tok] = w
	return w, nil
}

// Append adds one line to tok's record. It uses the open writer when there is
// one, so lines from both paths stay ordered.
func (c *Channel) Append(tok, line string) error {
	c.mu.Lock()
	w := c.writers[tok]
	c.mu.Unlock()
	if w != nil {
		return w.WriteLine(line)
	}

	p, err := c.path(tok)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open progress record: %w", err)
	}
	_, werr := f.Write(formatLine(line))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		metrics.ProgressBytesAppended.Add(float64(len(line) + 1))
	}
	return werr
}

// Read returns the full record for tok.
func (c *Channel) Read(tok string) ([]byte, error) {
	p, err := c.path(tok)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	if err != nil {
		return nil, fmt.Errorf("read progress record: %w", err)
	}
	return data, nil
}

// ReadFrom returns the bytes after offset and the offset to use next time.
// An offset past the end yields no data and the current size.
func (c *Channel) ReadFrom(tok string, offset int64) ([]byte, int64, error) {
	p, err := c.path(tok)
	if err != nil {
		return nil, offset, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, offset, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	if err != nil {
		return nil, offset, fmt.Errorf("open progress record: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logging.Debug("close progress record %s: %v", tok, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat progress record: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= info.Size() {
		return []byte{}, info.Size(), nil
	}
	data, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return nil, offset, fmt.Errorf("read progress record: %w", err)
	}
	return data, offset + int64(len(data)), nil
}

// Wait blocks until tok's record holds data past offset or ctx ends. On
// context expiry it returns empty data, the unchanged offset and a nil error.
func (c *Channel) Wait(ctx context.Context, tok string, offset int64) ([]byte, int64, error) {
	data, next, err := c.ReadFrom(tok, offset)
	if err != nil || len(data) > 0 {
		return data, next, err
	}

	p, _ := c.path(tok)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("progress watcher unavailable, polling %s: %v", tok, err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logging.Debug("failed to close progress watcher: %v", err)
			}
		}()
		if err := watcher.Add(p); err != nil {
			logging.Debug("failed to watch progress record %s: %v", tok, err)
		}
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return []byte{}, offset, nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&fsnotify.Remove != 0 {
				return nil, offset, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
			}
			if ev.Op&fsnotify.Write == 0 {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.Debug("progress watcher error for %s: %v", tok, err)
			continue
		case <-ticker.C:
		}

		data, next, err := c.ReadFrom(tok, offset)
		if err != nil || len(data) > 0 {
			return data, next, err
		}
	}
}

// Remove deletes tok's record. A token with an open writer cannot be removed.
func (c *Channel) Remove(tok string) error {
	p, err := c.path(tok)
	if err != nil {
		return err
	}
	c.mu.Lock()
	_, busy := c.writers[tok]
	c.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: %s", ErrWriterOpen, tok)
	}

	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	return err
}

// Sweep removes records last modified more than maxAge ago, skipping records
// with an open writer and those keep reports true for. keep may be nil. It
// returns how many were removed.
func (c *Channel) Sweep(maxAge time.Duration, keep func(tok string) bool) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read progress directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		tok := strings.TrimSuffix(name, fileSuffix)

		c.mu.Lock()
		_, busy := c.writers[tok]
		c.mu.Unlock()
		if busy || (keep != nil && keep(tok)) {
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.Info("Swept %d progress records older than %v", removed, maxAge)
	}
	return removed, errors.Join(errs...)
}

func (c *Channel) release(tok string) {
	c.mu.Lock()
	delete(c.writers, tok)
	c.mu.Unlock()
}

func formatLine(line string) []byte {
	line = strings.TrimRight(line, "\r\n")
	return []byte(line + "\n")
}

// Writer appends lines to one progress record.
type Writer struct {
	token   string
	channel *Channel

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Token returns the token the writer belongs to.
func (w *Writer) Token() string {
	return w.token
}

// WriteLine appends line followed by a newline in a single write.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("progress writer for %s is closed", w.token)
	}
	b := formatLine(line)
	if _, err := w.file.Write(b); err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	metrics.ProgressBytesAppended.Add(float64(len(b)))
	return nil
}

// Close releases the record so it can be removed or swept.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.channel.release(w.token)
	return w.file.Close()
}
