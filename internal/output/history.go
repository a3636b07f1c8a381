package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// historyLog is an append-only, one line per artifact audit trail.
type historyLog struct {
	path string

	mu        sync.Mutex
	day       string
	todayJobs int
}

func newHistoryLog(path string) *historyLog {
	return &historyLog{path: path}
}

func (h *historyLog) Append(name string) error {
	line := strings.NewReplacer("\n", " ", "\r", " ").Replace(name) + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if today != h.day {
		h.day = today
		h.todayJobs = 0
	}
	h.todayJobs++

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	_, werr := f.WriteString(line)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// Today returns how many entries were appended since local midnight.
func (h *historyLog) Today() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.day != time.Now().Format("2006-01-02") {
		return 0
	}
	return h.todayJobs
}
