package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"media-converter/internal/filesystem"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/token"
)

var (
	// ErrArtifactNotFound is returned when no artifact matches.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrRenameConflict marks a failed move to the display name. It is
	// logged, never returned from Finalize.
	ErrRenameConflict = errors.New("rename conflict")
)

// UsageRecorder receives the size of every finalized artifact.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, address string, megabytes float64) error
}

// Config holds the directories the Manager writes to.
type Config struct {
	DownloadDir   string
	ConversionDir string
	// LogDir holds downloads.txt and conversions.txt.
	LogDir string
}

// FinalizeRequest identifies a successful job's output.
type FinalizeRequest struct {
	Pipeline Pipeline
	Token    string
	Session  string
	Address  string
	// WorkDir is where the tool wrote the file; Stem is its name without
	// the extension.
	WorkDir string
	Stem    string
}

// Artifact describes a finalized output file.
type Artifact struct {
	// Path is the externally reachable path, e.g. "downloads/<token>/<name>".
	Path        string  `json:"path"`
	URL         string  `json:"url"`
	DisplayName string  `json:"displayName"`
	Megabytes   float64 `json:"megabytes"`
	Extension   string  `json:"extension"`
	// Renamed is false when the working name is served.
	Renamed  bool   `json:"renamed"`
	DiskPath string `json:"-"`
}

// Manager finalizes artifacts and serves them back by path.
type Manager struct {
	dirs    map[Pipeline]string
	routes  map[Pipeline]string
	history map[Pipeline]*historyLog
	slots   *Slots
	usage   UsageRecorder
}

// NewManager creates a Manager. usage may be nil.
func NewManager(cfg Config, slots *Slots, usage UsageRecorder) *Manager {
	if slots == nil {
		slots = NewSlots()
	}
	return &Manager{
		dirs: map[Pipeline]string{
			PipelineDownload:   cfg.DownloadDir,
			PipelineConversion: cfg.ConversionDir,
		},
		routes: map[Pipeline]string{
			PipelineDownload:   "downloads",
			PipelineConversion: "conversions",
		},
		history: map[Pipeline]*historyLog{
			PipelineDownload:   newHistoryLog(filepath.Join(cfg.LogDir, "downloads.txt")),
			PipelineConversion: newHistoryLog(filepath.Join(cfg.LogDir, "conversions.txt")),
		},
		slots: slots,
		usage: usage,
	}
}

// Slots returns the slot arena.
func (m *Manager) Slots() *Slots {
	return m.slots
}

// Dir returns the output directory of p.
func (m *Manager) Dir(p Pipeline) string {
	return m.dirs[p]
}

// CompletedToday returns the number of artifacts finalized for p since
// local midnight.
func (m *Manager) CompletedToday(p Pipeline) int {
	if h, ok := m.history[p]; ok {
		return h.Today()
	}
	return 0
}

// Finalize locates, records, renames and publishes a job's output, then
// evicts the slot's previous artifact.
func (m *Manager) Finalize(ctx context.Context, req FinalizeRequest) (*Artifact, error) {
	outDir, ok := m.dirs[req.Pipeline]
	if !ok || outDir == "" {
		return nil, fmt.Errorf("unknown pipeline %q", req.Pipeline)
	}
	if !token.Valid(req.Token) {
		return nil, fmt.Errorf("invalid token %q", req.Token)
	}
	log := logging.ForJob(req.Token)

	working, err := filesystem.FindByStem(req.WorkDir, req.Stem, filesystem.ScratchSuffixes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	info, err := filesystem.StatWithRetry(working, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}

	mb := Megabytes(info.Size())
	if m.usage != nil {
		if err := m.usage.RecordUsage(ctx, req.Address, mb); err != nil {
			log.Warn("failed to record usage for %s: %v", req.Address, err)
		}
	}
	metrics.ArtifactMegabytesTotal.WithLabelValues(string(req.Pipeline)).Add(mb)

	workingName := filepath.Base(working)
	display := Sanitize(workingName)
	if strings.TrimSpace(strings.TrimSuffix(display, filepath.Ext(display))) == "" {
		display = workingName
	}

	jobDir := filepath.Join(outDir, req.Token)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	name, renamed, err := m.place(working, jobDir, display, workingName)
	if err != nil {
		return nil, err
	}
	if !renamed {
		log.Warn("serving working name %q: %v", workingName, ErrRenameConflict)
		metrics.RenameConflictsTotal.WithLabelValues(string(req.Pipeline)).Inc()
	}
	diskPath := filepath.Join(jobDir, name)

	// The new artifact is in place; only now may the previous one go.
	if prev := m.slots.Swap(req.Pipeline, req.Session, diskPath); prev != "" && prev != diskPath {
		m.evict(req.Pipeline, prev)
	}

	if err := m.history[req.Pipeline].Append(name); err != nil {
		log.Warn("failed to append history log: %v", err)
	}

	route := m.routes[req.Pipeline]
	return &Artifact{
		Path:        route + "/" + req.Token + "/" + name,
		URL:         "/" + route + "/" + req.Token + "/" + url.PathEscape(name),
		DisplayName: name,
		Megabytes:   mb,
		Extension:   strings.TrimPrefix(filepath.Ext(name), "."),
		Renamed:     renamed,
		DiskPath:    diskPath,
	}, nil
}

// place moves working into jobDir under display, falling back to the working
// name. It reports the name used and whether the display name was applied.
func (m *Manager) place(working, jobDir, display, workingName string) (string, bool, error) {
	err := moveFile(working, filepath.Join(jobDir, display))
	if err == nil {
		return display, true, nil
	}
	if display == workingName {
		return "", false, fmt.Errorf("move artifact: %w", err)
	}
	logging.Debug("rename to %q failed: %v", display, err)

	if ferr := moveFile(working, filepath.Join(jobDir, workingName)); ferr != nil {
		return "", false, fmt.Errorf("move artifact: %w", errors.Join(err, ferr))
	}
	return workingName, false, nil
}

func (m *Manager) evict(p Pipeline, path string) {
	err := filesystem.RemoveAllWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Warn("failed to evict previous artifact %s: %v", path, err)
		metrics.SlotEvictionsTotal.WithLabelValues(string(p), "error").Inc()
		return
	}
	metrics.SlotEvictionsTotal.WithLabelValues(string(p), "success").Inc()
	// The token directory is removed once empty.
	_ = os.Remove(filepath.Dir(path))
	logging.Debug("Evicted previous %s artifact %s", p, path)
}

// Sweep enforces artifact retention. Slots last written at or before cutoff
// are emptied and their artifacts removed; then every token directory that
// no slot holds and that was last modified at or before cutoff is removed,
// which also covers artifacts left from before a restart. Tokens for which
// busy reports true are never touched; busy may be nil. Sweep returns the
// number of token directories removed.
func (m *Manager) Sweep(cutoff time.Time, busy func(tok string) bool) (int, error) {
	removed := 0
	var errs []error

	remove := func(p Pipeline, jobDir string) {
		if err := filesystem.RemoveAllWithRetry(jobDir, filesystem.DefaultRetryConfig()); err != nil {
			errs = append(errs, err)
			return
		}
		removed++
		metrics.ArtifactsExpiredTotal.WithLabelValues(string(p)).Inc()
	}

	for p, paths := range m.slots.Expire(cutoff) {
		for _, path := range paths {
			jobDir := filepath.Dir(path)
			if filepath.Dir(jobDir) != filepath.Clean(m.dirs[p]) {
				continue
			}
			if busy != nil && busy(filepath.Base(jobDir)) {
				continue
			}
			remove(p, jobDir)
		}
	}

	held := make(map[string]bool)
	for _, path := range m.slots.Paths() {
		held[filepath.Dir(path)] = true
	}

	for p, dir := range m.dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s directory: %w", p, err))
			continue
		}
		for _, e := range entries {
			tok := e.Name()
			jobDir := filepath.Join(dir, tok)
			if !e.IsDir() || !token.Valid(tok) || held[jobDir] {
				continue
			}
			if busy != nil && busy(tok) {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			remove(p, jobDir)
		}
	}

	if removed > 0 {
		logging.Info("Removed %d expired artifacts", removed)
	}
	return removed, errors.Join(errs...)
}

// Resolve maps a fetch request back to the artifact on disk.
func (m *Manager) Resolve(p Pipeline, tok, name string) (string, error) {
	dir, ok := m.dirs[p]
	if !ok || dir == "" {
		return "", ErrArtifactNotFound
	}
	if !token.Valid(tok) || !validName(name) {
		return "", ErrArtifactNotFound
	}
	path := filepath.Join(dir, tok, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrArtifactNotFound
	}
	return path, nil
}

// ResolvePath is Resolve for a path returned in Artifact.Path.
func (m *Manager) ResolvePath(rel string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(rel, "/"), "/")
	if len(parts) != 3 {
		return "", ErrArtifactNotFound
	}
	for p, route := range m.routes {
		if route == parts[0] {
			return m.Resolve(p, parts[1], parts[2])
		}
	}
	return "", ErrArtifactNotFound
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// Megabytes converts bytes to megabytes (10^6) rounded to two decimals.
func Megabytes(bytes int64) float64 {
	return math.Round(float64(bytes)/1e6*100) / 100
}

// moveFile renames src to dst, copying across filesystems. It never
// overwrites an existing dst.
func moveFile(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s already exists", dst)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// ArtifactAt rebuilds the Artifact for a stored Artifact.Path.
func ArtifactAt(path string, megabytes float64) *Artifact {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) != 3 {
		return nil
	}
	name := parts[2]
	return &Artifact{
		Path:        path,
		URL:         "/" + parts[0] + "/" + parts[1] + "/" + url.PathEscape(name),
		DisplayName: name,
		Megabytes:   megabytes,
		Extension:   strings.TrimPrefix(filepath.Ext(name), "."),
		Renamed:     true,
	}
}
