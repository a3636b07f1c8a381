package quota

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"media-converter/internal/filesystem"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
)

// DefaultCeiling is the staging directory limit: 1 GB.
const DefaultCeiling int64 = 1_000_000_000

// Policy is a directory and its byte ceiling.
type Policy struct {
	// Name labels the directory in logs and metrics.
	Name    string
	Dir     string
	Ceiling int64
}

// LiveSet reports artifacts that must survive a purge.
// *output.Slots implements it.
type LiveSet interface {
	Paths() []string
}

// Config holds the enforced directories.
type Config struct {
	ScratchDir string
	Uploads    Policy
	Downloads  Policy
}

// Report summarizes one enforcement pass.
type Report struct {
	ScratchFreed int64
	StagingSize  int64
	StagingFreed int64
	// Purged is true when the staging directory was over its ceiling.
	Purged   bool
	Failures int
}

// Enforcer applies the quota policies.
type Enforcer struct {
	cfg  Config
	live LiveSet

	locksMu  sync.Mutex
	dirLocks map[string]*sync.Mutex

	pinMu  sync.Mutex
	pinned map[string]int
}

// New creates an Enforcer. live may be nil.
func New(cfg Config, live LiveSet) *Enforcer {
	for _, p := range []*Policy{&cfg.Uploads, &cfg.Downloads} {
		if p.Ceiling <= 0 {
			p.Ceiling = DefaultCeiling
		}
	}
	return &Enforcer{
		cfg:      cfg,
		live:     live,
		dirLocks: make(map[string]*sync.Mutex),
		pinned:   make(map[string]int),
	}
}

// Pin protects path from purges until a matching Unpin.
func (e *Enforcer) Pin(path string) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	e.pinned[filepath.Clean(path)]++
}

// Unpin releases one Pin of path.
func (e *Enforcer) Unpin(path string) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	p := filepath.Clean(path)
	if e.pinned[p] <= 1 {
		delete(e.pinned, p)
		return
	}
	e.pinned[p]--
}

// Pinned reports whether path or anything below it is pinned.
func (e *Enforcer) Pinned(path string) bool {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	return containsUnder(keys(e.pinned), filepath.Clean(path))
}

// BeforeConversion runs the pre-job pass for a conversion.
func (e *Enforcer) BeforeConversion(ctx context.Context) Report {
	return e.before(ctx, e.cfg.Uploads)
}

// BeforeDownload runs the pre-job pass for a download.
func (e *Enforcer) BeforeDownload(ctx context.Context) Report {
	return e.before(ctx, e.cfg.Downloads)
}

func (e *Enforcer) before(ctx context.Context, staging Policy) Report {
	var rep Report

	freed, failures := e.PurgeScratch()
	rep.ScratchFreed = freed
	rep.Failures += failures

	if ctx.Err() != nil || staging.Dir == "" {
		return rep
	}

	size, freed, purged, failures := e.enforce(staging)
	rep.StagingSize = size
	rep.StagingFreed = freed
	rep.Purged = purged
	rep.Failures += failures
	return rep
}

// PurgeScratch removes every unpinned entry of the scratch directory.
func (e *Enforcer) PurgeScratch() (int64, int) {
	if e.cfg.ScratchDir == "" {
		return 0, 0
	}
	unlock := e.lockDir(e.cfg.ScratchDir)
	defer unlock()

	res, err := filesystem.PurgeDir(e.cfg.ScratchDir, e.Pinned)
	if err != nil {
		logging.Warn("Scratch purge of %s failed: %v", e.cfg.ScratchDir, err)
		metrics.QuotaPurgeFailuresTotal.WithLabelValues("scratch").Inc()
		return 0, 1
	}
	metrics.QuotaPurgesTotal.WithLabelValues("scratch", "scratch").Inc()
	e.recordFailures("scratch", res)
	if res.Removed > 0 {
		logging.Debug("Scratch purge removed %d entries, freed %d bytes", res.Removed, res.FreedBytes)
	}
	return res.FreedBytes, len(res.Failed)
}

// Enforce applies p's ceiling immediately.
func (e *Enforcer) Enforce(p Policy) Report {
	size, freed, purged, failures := e.enforce(p)
	return Report{StagingSize: size, StagingFreed: freed, Purged: purged, Failures: failures}
}

// Config returns the enforced directories.
func (e *Enforcer) Config() Config {
	return e.cfg
}

func (e *Enforcer) enforce(p Policy) (size, freed int64, purged bool, failures int) {
	unlock := e.lockDir(p.Dir)
	defer unlock()

	size, err := filesystem.DirSize(p.Dir)
	if err != nil {
		logging.Warn("Failed to size %s directory: %v", p.Name, err)
		return 0, 0, false, 0
	}
	metrics.DirectorySizeBytes.WithLabelValues(p.Name).Set(float64(size))

	if size <= p.Ceiling {
		return size, 0, false, 0
	}

	logging.Info("%s directory is %d bytes, over the %d byte ceiling; purging", p.Name, size, p.Ceiling)
	res, err := filesystem.PurgeDir(p.Dir, e.keep)
	if err != nil {
		logging.Warn("Purge of %s failed: %v", p.Dir, err)
		metrics.QuotaPurgeFailuresTotal.WithLabelValues(p.Name).Inc()
		return size, 0, true, 1
	}
	metrics.QuotaPurgesTotal.WithLabelValues(p.Name, "ceiling").Inc()
	e.recordFailures(p.Name, res)
	metrics.DirectorySizeBytes.WithLabelValues(p.Name).Set(float64(size - res.FreedBytes))
	return size, res.FreedBytes, true, len(res.Failed)
}

func (e *Enforcer) recordFailures(name string, res filesystem.PurgeResult) {
	for _, err := range res.Failed {
		logging.Warn("Quota purge left %s behind: %v", name, err)
		metrics.QuotaPurgeFailuresTotal.WithLabelValues(name).Inc()
	}
}

// keep protects pinned entries and entries holding a live artifact.
func (e *Enforcer) keep(path string) bool {
	if e.Pinned(path) {
		return true
	}
	if e.live == nil {
		return false
	}
	return containsUnder(e.live.Paths(), filepath.Clean(path))
}

func (e *Enforcer) lockDir(dir string) func() {
	e.locksMu.Lock()
	mu, ok := e.dirLocks[dir]
	if !ok {
		mu = &sync.Mutex{}
		e.dirLocks[dir] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// containsUnder reports whether any path equals root or lies below it.
func containsUnder(paths []string, root string) bool {
	prefix := root + string(filepath.Separator)
	for _, p := range paths {
		if p == root || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
