package memory

import (
	"context"
	"runtime"
	"sync"
	"time"

	"media-converter/internal/logging"
	"media-converter/internal/metrics"
)

// Config holds gate settings.
type Config struct {
	// LimitBytes is the reference limit; 0 uses the runtime memory limit.
	LimitBytes int64
	// PauseAt is the heap share at which admission pauses (0.0-1.0).
	PauseAt float64
	// ResumeAt is the heap share below which admission resumes.
	ResumeAt float64
	// CheckInterval is how often the heap is sampled.
	CheckInterval time.Duration
}

// DefaultConfig returns the default gate settings.
func DefaultConfig() Config {
	return Config{
		PauseAt:       0.85,
		ResumeAt:      0.7,
		CheckInterval: 5 * time.Second,
	}
}

// Gate holds back new jobs while the heap is close to the memory limit.
// Jobs already running are not affected. Without a limit it never closes.
type Gate struct {
	cfg    Config
	limit  int64
	sample func() uint64

	mu      sync.Mutex
	alloc   uint64
	paused  bool
	resumed chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewGate creates a Gate. Call Start to begin sampling.
func NewGate(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.PauseAt <= 0 || cfg.PauseAt > 1 {
		cfg.PauseAt = def.PauseAt
	}
	if cfg.ResumeAt <= 0 || cfg.ResumeAt >= cfg.PauseAt {
		cfg.ResumeAt = cfg.PauseAt * 0.8
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	limit := cfg.LimitBytes
	if limit == 0 {
		limit = currentLimit()
	}
	if limit == 0 {
		logging.Info("Memory gate: no memory limit configured, admission is never paused")
	}

	return &Gate{
		cfg:     cfg,
		limit:   limit,
		sample:  heapAlloc,
		resumed: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start begins sampling in the background.
func (g *Gate) Start() {
	if g.limit == 0 {
		close(g.done)
		return
	}
	go g.loop()
}

// Stop ends sampling and releases every waiter.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stop)
	})
	<-g.done
}

func (g *Gate) loop() {
	defer close(g.done)
	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.check()
		case <-g.stop:
			return
		}
	}
}

// check samples the heap and opens or closes the gate.
func (g *Gate) check() {
	alloc := g.sample()
	usage := float64(alloc) / float64(g.limit)
	metrics.MemoryUsageRatio.Set(usage)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.alloc = alloc

	switch {
	case !g.paused && usage >= g.cfg.PauseAt:
		logging.Warn("Memory at %.1f%% of limit, pausing job admission", usage*100)
		g.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryPausesTotal.Inc()
		go runtime.GC()
	case g.paused && usage < g.cfg.ResumeAt:
		logging.Info("Memory at %.1f%% of limit, resuming job admission", usage*100)
		g.paused = false
		metrics.MemoryPaused.Set(0)
		close(g.resumed)
		g.resumed = make(chan struct{})
	}
}

// Wait blocks while admission is paused. It returns ctx's error if ctx ends
// first, and nil once the gate opens or is stopped.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	resumed := g.resumed
	g.mu.Unlock()

	logging.Debug("Job waiting for memory pressure to ease")
	select {
	case <-resumed:
		return nil
	case <-g.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused reports whether admission is paused.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Usage returns the last sampled heap share of the limit, 0 without a limit.
func (g *Gate) Usage() float64 {
	if g.limit == 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.alloc) / float64(g.limit)
}
