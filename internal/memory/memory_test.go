package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestGate(alloc *uint64) *Gate {
	g := NewGate(Config{LimitBytes: 1000, PauseAt: 0.8, ResumeAt: 0.5, CheckInterval: time.Hour})
	g.sample = func() uint64 { return *alloc }
	return g
}

func TestNewGateDefaults(t *testing.T) {
	g := NewGate(Config{LimitBytes: 1000, PauseAt: 2, ResumeAt: 0.99})
	if g.cfg.PauseAt != 0.85 {
		t.Errorf("PauseAt = %v, want 0.85", g.cfg.PauseAt)
	}
	if g.cfg.ResumeAt >= g.cfg.PauseAt {
		t.Errorf("ResumeAt = %v, want below PauseAt %v", g.cfg.ResumeAt, g.cfg.PauseAt)
	}
	if g.cfg.CheckInterval != 5*time.Second {
		t.Errorf("CheckInterval = %v, want 5s", g.cfg.CheckInterval)
	}
}

func TestGatePausesAndResumes(t *testing.T) {
	alloc := uint64(100)
	g := newTestGate(&alloc)

	g.check()
	if g.Paused() {
		t.Fatal("gate paused at 10% usage")
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() on open gate = %v", err)
	}

	alloc = 900
	g.check()
	if !g.Paused() {
		t.Fatal("gate open at 90% usage")
	}
	if got := g.Usage(); got != 0.9 {
		t.Errorf("Usage() = %v, want 0.9", got)
	}

	released := make(chan error, 1)
	go func() {
		released <- g.Wait(context.Background())
	}()

	// Between the marks the gate stays closed.
	alloc = 600
	g.check()
	select {
	case err := <-released:
		t.Fatalf("Wait returned %v at 60%% usage", err)
	case <-time.After(50 * time.Millisecond):
	}

	alloc = 400
	g.check()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Wait() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the gate reopened")
	}
}

func TestGateWaitHonorsContext(t *testing.T) {
	alloc := uint64(950)
	g := newTestGate(&alloc)
	g.check()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestGateStopReleasesWaiters(t *testing.T) {
	alloc := uint64(950)
	g := newTestGate(&alloc)
	g.Start()
	g.check()

	released := make(chan error, 1)
	go func() {
		released <- g.Wait(context.Background())
	}()

	g.Stop()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Wait() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release the waiter")
	}
}

func TestGateWithoutLimit(t *testing.T) {
	g := &Gate{cfg: DefaultConfig(), resumed: make(chan struct{}), stop: make(chan struct{}), done: make(chan struct{})}
	g.Start()
	defer g.Stop()

	if g.Usage() != 0 {
		t.Errorf("Usage() = %v, want 0", g.Usage())
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}

func TestParseRatio(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", DefaultMemoryRatio},
		{"0.75", 0.75},
		{"1", 1},
		{"0", DefaultMemoryRatio},
		{"1.5", DefaultMemoryRatio},
		{"half", DefaultMemoryRatio},
	}
	for _, tt := range tests {
		if got := parseRatio(tt.in); got != tt.want {
			t.Errorf("parseRatio(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigureFromEnvWithoutLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	t.Setenv("MEMORY_LIMIT", "")

	res := ConfigureFromEnv()
	if res.Source != "none" || res.Configured() {
		t.Errorf("ConfigureFromEnv() = %+v, want unconfigured", res)
	}
}

func TestConfigureFromEnvInvalidLimit(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	t.Setenv("MEMORY_LIMIT", "lots")

	if res := ConfigureFromEnv(); res.Configured() {
		t.Errorf("ConfigureFromEnv() = %+v, want unconfigured", res)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KiB",
		1 << 30: "1.0 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
