package quota

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

type staticLive []string

func (s staticLive) Paths() []string { return s }

func writeFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	// Sparse files keep large fixtures cheap.
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func newEnforcer(t *testing.T, live LiveSet) (*Enforcer, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ScratchDir: filepath.Join(root, "scratch"),
		Uploads:    Policy{Name: "uploads", Dir: filepath.Join(root, "uploads")},
		Downloads:  Policy{Name: "downloads", Dir: filepath.Join(root, "downloads")},
	}
	for _, d := range []string{cfg.ScratchDir, cfg.Uploads.Dir, cfg.Downloads.Dir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return New(cfg, live), root
}

func TestNewDefaultsCeiling(t *testing.T) {
	e := New(Config{}, nil)
	if e.cfg.Uploads.Ceiling != DefaultCeiling || e.cfg.Downloads.Ceiling != DefaultCeiling {
		t.Errorf("ceilings = %d/%d, want %d", e.cfg.Uploads.Ceiling, e.cfg.Downloads.Ceiling, DefaultCeiling)
	}
}

func TestBeforeConversion_OverCeilingEmptiesUploads(t *testing.T) {
	e, root := newEnforcer(t, nil)
	uploads := filepath.Join(root, "uploads")
	writeFile(t, filepath.Join(uploads, "a", "big1.mov"), 600_000_000)
	writeFile(t, filepath.Join(uploads, "b", "big2.mov"), 600_000_000)

	rep := e.BeforeConversion(context.Background())

	if !rep.Purged {
		t.Error("Purged = false, want true")
	}
	if rep.StagingFreed != 1_200_000_000 {
		t.Errorf("StagingFreed = %d, want 1200000000", rep.StagingFreed)
	}
	if names := entries(t, uploads); len(names) != 0 {
		t.Errorf("uploads not empty: %v", names)
	}
}

func TestBeforeConversion_UnderCeilingUntouched(t *testing.T) {
	e, root := newEnforcer(t, nil)
	uploads := filepath.Join(root, "uploads")
	writeFile(t, filepath.Join(uploads, "a", "small.mov"), 400_000_000)
	writeFile(t, filepath.Join(uploads, "b", "small.mov"), 500_000_000)

	rep := e.BeforeConversion(context.Background())

	if rep.Purged {
		t.Error("Purged = true, want false")
	}
	if rep.StagingSize != 900_000_000 {
		t.Errorf("StagingSize = %d", rep.StagingSize)
	}
	if names := entries(t, uploads); len(names) != 2 {
		t.Errorf("uploads = %v, want both entries", names)
	}
}

func TestScratchPurgeSkipsPinned(t *testing.T) {
	e, root := newEnforcer(t, nil)
	scratch := filepath.Join(root, "scratch")
	writeFile(t, filepath.Join(scratch, "done", "old.mp3"), 10)
	writeFile(t, filepath.Join(scratch, "running", "partial.mp3"), 10)

	e.Pin(filepath.Join(scratch, "running"))
	rep := e.BeforeDownload(context.Background())

	if rep.ScratchFreed != 10 {
		t.Errorf("ScratchFreed = %d, want 10", rep.ScratchFreed)
	}
	names := entries(t, scratch)
	if len(names) != 1 || names[0] != "running" {
		t.Errorf("scratch = %v, want [running]", names)
	}

	e.Unpin(filepath.Join(scratch, "running"))
	e.PurgeScratch()
	if names := entries(t, scratch); len(names) != 0 {
		t.Errorf("scratch after unpin = %v, want empty", names)
	}
}

func TestPinIsCounted(t *testing.T) {
	e := New(Config{}, nil)
	e.Pin("/data/scratch/x")
	e.Pin("/data/scratch/x")
	e.Unpin("/data/scratch/x")
	if !e.Pinned("/data/scratch/x") {
		t.Error("path unpinned after one of two Unpin calls")
	}
	e.Unpin("/data/scratch/x")
	if e.Pinned("/data/scratch/x") {
		t.Error("path still pinned")
	}
	e.Pin("/data/uploads/tok/file.mov")
	if !e.Pinned("/data/uploads/tok") {
		t.Error("parent of pinned path not reported as pinned")
	}
}

func TestEnforceKeepsLiveArtifacts(t *testing.T) {
	root := t.TempDir()
	downloads := filepath.Join(root, "downloads")
	live := filepath.Join(downloads, "tok1", "clip.mkv")
	writeFile(t, live, 300)
	writeFile(t, filepath.Join(downloads, "tok2", "stale.mkv"), 300)
	writeFile(t, filepath.Join(downloads, "tok3", "inflight.mkv"), 300)

	e := New(Config{}, staticLive{live})
	e.Pin(filepath.Join(downloads, "tok3"))

	rep := e.Enforce(Policy{Name: "downloads", Dir: downloads, Ceiling: 500})
	if !rep.Purged || rep.StagingFreed != 300 {
		t.Errorf("report = %+v", rep)
	}
	names := entries(t, downloads)
	if len(names) != 2 {
		t.Errorf("downloads = %v, want tok1 and tok3", names)
	}
}

func TestPurgeFailureIsNotFatal(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs POSIX permissions and a non-root user")
	}
	e, root := newEnforcer(t, nil)
	uploads := filepath.Join(root, "uploads")
	locked := filepath.Join(uploads, "locked")
	writeFile(t, filepath.Join(locked, "stuck.mov"), 800)
	writeFile(t, filepath.Join(uploads, "free", "gone.mov"), 800)
	if err := os.Chmod(locked, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	rep := e.Enforce(Policy{Name: "uploads", Dir: uploads, Ceiling: 1000})
	if rep.Failures == 0 {
		t.Error("Failures = 0, want the locked entry reported")
	}
	names := entries(t, uploads)
	if len(names) != 1 || names[0] != "locked" {
		t.Errorf("uploads = %v, want [locked]", names)
	}
}

func TestBeforeConversionCanceledContextSkipsStaging(t *testing.T) {
	e, root := newEnforcer(t, nil)
	writeFile(t, filepath.Join(root, "uploads", "a", "big.mov"), 2_000_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := e.BeforeConversion(ctx)
	if rep.Purged {
		t.Error("staging purged despite canceled context")
	}
}
