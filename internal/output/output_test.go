package output

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"media-converter/internal/token"
)

type fakeUsage struct {
	mu      sync.Mutex
	records map[string][]float64
}

func (f *fakeUsage) RecordUsage(_ context.Context, address string, mb float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = make(map[string][]float64)
	}
	f.records[address] = append(f.records[address], mb)
	return nil
}

type testEnv struct {
	root    string
	manager *Manager
	usage   *fakeUsage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	usage := &fakeUsage{}
	m := NewManager(Config{
		DownloadDir:   filepath.Join(root, "downloads"),
		ConversionDir: filepath.Join(root, "conversions"),
		LogDir:        filepath.Join(root, "logs"),
	}, NewSlots(), usage)
	return &testEnv{root: root, manager: m, usage: usage}
}

// produce writes a fake tool output into a fresh work directory.
func (e *testEnv) produce(t *testing.T, name string, size int) string {
	t.Helper()
	dir, err := os.MkdirTemp(e.root, "work")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"My_Song#1%.mp3", "My Song1.mp3"},
		{"plain.mp4", "plain.mp4"},
		{"__a__", "  a  "},
		{"100%_done#.ogg", "100 done.ogg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if twice := Sanitize(got); twice != got {
				t.Errorf("Sanitize not idempotent: %q -> %q", got, twice)
			}
			if strings.ContainsAny(got, "#%") {
				t.Errorf("Sanitize(%q) = %q still contains # or %%", tt.input, got)
			}
		})
	}
}

func TestMegabytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  float64
	}{
		{0, 0},
		{1_234_567, 1.23},
		{10_000_000, 10},
		{2_499_000, 2.5},
	}
	for _, tt := range tests {
		if got := Megabytes(tt.bytes); got != tt.want {
			t.Errorf("Megabytes(%d) = %v, want %v", tt.bytes, got, tt.want)
		}
	}
}

func TestFinalize(t *testing.T) {
	env := newTestEnv(t)
	dir := env.produce(t, "My_Song#1%_v2.mp3", 2_500_000)
	if err := os.WriteFile(filepath.Join(dir, "My_Song#1%_v2.jpg"), make([]byte, 9_000_000), 0o644); err != nil {
		t.Fatal(err)
	}
	tok := token.New()

	art, err := env.manager.Finalize(context.Background(), FinalizeRequest{
		Pipeline: PipelineConversion,
		Token:    tok,
		Session:  "s1",
		Address:  "10.0.0.1",
		WorkDir:  dir,
		Stem:     "My_Song#1%_v2",
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if art.DisplayName != "My Song1 v2.mp3" {
		t.Errorf("DisplayName = %q", art.DisplayName)
	}
	if art.Path != "conversions/"+tok+"/My Song1 v2.mp3" {
		t.Errorf("Path = %q", art.Path)
	}
	if art.URL != "/conversions/"+tok+"/My%20Song1%20v2.mp3" {
		t.Errorf("URL = %q", art.URL)
	}
	if art.Extension != "mp3" || art.Megabytes != 2.5 || !art.Renamed {
		t.Errorf("unexpected artifact: %+v", art)
	}
	if _, err := os.Stat(filepath.Join(dir, "My_Song#1%_v2.mp3")); !os.IsNotExist(err) {
		t.Error("working file still present after finalize")
	}

	got, err := env.manager.ResolvePath(art.Path)
	if err != nil || got != art.DiskPath {
		t.Errorf("ResolvePath() = %q, %v; want %q", got, err, art.DiskPath)
	}

	if recs := env.usage.records["10.0.0.1"]; len(recs) != 1 || recs[0] != 2.5 {
		t.Errorf("usage records = %v, want [2.5]", recs)
	}

	history, err := os.ReadFile(filepath.Join(env.root, "logs", "conversions.txt"))
	if err != nil {
		t.Fatalf("history log: %v", err)
	}
	if string(history) != "My Song1 v2.mp3\n" {
		t.Errorf("history = %q", history)
	}
	if n := env.manager.CompletedToday(PipelineConversion); n != 1 {
		t.Errorf("CompletedToday() = %d, want 1", n)
	}
}

func TestFinalizeEvictsPreviousArtifact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.manager.Finalize(ctx, FinalizeRequest{
		Pipeline: PipelineConversion, Token: token.New(), Session: "s1",
		WorkDir: env.produce(t, "a.mp3", 10), Stem: "a",
	})
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.manager.Finalize(ctx, FinalizeRequest{
		Pipeline: PipelineConversion, Token: token.New(), Session: "s2",
		WorkDir: env.produce(t, "c.mp3", 10), Stem: "c",
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.manager.Finalize(ctx, FinalizeRequest{
		Pipeline: PipelineConversion, Token: token.New(), Session: "s1",
		WorkDir: env.produce(t, "b.mp3", 10), Stem: "b",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.manager.ResolvePath(first.Path); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("first artifact still resolvable: %v", err)
	}
	if _, err := os.Stat(first.DiskPath); !os.IsNotExist(err) {
		t.Error("first artifact bytes still on disk")
	}
	if _, err := os.Stat(filepath.Dir(first.DiskPath)); !os.IsNotExist(err) {
		t.Error("first artifact directory not removed")
	}
	if _, err := env.manager.ResolvePath(second.Path); err != nil {
		t.Errorf("second artifact not resolvable: %v", err)
	}
	if _, err := env.manager.ResolvePath(other.Path); err != nil {
		t.Errorf("other session's artifact was evicted: %v", err)
	}
	if got := env.manager.Slots().Get(PipelineConversion, "s1"); got != second.DiskPath {
		t.Errorf("slot = %q, want %q", got, second.DiskPath)
	}
}

func TestFinalizeRenameConflictServesWorkingName(t *testing.T) {
	env := newTestEnv(t)
	tok := token.New()
	dir := env.produce(t, "clip_one.mkv", 10)

	jobDir := filepath.Join(env.root, "downloads", tok)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "clip one.mkv"), []byte("squatter"), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := env.manager.Finalize(context.Background(), FinalizeRequest{
		Pipeline: PipelineDownload, Token: tok, Session: "s", WorkDir: dir, Stem: "clip_one",
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if art.Renamed {
		t.Error("Renamed = true, want false")
	}
	if art.DisplayName != "clip_one.mkv" {
		t.Errorf("DisplayName = %q, want working name", art.DisplayName)
	}
	if _, err := env.manager.Resolve(PipelineDownload, tok, "clip_one.mkv"); err != nil {
		t.Errorf("Resolve(working name) error = %v", err)
	}
}

func TestFinalizeArtifactNotFound(t *testing.T) {
	env := newTestEnv(t)
	dir := env.produce(t, "video.webm.part", 10)

	_, err := env.manager.Finalize(context.Background(), FinalizeRequest{
		Pipeline: PipelineDownload, Token: token.New(), WorkDir: dir, Stem: "video",
	})
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Finalize() error = %v, want ErrArtifactNotFound", err)
	}
	if n := env.manager.Slots().Len(); n != 0 {
		t.Errorf("slots = %d, want 0", n)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	env := newTestEnv(t)
	tok := token.New()

	tests := []struct {
		name string
		tok  string
		file string
	}{
		{"dotdot name", tok, ".."},
		{"hidden", tok, ".env"},
		{"slash", tok, "a/b"},
		{"backslash", tok, `a\b`},
		{"bad token", "../x", "a.mp3"},
		{"empty", tok, ""},
		{"missing", tok, "nope.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.manager.Resolve(PipelineDownload, tt.tok, tt.file); !errors.Is(err, ErrArtifactNotFound) {
				t.Errorf("Resolve() error = %v, want ErrArtifactNotFound", err)
			}
		})
	}

	for _, rel := range []string{"", "downloads", "other/" + tok + "/a.mp3", "downloads/../../etc/passwd"} {
		if _, err := env.manager.ResolvePath(rel); !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("ResolvePath(%q) error = %v, want ErrArtifactNotFound", rel, err)
		}
	}
}

func TestSlots(t *testing.T) {
	s := NewSlots()
	if prev := s.Swap(PipelineDownload, "a", "/x"); prev != "" {
		t.Errorf("Swap() on empty slot = %q", prev)
	}
	if prev := s.Swap(PipelineDownload, "a", "/y"); prev != "/x" {
		t.Errorf("Swap() = %q, want /x", prev)
	}
	s.Swap(PipelineConversion, "a", "/z")

	if !s.Live("/y") || s.Live("/x") {
		t.Error("Live() reports wrong paths")
	}
	if s.Len() != 2 || len(s.Paths()) != 2 {
		t.Errorf("Len() = %d, Paths() = %v", s.Len(), s.Paths())
	}
}

func TestSlotsExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSlots()
	s.now = func() time.Time { return now }
	s.Swap(PipelineDownload, "old", "/downloads/a/x.mkv")
	s.Swap(PipelineConversion, "old", "/conversions/b/y.mp3")

	now = now.Add(time.Hour)
	s.Swap(PipelineDownload, "new", "/downloads/c/z.mkv")

	expired := s.Expire(now.Add(-time.Minute))
	if got := expired[PipelineDownload]; len(got) != 1 || got[0] != "/downloads/a/x.mkv" {
		t.Errorf("expired downloads = %v", got)
	}
	if got := expired[PipelineConversion]; len(got) != 1 || got[0] != "/conversions/b/y.mp3" {
		t.Errorf("expired conversions = %v", got)
	}
	if s.Len() != 1 || s.Get(PipelineDownload, "new") != "/downloads/c/z.mkv" {
		t.Errorf("remaining slots = %v", s.Paths())
	}
	if len(s.Expire(now.Add(-time.Minute))) != 0 {
		t.Error("second Expire() returned paths")
	}
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.manager.Finalize(ctx, FinalizeRequest{
		Pipeline: PipelineConversion, Token: token.New(), Session: "s1",
		WorkDir: env.produce(t, "a.mp3", 10), Stem: "a",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Left behind by an earlier process: no slot holds it.
	orphan := filepath.Join(env.root, "downloads", token.New())
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(orphan, "clip.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A running job's directory is never touched.
	running := token.New()
	busyDir := filepath.Join(env.root, "downloads", running)
	if err := os.MkdirAll(busyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	busy := func(tok string) bool { return tok == running }

	n, err := env.manager.Sweep(time.Now().Add(-time.Hour), busy)
	if err != nil || n != 0 {
		t.Fatalf("Sweep(hour ago) = %d, %v; want 0, nil", n, err)
	}
	if _, err := env.manager.ResolvePath(held.Path); err != nil {
		t.Errorf("fresh artifact removed: %v", err)
	}

	n, err = env.manager.Sweep(time.Now().Add(time.Second), busy)
	if err != nil {
		t.Fatalf("Sweep(now) error = %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep(now) = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Dir(held.DiskPath)); !os.IsNotExist(err) {
		t.Error("expired artifact directory still on disk")
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphaned artifact directory still on disk")
	}
	if _, err := os.Stat(busyDir); err != nil {
		t.Errorf("running job directory removed: %v", err)
	}
	if env.manager.Slots().Len() != 0 {
		t.Errorf("slots = %v, want none", env.manager.Slots().Paths())
	}
}

func TestArtifactAt(t *testing.T) {
	art := ArtifactAt("downloads/tok/My Clip.mkv", 1.5)
	if art == nil {
		t.Fatal("ArtifactAt() = nil")
	}
	if art.URL != "/downloads/tok/My%20Clip.mkv" || art.Extension != "mkv" || art.DisplayName != "My Clip.mkv" {
		t.Errorf("ArtifactAt() = %+v", art)
	}
	if ArtifactAt("bad", 0) != nil {
		t.Error("ArtifactAt(bad) != nil")
	}
}
