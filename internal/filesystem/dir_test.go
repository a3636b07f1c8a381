package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatal(err)
	}
}

type recordingObserver struct {
	ops   []string
	freed int64
}

func (r *recordingObserver) ObserveOperation(volume, operation string, _ float64, _ error) {
	r.ops = append(r.ops, volume+":"+operation)
}

func (r *recordingObserver) ObserveRetryAttempt(string, string) {}

func (r *recordingObserver) ObserveFreed(_ string, bytes int64) {
	r.freed += bytes
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), 100)
	writeFile(t, filepath.Join(dir, "sub", "b"), 250)

	size, err := DirSize(dir)
	if err != nil {
		t.Fatalf("DirSize() error = %v", err)
	}
	if size != 350 {
		t.Errorf("DirSize() = %d, want 350", size)
	}

	size, err = DirSize(filepath.Join(dir, "missing"))
	if err != nil || size != 0 {
		t.Errorf("DirSize(missing) = %d, %v; want 0, nil", size, err)
	}
}

func TestPurgeDir(t *testing.T) {
	obs := &recordingObserver{}
	SetObserver(obs)
	t.Cleanup(func() { SetObserver(nil) })

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), 10)
	writeFile(t, filepath.Join(dir, "b"), 20)
	writeFile(t, filepath.Join(dir, "keep"), 30)
	writeFile(t, filepath.Join(dir, "job", "c"), 40)

	keepPath := filepath.Join(dir, "keep")
	result, err := PurgeDir(dir, func(path string) bool { return path == keepPath })
	if err != nil {
		t.Fatalf("PurgeDir() error = %v", err)
	}

	if result.Removed != 3 {
		t.Errorf("Removed = %d, want 3", result.Removed)
	}
	if result.FreedBytes != 70 {
		t.Errorf("FreedBytes = %d, want 70", result.FreedBytes)
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %v, want none", result.Failed)
	}
	if obs.freed != 70 {
		t.Errorf("observer freed = %d, want 70", obs.freed)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "keep" {
		t.Errorf("Remaining entries = %v, want only keep", entries)
	}
}

func TestPurgeDir_Missing(t *testing.T) {
	result, err := PurgeDir(filepath.Join(t.TempDir(), "missing"), nil)
	if err != nil {
		t.Fatalf("PurgeDir(missing) error = %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d, want 0", result.Removed)
	}
}

func TestFindByStem(t *testing.T) {
	excluded := []string{".part", ".ytdl", ".jpg", ".webp"}

	tests := []struct {
		name    string
		files   map[string]int
		stem    string
		want    string
		wantErr bool
	}{
		{
			name:  "single match",
			files: map[string]int{"Song_Title.mp3": 10},
			stem:  "Song_Title",
			want:  "Song_Title.mp3",
		},
		{
			name:  "ignores scratch suffixes",
			files: map[string]int{"Clip.webm.part": 50, "Clip.jpg": 5, "Clip.mkv": 40, "Clip.webp": 3},
			stem:  "Clip",
			want:  "Clip.mkv",
		},
		{
			name:  "ignores other stems",
			files: map[string]int{"Other.mp4": 10, "Clip.mp4": 10},
			stem:  "Clip",
			want:  "Clip.mp4",
		},
		{
			name:  "largest candidate wins",
			files: map[string]int{"Clip.m4a": 10, "Clip.mp4": 100},
			stem:  "Clip",
			want:  "Clip.mp4",
		},
		{
			name:    "only partial files",
			files:   map[string]int{"Clip.mp4.part": 10, "Clip.mp4.ytdl": 1},
			stem:    "Clip",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, size := range tt.files {
				writeFile(t, filepath.Join(dir, name), size)
			}

			got, err := FindByStem(dir, tt.stem, excluded)
			if tt.wantErr {
				if !errors.Is(err, ErrNoMatch) {
					t.Fatalf("FindByStem() error = %v, want ErrNoMatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindByStem() error = %v", err)
			}
			if filepath.Base(got) != tt.want {
				t.Errorf("FindByStem() = %s, want %s", filepath.Base(got), tt.want)
			}
		})
	}
}

func TestHasSuffixFold(t *testing.T) {
	suffixes := []string{".part", ".jpg"}
	if !HasSuffixFold("video.MP4.PART", suffixes) {
		t.Error("Expected case-insensitive suffix match")
	}
	if HasSuffixFold("video.mp4", suffixes) {
		t.Error("Did not expect a match for video.mp4")
	}
}
