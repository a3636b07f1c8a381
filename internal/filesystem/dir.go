package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-converter/internal/logging"
)

// ErrNoMatch is returned by FindByStem when no candidate file exists.
var ErrNoMatch = errors.New("no matching file")

// ScratchSuffixes are partial, thumbnail and metadata files that external
// tools leave next to their output. They are never treated as an artifact.
var ScratchSuffixes = []string{
	".part", ".ytdl", ".jpg", ".webp", ".png", ".temp", ".tmp", ".json", ".description", ".lock",
}

// DirSize returns the total size in bytes of all regular files below path.
// A missing directory has size zero.
func DirSize(path string) (int64, error) {
	start := time.Now()
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		size += info.Size()
		return nil
	})
	observeOperation(path, "size", time.Since(start).Seconds(), err)
	return size, err
}

// PurgeResult reports what a purge removed and what it could not.
type PurgeResult struct {
	FreedBytes int64
	Removed    int
	Failed     []error
}

// PurgeDir removes every entry directly inside dir for which keep returns
// false. Entries that cannot be removed are recorded in Failed and skipped;
// the purge always continues. A nil keep removes everything.
func PurgeDir(dir string, keep func(path string) bool) (PurgeResult, error) {
	start := time.Now()
	var result PurgeResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		observeOperation(dir, "purge", time.Since(start).Seconds(), err)
		return result, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	config := DefaultRetryConfig()
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if keep != nil && keep(path) {
			continue
		}

		var size int64
		if entry.IsDir() {
			size, _ = DirSize(path)
		} else if info, err := entry.Info(); err == nil {
			size = info.Size()
		}

		if err := RemoveAllWithRetry(path, config); err != nil {
			logging.Warn("failed to remove %s: %v", path, err)
			result.Failed = append(result.Failed, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		result.FreedBytes += size
		result.Removed++
	}

	if o := observe(); o != nil && result.FreedBytes > 0 {
		o.ObserveFreed(defaultResolver.Resolve(dir), result.FreedBytes)
	}
	observeOperation(dir, "purge", time.Since(start).Seconds(), errors.Join(result.Failed...))
	return result, nil
}

// HasSuffixFold reports whether name ends with any of the suffixes, ignoring case.
func HasSuffixFold(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// FindByStem returns the single regular file in dir whose name without its
// final extension equals stem, ignoring files whose names end in one of the
// excluded suffixes. When several candidates remain, the largest wins.
func FindByStem(dir, stem string, excluded []string) (string, error) {
	start := time.Now()
	entries, err := os.ReadDir(dir)
	if err != nil {
		observeOperation(dir, "locate", time.Since(start).Seconds(), err)
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if HasSuffixFold(name, excluded) {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) != stem {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, name)
			bestSize = info.Size()
		}
	}

	if best == "" {
		observeOperation(dir, "locate", time.Since(start).Seconds(), ErrNoMatch)
		return "", fmt.Errorf("%w for %q in %s", ErrNoMatch, stem, dir)
	}
	observeOperation(dir, "locate", time.Since(start).Seconds(), nil)
	return best, nil
}
