package main

import (
	"context"
	"time"

	"media-converter/internal/filesystem"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/output"
)

// usageCounter counts distinct addresses in the usage ledger.
type usageCounter interface {
	CountUsage(ctx context.Context) (int, error)
}

// todayCounter counts artifacts finalized today.
type todayCounter interface {
	CompletedToday(p output.Pipeline) int
}

// statsAdapter feeds the metrics collector from the working directories,
// the usage ledger and the download history.
type statsAdapter struct {
	db   usageCounter
	out  todayCounter
	dirs map[string]string
}

// GetStats implements metrics.StatsProvider
func (a *statsAdapter) GetStats() metrics.Stats {
	stats := metrics.Stats{DirectorySizes: make(map[string]int64, len(a.dirs))}

	for name, dir := range a.dirs {
		size, err := filesystem.DirSize(dir)
		if err != nil {
			logging.Debug("Failed to size %s directory: %v", name, err)
			continue
		}
		stats.DirectorySizes[name] = size
	}

	if a.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := a.db.CountUsage(ctx)
		cancel()
		if err != nil {
			logging.Debug("Failed to count usage clients: %v", err)
		}
		stats.UsageClients = n
	}

	if a.out != nil {
		stats.DownloadsToday = a.out.CompletedToday(output.PipelineDownload)
	}
	return stats
}
