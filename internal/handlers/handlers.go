package handlers

import (
	"context"
	"sync/atomic"
	"time"

	"media-converter/internal/database"
	"media-converter/internal/jobs"
	"media-converter/internal/output"
	"media-converter/internal/progress"
	"media-converter/internal/streaming"
)

// Pipeline accepts and reports jobs. *jobs.Pipeline implements it.
type Pipeline interface {
	NewToken() (string, error)
	SubmitDownload(ctx context.Context, req jobs.DownloadRequest) (string, error)
	SubmitConversion(ctx context.Context, req jobs.ConversionRequest) (string, error)
	Status(ctx context.Context, tok string) (*jobs.Status, error)
	Active() int
}

// UsageStore reads the usage ledger. *database.Database implements it.
type UsageStore interface {
	GetUsage(ctx context.Context, address string) (*database.Usage, error)
	Ping(ctx context.Context) error
}

// Config holds handler settings.
type Config struct {
	// MaxUploadSize bounds conversion request bodies in bytes.
	MaxUploadSize int64
	// MaxProgressWait caps the wait parameter of progress long polls.
	MaxProgressWait time.Duration
	// Stream configures artifact delivery.
	Stream streaming.TimeoutWriterConfig

	FFmpegAvailable     bool
	DownloaderAvailable bool
}

const (
	defaultMaxUploadSize   = 5_000_000_000
	defaultMaxProgressWait = 30 * time.Second
	// multipartMemory is the part of an upload kept in memory while parsing.
	multipartMemory = 32 << 20
)

type Handlers struct {
	pipeline Pipeline
	progress *progress.Channel
	output   *output.Manager
	usage    UsageStore
	cfg      Config

	startTime time.Time
	ready     atomic.Bool
}

// New creates the handlers. usage may be nil.
func New(pipeline Pipeline, ch *progress.Channel, out *output.Manager, usage UsageStore, cfg Config) *Handlers {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}
	if cfg.MaxProgressWait <= 0 {
		cfg.MaxProgressWait = defaultMaxProgressWait
	}
	if cfg.Stream.WriteTimeout <= 0 {
		cfg.Stream = streaming.DefaultTimeoutWriterConfig()
	}
	return &Handlers{
		pipeline:  pipeline,
		progress:  ch,
		output:    out,
		usage:     usage,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept jobs.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}
