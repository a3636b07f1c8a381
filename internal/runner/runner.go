package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"media-converter/internal/filesystem"
	"media-converter/internal/logging"
	"media-converter/internal/params"
)

// Kind classifies a failed run.
type Kind string

const (
	KindExternalTool     Kind = "external_tool"
	KindTimeout          Kind = "timeout"
	KindCanceled         Kind = "canceled"
	KindArtifactNotFound Kind = "artifact_not_found"
	KindInternal         Kind = "internal"
)

// DefaultTimeout bounds a run when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Minute

// DefaultStderrTail is how many trailing bytes of stderr are kept.
const DefaultStderrTail = 64 * 1024

// Sink receives progress lines. *progress.Writer implements it.
type Sink interface {
	WriteLine(line string) error
}

// Result is the outcome of one run.
type Result struct {
	Succeeded bool
	// OutputPath is the produced file.
	OutputPath string
	// Dir and Stem identify the output for later lookup.
	Dir  string
	Stem string
	// Extension is the discovered extension without the dot.
	Extension string

	Kind       Kind
	Diagnostic string
	Duration   time.Duration
}

// Err returns nil for a successful result and a *Failure otherwise.
func (r Result) Err() error {
	if r.Succeeded {
		return nil
	}
	return &Failure{Kind: r.Kind, Diagnostic: r.Diagnostic}
}

// Failure is the error form of a failed Result.
type Failure struct {
	Kind       Kind
	Diagnostic string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Diagnostic)
}

// Config holds runner settings.
type Config struct {
	FFmpegPath     string
	DownloaderPath string
	Timeout        time.Duration
	StderrTail     int
	// WaitDelay bounds how long Wait waits for output pipes after the
	// process is killed.
	WaitDelay time.Duration
}

// Runner starts and tracks external tool processes.
type Runner struct {
	cfg       Config
	processes map[string]*exec.Cmd
	processMu sync.Mutex
}

// New creates a Runner, filling unset Config fields with defaults.
func New(cfg Config) *Runner {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.DownloaderPath == "" {
		cfg.DownloaderPath = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StderrTail <= 0 {
		cfg.StderrTail = DefaultStderrTail
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 5 * time.Second
	}
	return &Runner{
		cfg:       cfg,
		processes: make(map[string]*exec.Cmd),
	}
}

// Timeout returns the maximum duration of a run.
func (r *Runner) Timeout() time.Duration {
	return r.cfg.Timeout
}

func (r *Runner) binary(tool params.Tool) string {
	if tool == params.ToolDownloader {
		return r.cfg.DownloaderPath
	}
	return r.cfg.FFmpegPath
}

// Run executes spec to completion, appending its progress lines to sink.
// It blocks for the lifetime of the process and never returns an error;
// failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, spec *params.InvocationSpec, sink Sink) Result {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var res Result
	switch spec.Tool {
	case params.ToolFFmpeg:
		res = r.runFFmpeg(ctx, runCtx, spec, sink)
	case params.ToolDownloader:
		res = r.runDownloader(ctx, runCtx, spec, sink)
	default:
		res = failed(KindInternal, fmt.Sprintf("unsupported tool %v", spec.Tool))
	}

	res.Duration = time.Since(start)
	return res
}

func (r *Runner) runFFmpeg(parent, ctx context.Context, spec *params.InvocationSpec, sink Sink) Result {
	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0o755); err != nil {
		return failed(KindInternal, fmt.Sprintf("failed to create output directory: %v", err))
	}
	if res, ok := r.execute(parent, ctx, spec.OutputPath, spec.Tool, spec.Args(), sink); !ok {
		return res
	}

	info, err := filesystem.StatWithRetry(spec.OutputPath, filesystem.DefaultRetryConfig())
	if err != nil || !info.Mode().IsRegular() {
		return failed(KindArtifactNotFound, fmt.Sprintf("ffmpeg exited successfully but %s was not produced", filepath.Base(spec.OutputPath)))
	}

	base := filepath.Base(spec.OutputPath)
	return Result{
		Succeeded:  true,
		OutputPath: spec.OutputPath,
		Dir:        filepath.Dir(spec.OutputPath),
		Stem:       strings.TrimSuffix(base, filepath.Ext(base)),
		Extension:  spec.Extension,
	}
}

func (r *Runner) runDownloader(parent, ctx context.Context, spec *params.InvocationSpec, sink Sink) Result {
	dir := filepath.Dir(spec.OutputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failed(KindInternal, fmt.Sprintf("failed to create output directory: %v", err))
	}

	stem, res, ok := r.lookupStem(parent, ctx, spec)
	if !ok {
		return res
	}
	logging.Debug("Downloader reported file stem %q", stem)

	if res, ok := r.execute(parent, ctx, spec.OutputPath, spec.Tool, spec.Args(), sink); !ok {
		return res
	}

	path, err := filesystem.FindByStem(dir, stem, filesystem.ScratchSuffixes)
	if err != nil {
		return failed(KindArtifactNotFound, fmt.Sprintf("download finished but no file named %q was found", stem))
	}
	return Result{
		Succeeded:  true,
		OutputPath: path,
		Dir:        dir,
		Stem:       stem,
		Extension:  strings.TrimPrefix(filepath.Ext(path), "."),
	}
}

// lookupStem runs the downloader with its name-only arguments and returns the
// base name of the announced file without its extension.
func (r *Runner) lookupStem(parent, ctx context.Context, spec *params.InvocationSpec) (string, Result, bool) {
	var out bytes.Buffer
	tail := newTailBuffer(r.cfg.StderrTail)

	cmd := exec.CommandContext(ctx, r.binary(spec.Tool), spec.NameArgs()...)
	cmd.Stdout = &out
	cmd.Stderr = tail
	cmd.WaitDelay = r.cfg.WaitDelay

	if res, ok := r.track(parent, ctx, spec.OutputPath, spec.Tool, cmd, tail); !ok {
		return "", res, false
	}

	var name string
	for _, line := range strings.Split(out.String(), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			name = s
		}
	}
	if name == "" {
		return "", failed(KindArtifactNotFound, "downloader did not report a file name"), false
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base)), Result{}, true
}

// execute runs the main tool invocation with stdout streamed to sink.
func (r *Runner) execute(parent, ctx context.Context, key string, tool params.Tool, args []string, sink Sink) (Result, bool) {
	tail := newTailBuffer(r.cfg.StderrTail)
	lines := &lineWriter{sink: sink}

	cmd := exec.CommandContext(ctx, r.binary(tool), args...)
	cmd.Stdout = lines
	cmd.Stderr = tail
	cmd.WaitDelay = r.cfg.WaitDelay

	res, ok := r.track(parent, ctx, key, tool, cmd, tail)
	lines.Flush()
	if lines.err != nil {
		logging.Warn("progress sink failed for %s: %v", key, lines.err)
	}
	return res, ok
}

// track starts cmd, registers it for Cleanup, waits and classifies the exit.
func (r *Runner) track(parent, ctx context.Context, key string, tool params.Tool, cmd *exec.Cmd, tail *tailBuffer) (Result, bool) {
	if err := cmd.Start(); err != nil {
		return failed(KindExternalTool, fmt.Sprintf("failed to start %s: %v", tool, err)), false
	}

	r.processMu.Lock()
	r.processes[key] = cmd
	r.processMu.Unlock()

	defer func() {
		r.processMu.Lock()
		delete(r.processes, key)
		r.processMu.Unlock()
	}()

	err := cmd.Wait()
	if err == nil {
		return Result{}, true
	}
	return r.classify(parent, ctx, tool, err, tail), false
}

func (r *Runner) classify(parent, ctx context.Context, tool params.Tool, err error, tail *tailBuffer) Result {
	diag := strings.TrimSpace(tail.String())

	switch {
	case parent.Err() != nil:
		return failed(KindCanceled, joinDiag("job canceled", diag))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failed(KindTimeout, joinDiag(fmt.Sprintf("%s timed out after %v", tool, r.cfg.Timeout), diag))
	}

	if diag == "" {
		diag = fmt.Sprintf("%s failed: %v", tool, err)
	}
	return failed(KindExternalTool, diag)
}

func joinDiag(head, diag string) string {
	if diag == "" {
		return head
	}
	return head + "\n" + diag
}

func failed(kind Kind, diag string) Result {
	return Result{Kind: kind, Diagnostic: diag}
}

// Active returns the number of running processes.
func (r *Runner) Active() int {
	r.processMu.Lock()
	defer r.processMu.Unlock()
	return len(r.processes)
}

// Cleanup kills all running processes.
func (r *Runner) Cleanup() {
	r.processMu.Lock()
	defer r.processMu.Unlock()

	for key, cmd := range r.processes {
		if cmd.Process != nil {
			logging.Info("Killing process for: %s", key)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill process for %s: %v", key, err)
			}
		}
	}
}
