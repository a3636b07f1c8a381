package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"media-converter/internal/database"
	"media-converter/internal/logging"
	"media-converter/internal/output"
	"media-converter/internal/params"
	"media-converter/internal/progress"
	"media-converter/internal/quota"
	"media-converter/internal/runner"
	"media-converter/internal/token"
	"media-converter/internal/workers"
)

var (
	// ErrUnknownJob is returned by Status for tokens that were never issued.
	ErrUnknownJob = errors.New("unknown job")
	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// State is a job's lifecycle state.
type State string

const (
	// StatePending means a token was issued but nothing was submitted yet.
	StatePending   State = "pending"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status is the client-visible view of a job.
type Status struct {
	Token       string           `json:"token"`
	Pipeline    output.Pipeline  `json:"pipeline,omitempty"`
	Operation   string           `json:"operation,omitempty"`
	State       State            `json:"state"`
	Artifact    *output.Artifact `json:"artifact,omitempty"`
	FailureKind runner.Kind      `json:"failureKind,omitempty"`
	Diagnostic  string           `json:"diagnostic,omitempty"`
	SubmittedAt time.Time        `json:"submittedAt,omitempty"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
}

// Runner executes one invocation. *runner.Runner implements it.
type Runner interface {
	Run(ctx context.Context, spec *params.InvocationSpec, sink runner.Sink) runner.Result
}

// Store persists job records. *database.Database implements it.
type Store interface {
	CreateJob(ctx context.Context, rec database.JobRecord) error
	FinishJob(ctx context.Context, token string, out database.JobOutcome) error
	GetJob(ctx context.Context, token string) (*database.JobRecord, error)
	PruneJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Gate holds back job starts. *memory.Gate implements it.
type Gate interface {
	Wait(ctx context.Context) error
}

// Config holds pipeline settings.
type Config struct {
	UploadDir  string
	ScratchDir string
	// MaxJobs bounds concurrent jobs; 0 sizes the pool from the CPU count.
	MaxJobs int
}

// Deps are the collaborators of a Pipeline. Store and Gate may be nil.
type Deps struct {
	Runner   Runner
	Progress *progress.Channel
	Output   *output.Manager
	Quota    *quota.Enforcer
	Store    Store
	Gate     Gate
}

type job struct {
	status  Status
	spec    *params.InvocationSpec
	address string
	session string
	pins    []string
}

// Pipeline accepts jobs and runs them on a bounded pool.
type Pipeline struct {
	cfg      Config
	runner   Runner
	progress *progress.Channel
	output   *output.Manager
	quota    *quota.Enforcer
	store    Store
	gate     Gate

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	// pending counts jobs waiting for a pool slot.
	pending sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	limit := workers.ForJobs(cfg.MaxJobs)
	g.SetLimit(limit)
	logging.Info("Job pool started with %d workers", limit)

	return &Pipeline{
		cfg:      cfg,
		runner:   deps.Runner,
		progress: deps.Progress,
		output:   deps.Output,
		quota:    deps.Quota,
		store:    deps.Store,
		gate:     deps.Gate,
		ctx:      ctx,
		cancel:   cancel,
		group:    g,
		jobs:     make(map[string]*job),
	}
}

// NewToken issues a token and creates its empty progress record.
func (p *Pipeline) NewToken() (string, error) {
	tok := token.New()
	if err := p.progress.Create(tok); err != nil {
		return "", err
	}
	return tok, nil
}

// Status returns the current status of tok's job.
func (p *Pipeline) Status(ctx context.Context, tok string) (*Status, error) {
	if !token.Valid(tok) {
		return nil, ErrUnknownJob
	}

	p.mu.Lock()
	if j, ok := p.jobs[tok]; ok {
		st := j.status
		p.mu.Unlock()
		return &st, nil
	}
	p.mu.Unlock()

	if p.store != nil {
		rec, err := p.store.GetJob(ctx, tok)
		switch {
		case err == nil:
			return statusFromRecord(rec), nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("load job %s: %w", tok, err)
		}
	}

	if p.progress.Exists(tok) {
		return &Status{Token: tok, State: StatePending}, nil
	}
	return nil, ErrUnknownJob
}

// Active returns the number of queued and running jobs.
func (p *Pipeline) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, j := range p.jobs {
		if !j.status.State.Terminal() {
			n++
		}
	}
	return n
}

// Sweep forgets finished jobs older than maxAge and removes their progress
// records, artifacts and stored job rows.
func (p *Pipeline) Sweep(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	p.mu.Lock()
	for tok, j := range p.jobs {
		if j.status.FinishedAt != nil && j.status.FinishedAt.Before(cutoff) {
			delete(p.jobs, tok)
		}
	}
	p.mu.Unlock()

	_, err := p.progress.Sweep(maxAge, p.busy)
	if _, oerr := p.output.Sweep(cutoff, p.busy); oerr != nil {
		err = errors.Join(err, oerr)
	}
	if p.store != nil {
		n, perr := p.store.PruneJobs(ctx, cutoff)
		if perr != nil {
			err = errors.Join(err, perr)
		} else if n > 0 {
			logging.Info("Pruned %d job records", n)
		}
	}
	return err
}

// busy reports whether tok names a job that has not finished.
func (p *Pipeline) busy(tok string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[tok]
	return ok && !j.status.State.Terminal()
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their terminal state, or for ctx to end.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("Job pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) scratchDir(tok string) string {
	return filepath.Join(p.cfg.ScratchDir, tok)
}

func (p *Pipeline) uploadDir(tok string) string {
	return filepath.Join(p.cfg.UploadDir, tok)
}

func statusFromRecord(rec *database.JobRecord) *Status {
	st := &Status{
		Token:       rec.Token,
		Pipeline:    output.Pipeline(rec.Pipeline),
		Operation:   rec.Operation,
		FailureKind: runner.Kind(rec.FailureKind),
		Diagnostic:  rec.Diagnostic,
		SubmittedAt: rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	}
	switch rec.State {
	case database.JobSucceeded:
		st.State = StateSucceeded
		st.Artifact = output.ArtifactAt(rec.ArtifactPath, rec.Megabytes)
	case database.JobFailed:
		st.State = StateFailed
	default:
		// A running record without an in-memory job was interrupted.
		st.State = StateRunning
	}
	return st
}
