package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"media-converter/internal/database"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/output"
	"media-converter/internal/progress"
	"media-converter/internal/runner"
)

// finishTimeout bounds the bookkeeping after a job, which runs even when the
// pipeline is shutting down.
const finishTimeout = 10 * time.Second

// execute runs j on the current pool worker.
func (p *Pipeline) execute(j *job) {
	tok := j.status.Token
	log := logging.ForJob(tok)
	pipeline := string(j.status.Pipeline)
	start := time.Now()

	metrics.JobsQueued.Dec()
	metrics.JobsInProgress.WithLabelValues(pipeline).Inc()
	defer metrics.JobsInProgress.WithLabelValues(pipeline).Dec()

	var (
		art *output.Artifact
		res runner.Result
		w   *progress.Writer
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked: %v", r)
			res = runner.Result{Kind: runner.KindInternal, Diagnostic: fmt.Sprintf("internal error: %v", r)}
			art = nil
		}
		p.finish(j, w, res, art, time.Since(start))
	}()

	if err := p.ctx.Err(); err != nil {
		res = runner.Result{Kind: runner.KindCanceled, Diagnostic: "job canceled before it started"}
		return
	}
	if p.gate != nil {
		if err := p.gate.Wait(p.ctx); err != nil {
			res = runner.Result{Kind: runner.KindCanceled, Diagnostic: "job canceled while waiting for memory"}
			return
		}
	}
	p.setState(tok, StateRunning)

	var err error
	w, err = p.progress.Open(tok)
	if err != nil {
		res = runner.Result{Kind: runner.KindInternal, Diagnostic: fmt.Sprintf("open progress record: %v", err)}
		return
	}

	log.Debug("Running %s", j.spec)
	res = p.runner.Run(p.ctx, j.spec, w)
	if !res.Succeeded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	art, err = p.output.Finalize(ctx, output.FinalizeRequest{
		Pipeline: j.status.Pipeline,
		Token:    tok,
		Session:  j.session,
		Address:  j.address,
		WorkDir:  res.Dir,
		Stem:     res.Stem,
	})
	if err != nil {
		kind := runner.KindInternal
		if errors.Is(err, output.ErrArtifactNotFound) {
			kind = runner.KindArtifactNotFound
		}
		res = runner.Result{Kind: kind, Diagnostic: err.Error()}
	}
}

// finish appends the terminal progress line, records the outcome and
// releases the job's pins.
func (p *Pipeline) finish(j *job, w *progress.Writer, res runner.Result, art *output.Artifact, took time.Duration) {
	tok := j.status.Token
	log := logging.ForJob(tok)
	pipeline := string(j.status.Pipeline)
	succeeded := art != nil

	line := "status=done"
	if !succeeded {
		line = fmt.Sprintf("status=failed kind=%s", res.Kind)
	}
	var err error
	if w != nil {
		err = w.WriteLine(line)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	} else {
		err = p.progress.Append(tok, line)
	}
	if err != nil {
		log.Warn("failed to write terminal progress line: %v", err)
	}

	for _, pin := range j.pins {
		p.quota.Unpin(pin)
	}

	now := time.Now()
	outcome := database.JobOutcome{State: database.JobSucceeded}
	p.mu.Lock()
	j.status.FinishedAt = &now
	if succeeded {
		j.status.State = StateSucceeded
		j.status.Artifact = art
		outcome.ArtifactPath = art.Path
		outcome.DisplayName = art.DisplayName
		outcome.Megabytes = art.Megabytes
	} else {
		j.status.State = StateFailed
		j.status.FailureKind = res.Kind
		j.status.Diagnostic = res.Diagnostic
		outcome.State = database.JobFailed
		outcome.FailureKind = string(res.Kind)
		outcome.Diagnostic = res.Diagnostic
	}
	p.mu.Unlock()

	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
		if err := p.store.FinishJob(ctx, tok, outcome); err != nil {
			log.Warn("failed to persist job outcome: %v", err)
		}
		cancel()
	}

	status := "succeeded"
	if !succeeded {
		status = string(res.Kind)
	}
	metrics.JobsCompletedTotal.WithLabelValues(pipeline, status).Inc()
	metrics.JobDuration.WithLabelValues(pipeline).Observe(took.Seconds())

	if succeeded {
		if j.status.Pipeline == output.PipelineConversion {
			log.Info("Conversion took %.1f seconds: %s (%.2f MB)", took.Seconds(), art.DisplayName, art.Megabytes)
		} else {
			log.Info("Download took %.1f seconds: %s (%.2f MB)", took.Seconds(), art.DisplayName, art.Megabytes)
		}
		return
	}
	log.Warn("%s job failed after %.1f seconds (%s): %s", pipeline, took.Seconds(), res.Kind, firstLine(res.Diagnostic))
}

func (p *Pipeline) setState(tok string, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jobs[tok]; ok {
		j.status.State = s
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
