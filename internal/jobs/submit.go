package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-converter/internal/database"
	"media-converter/internal/logging"
	"media-converter/internal/metrics"
	"media-converter/internal/output"
	"media-converter/internal/params"
	"media-converter/internal/token"
)

// DownloadRequest is a remote link to fetch.
type DownloadRequest struct {
	// Token is optional; a new one is issued when empty.
	Token   string
	Link    string
	Kind    string
	Address string
	Session string
}

// ConversionRequest is an uploaded file to convert.
type ConversionRequest struct {
	Token      string
	Codec      string
	Options    params.Options
	Upload     io.Reader
	UploadName string
	// OutputName is the desired name without extension; the upload's name
	// is used when empty.
	OutputName string
	Address    string
	Session    string
}

// SubmitDownload validates req and queues the download. It returns without
// waiting for the job.
func (p *Pipeline) SubmitDownload(ctx context.Context, req DownloadRequest) (string, error) {
	tok, err := p.claimToken(ctx, req.Token)
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues(string(output.PipelineDownload)).Inc()
		return "", err
	}

	spec, err := params.ResolveDownload(req.Kind, req.Link, p.scratchDir(tok))
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues(string(output.PipelineDownload)).Inc()
		return "", err
	}

	scratch := p.scratchDir(tok)
	p.quota.Pin(scratch)
	p.quota.BeforeDownload(ctx)

	j := &job{
		status: Status{
			Token:     tok,
			Pipeline:  output.PipelineDownload,
			Operation: spec.Operation,
		},
		spec:    spec,
		address: req.Address,
		session: sessionOr(req.Session, req.Address),
		pins:    []string{scratch},
	}
	if err := p.launch(ctx, j); err != nil {
		p.quota.Unpin(scratch)
		return "", err
	}
	logging.ForJob(tok).Info("Download queued: kind=%s link=%s", spec.Operation, req.Link)
	return tok, nil
}

// SubmitConversion validates req, stages the upload and queues the
// conversion. It returns without waiting for the job.
func (p *Pipeline) SubmitConversion(ctx context.Context, req ConversionRequest) (string, error) {
	tok, err := p.claimToken(ctx, req.Token)
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues(string(output.PipelineConversion)).Inc()
		return "", err
	}
	if req.Upload == nil {
		metrics.JobsRejectedTotal.WithLabelValues(string(output.PipelineConversion)).Inc()
		return "", &params.ValidationError{Field: "chosen_file", Reason: "is required"}
	}

	uploadName := SecureFilename(req.UploadName)
	outputName := SecureFilename(req.OutputName)
	if strings.TrimSpace(req.OutputName) == "" {
		outputName = strings.TrimSuffix(uploadName, filepath.Ext(uploadName))
	}
	outputName = strings.TrimSuffix(outputName, filepath.Ext(outputName))
	if outputName == "" {
		outputName = "converted"
	}

	input := filepath.Join(p.uploadDir(tok), uploadName)
	scratch := p.scratchDir(tok)
	spec, err := params.ResolveConversion(req.Codec, req.Options, input, filepath.Join(scratch, outputName))
	if err != nil {
		metrics.JobsRejectedTotal.WithLabelValues(string(output.PipelineConversion)).Inc()
		return "", err
	}

	pins := []string{scratch, p.uploadDir(tok)}
	for _, pin := range pins {
		p.quota.Pin(pin)
	}
	unpin := func() {
		for _, pin := range pins {
			p.quota.Unpin(pin)
		}
	}

	p.quota.BeforeConversion(ctx)

	if err := stageUpload(input, req.Upload); err != nil {
		unpin()
		return "", fmt.Errorf("stage upload: %w", err)
	}

	j := &job{
		status: Status{
			Token:     tok,
			Pipeline:  output.PipelineConversion,
			Operation: spec.Operation,
		},
		spec:    spec,
		address: req.Address,
		session: sessionOr(req.Session, req.Address),
		pins:    pins,
	}
	if err := p.launch(ctx, j); err != nil {
		unpin()
		// Only the file staged here; a concurrent submit may own the directory.
		_ = os.Remove(input)
		return "", err
	}
	logging.ForJob(tok).Info("Conversion queued: codec=%s file=%s", spec.Operation, uploadName)
	return tok, nil
}

// claimToken validates a caller-supplied token or picks a new one. A
// supplied token must have been issued by NewToken and never used: its
// progress record exists and is empty, and no job, live or stored, has it.
// The progress record of a new token is created by launch.
func (p *Pipeline) claimToken(ctx context.Context, tok string) (string, error) {
	if tok == "" {
		return token.New(), nil
	}
	if !token.Valid(tok) {
		return "", &params.ValidationError{Field: "token", Reason: "is malformed"}
	}
	if !p.progress.Exists(tok) {
		return "", &params.ValidationError{Field: "token", Reason: "was not issued"}
	}

	p.mu.Lock()
	_, taken := p.jobs[tok]
	p.mu.Unlock()
	if taken || !p.progress.Empty(tok) {
		return "", &params.ValidationError{Field: "token", Reason: "already has a job"}
	}

	if p.store != nil {
		_, err := p.store.GetJob(ctx, tok)
		switch {
		case err == nil:
			return "", &params.ValidationError{Field: "token", Reason: "already has a job"}
		case !errors.Is(err, database.ErrNotFound):
			return "", fmt.Errorf("look up token %s: %w", tok, err)
		}
	}
	return tok, nil
}

// launch registers j and hands it to the pool without blocking.
func (p *Pipeline) launch(ctx context.Context, j *job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	if _, taken := p.jobs[j.status.Token]; taken {
		p.mu.Unlock()
		return &params.ValidationError{Field: "token", Reason: "already has a job"}
	}
	j.status.State = StateQueued
	j.status.SubmittedAt = time.Now()
	p.jobs[j.status.Token] = j
	p.pending.Add(1)
	p.mu.Unlock()

	if err := p.progress.Create(j.status.Token); err != nil {
		logging.ForJob(j.status.Token).Warn("failed to create progress record: %v", err)
	}

	if p.store != nil {
		err := p.store.CreateJob(ctx, database.JobRecord{
			Token:     j.status.Token,
			Pipeline:  string(j.status.Pipeline),
			Operation: j.status.Operation,
			Address:   j.address,
			State:     database.JobRunning,
			StartedAt: j.status.SubmittedAt,
		})
		if err != nil {
			logging.ForJob(j.status.Token).Warn("failed to persist job record: %v", err)
		}
	}

	metrics.JobsSubmittedTotal.WithLabelValues(string(j.status.Pipeline), j.status.Operation).Inc()
	metrics.JobsQueued.Inc()

	go func() {
		defer p.pending.Done()
		p.group.Go(func() error {
			p.execute(j)
			return nil
		})
	}()
	return nil
}

func stageUpload(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := io.Copy(f, r)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return errors.Join(werr, os.Remove(path))
	}
	return nil
}

func sessionOr(session, address string) string {
	if session != "" {
		return session
	}
	return address
}

// SecureFilename reduces name to a safe base name: path elements are
// dropped, characters outside [A-Za-z0-9._-] become '_' and leading dots
// are removed.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}
