package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `token, pipeline, operation, address, state, artifact_path, display_name,
	megabytes, failure_kind, diagnostic, started_at, finished_at`

// CreateJob inserts a running job record.
func (d *Database) CreateJob(ctx context.Context, rec JobRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	state := rec.State
	if state == "" {
		state = JobRunning
	}

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO jobs (token, pipeline, operation, address, state, started_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Token, rec.Pipeline, rec.Operation, rec.Address, string(state), started.Unix())
	return err
}

// FinishJob stores the terminal state of a job.
func (d *Database) FinishJob(ctx context.Context, token string, out JobOutcome) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx, `
	UPDATE jobs SET
		state = ?, artifact_path = ?, display_name = ?, megabytes = ?,
		failure_kind = ?, diagnostic = ?, finished_at = ?
	WHERE token = ?
	`, string(out.State), out.ArtifactPath, out.DisplayName, out.Megabytes,
		out.FailureKind, out.Diagnostic, time.Now().Unix(), token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", token, ErrNotFound)
	}
	return nil
}

// GetJob returns the record for token, or ErrNotFound.
func (d *Database) GetJob(ctx context.Context, token string) (*JobRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE token = ?", token)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, ErrNotFound
	}
	return rec, err
}

// ListJobs returns up to limit records, newest first. A non-empty address
// restricts the list to that client.
func (d *Database) ListJobs(ctx context.Context, address string, limit int) ([]JobRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_jobs", start, err) }()

	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT " + jobColumns + " FROM jobs"
	args := []interface{}{}
	if address != "" {
		query += " WHERE address = ?"
		args = append(args, address)
	}
	query += " ORDER BY started_at DESC, token DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var rec *JobRecord
		if rec, err = scanJob(rows); err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	err = rows.Err()
	return out, err
}

// LiveTokens returns the tokens whose files a server may still be using:
// running jobs, and succeeded jobs that finished at or after since.
func (d *Database) LiveTokens(ctx context.Context, since time.Time) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("live_tokens", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
	SELECT token FROM jobs
	WHERE state = ? OR (state = ? AND finished_at >= ?)
	ORDER BY token
	`, string(JobRunning), string(JobSucceeded), since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err = rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	err = rows.Err()
	return out, err
}

// PruneJobs deletes finished records that finished before cutoff.
func (d *Database) PruneJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("prune_jobs", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailRunningJobs marks every running record as failed. Called at startup,
// since no job survives a restart.
func (d *Database) FailRunningJobs(ctx context.Context, kind, diagnostic string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_job", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx, `
	UPDATE jobs SET state = ?, failure_kind = ?, diagnostic = ?, finished_at = ?
	WHERE state = ?
	`, string(JobFailed), kind, diagnostic, time.Now().Unix(), string(JobRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s rowScanner) (*JobRecord, error) {
	var rec JobRecord
	var state string
	var started int64
	var finished sql.NullInt64
	err := s.Scan(&rec.Token, &rec.Pipeline, &rec.Operation, &rec.Address, &state,
		&rec.ArtifactPath, &rec.DisplayName, &rec.Megabytes, &rec.FailureKind,
		&rec.Diagnostic, &started, &finished)
	if err != nil {
		return nil, err
	}
	rec.State = JobState(state)
	rec.StartedAt = time.Unix(started, 0)
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		rec.FinishedAt = &t
	}
	return &rec, nil
}
