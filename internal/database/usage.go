package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RecordUsage adds one job and megabytes to address's usage in a single
// atomic upsert.
func (d *Database) RecordUsage(ctx context.Context, address string, megabytes float64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("record_usage", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO usage (address, job_count, megabytes, first_seen, last_seen)
	VALUES (?, 1, round(?, 2), strftime('%s', 'now'), strftime('%s', 'now'))
	ON CONFLICT(address) DO UPDATE SET
		job_count = usage.job_count + 1,
		megabytes = round(usage.megabytes + excluded.megabytes, 2),
		last_seen = excluded.last_seen
	`, address, megabytes)
	return err
}

// GetUsage returns the usage of address, or ErrNotFound.
func (d *Database) GetUsage(ctx context.Context, address string) (*Usage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_usage", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var u Usage
	var first, last int64
	err = d.db.QueryRowContext(ctx, `
	SELECT address, job_count, megabytes, first_seen, last_seen
	FROM usage WHERE address = ?
	`, address).Scan(&u.Address, &u.JobCount, &u.Megabytes, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.FirstSeen = time.Unix(first, 0)
	u.LastSeen = time.Unix(last, 0)
	return &u, nil
}

// ListUsage returns up to limit records ordered by megabytes, largest first.
func (d *Database) ListUsage(ctx context.Context, limit int) ([]Usage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_usage", start, err) }()

	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
	SELECT address, job_count, megabytes, first_seen, last_seen
	FROM usage ORDER BY megabytes DESC, address LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		var first, last int64
		if err = rows.Scan(&u.Address, &u.JobCount, &u.Megabytes, &first, &last); err != nil {
			return nil, err
		}
		u.FirstSeen = time.Unix(first, 0)
		u.LastSeen = time.Unix(last, 0)
		out = append(out, u)
	}
	err = rows.Err()
	return out, err
}

// CountUsage returns the number of distinct addresses in the ledger.
func (d *Database) CountUsage(ctx context.Context) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_usage", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage").Scan(&n)
	return n, err
}
