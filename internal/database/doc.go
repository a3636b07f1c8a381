// Package database provides SQLite storage for the media converter.
//
// It holds two tables:
//   - usage: per client address job count and cumulative megabytes
//   - jobs: one record per submitted job with its terminal state
//
// Usage updates are a single INSERT ... ON CONFLICT statement, so concurrent
// jobs from one address never lose an increment. Job records let a poller
// learn a job's outcome after the server restarts.
//
// The database uses WAL mode and creates its schema on open.
package database
