// Package jobs wires the conversion and download pipelines together.
//
// A submission is validated synchronously: invalid parameters are returned to
// the caller before any file is written or process started. A valid job is
// handed to a bounded worker pool and the caller gets its token back at once.
// The job then runs the external tool, streams progress into the token's
// progress record, finalizes the artifact and records the outcome.
//
// Every job ends with a terminal line in its progress record, either
// "status=done" or "status=failed kind=<kind>", and a terminal state that
// Status reports. A panic inside a job is recovered and reported as a
// failure; it never takes the server down.
package jobs
