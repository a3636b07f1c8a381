package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Usage is the aggregate activity of one client address.
type Usage struct {
	Address   string    `json:"address"`
	JobCount  int64     `json:"jobCount"`
	Megabytes float64   `json:"megabytes"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// JobState is the lifecycle state of a job record.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// JobRecord is the persisted view of one job.
type JobRecord struct {
	Token        string     `json:"token"`
	Pipeline     string     `json:"pipeline"`
	Operation    string     `json:"operation"`
	Address      string     `json:"-"`
	State        JobState   `json:"state"`
	ArtifactPath string     `json:"artifactPath,omitempty"`
	DisplayName  string     `json:"displayName,omitempty"`
	Megabytes    float64    `json:"megabytes,omitempty"`
	FailureKind  string     `json:"failureKind,omitempty"`
	Diagnostic   string     `json:"diagnostic,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// JobOutcome is the terminal data stored by FinishJob.
type JobOutcome struct {
	State        JobState
	ArtifactPath string
	DisplayName  string
	Megabytes    float64
	FailureKind  string
	Diagnostic   string
}
