package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions may happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a snapshot of one captioning job. ErrorMessage is only set for failed
// jobs and ArtifactPath only for completed ones; CompletedAt is zero until the
// job becomes terminal.
type Job struct {
	ID           string
	Status       JobStatus
	ErrorMessage string
	ArtifactPath string
	CreatedAt    time.Time
	CompletedAt  time.Time
}
