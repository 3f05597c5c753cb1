package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobArchived  = errors.New("job is archived")
)

// JobStatus is the lifecycle state of an organisational Job.
type JobStatus string

const (
	JobStatusActive   JobStatus = "active"
	JobStatusPaused   JobStatus = "paused"
	JobStatusArchived JobStatus = "archived"
)

// Job is the organisational container a user creates to group related
// Endpoints under one tenant. Archiving a Job is soft-delete: archived Jobs
// and their Endpoints become invisible to claims, counts, and listings, but
// are never physically removed.
type Job struct {
	ID          string
	UserID      string
	TenantID    string
	Name        string
	Description *string
	Status      JobStatus
	ArchivedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsArchived reports whether the job is archived, either by status or by a
// set ArchivedAt — the two are kept in lockstep by the store.
func (j *Job) IsArchived() bool {
	return j.Status == JobStatusArchived || j.ArchivedAt != nil
}
