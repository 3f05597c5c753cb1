package repository

import (
	"context"
	"time"

	"github.com/weskerllc/cronicorn/internal/domain"
)

// JobRepository manages the organisational Job container.
type JobRepository interface {
	Create(ctx context.Context, j *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id, userID string) (*domain.Job, error)
	Archive(ctx context.Context, id, userID string) error
}

// ListEndpointsInput is a cursor-paginated listing request (see
// usecase/schedule.go's cursor pattern in the teacher repo).
type ListEndpointsInput struct {
	JobID      string
	CursorTime *time.Time
	CursorID   string
	Limit      int
}
