package repository

import (
	"context"
	"time"

	"github.com/weskerllc/cronicorn/internal/domain"
)

// ListRunsInput is a cursor-paginated run listing request.
type ListRunsInput struct {
	EndpointID string
	CursorTime *time.Time
	CursorID   string
	Limit      int
}

// HealthWindow is one success/failure summary over a trailing duration, the
// shape the AI planner's prompt assembly and the admin surface both need.
type HealthWindow struct {
	Window       time.Duration
	TotalCount   int
	SuccessCount int
	FailureCount int
	AvgDurationMs float64
}

// RunRepository is C7: the append-log of execution attempts.
type RunRepository interface {
	// CreateRun opens a Run row in the `running` state at claim-commit.
	CreateRun(ctx context.Context, r *domain.Run) (*domain.Run, error)

	// FinalizeRun closes a `running` Run with its terminal outcome. Called
	// exactly once per Run.
	FinalizeRun(ctx context.Context, id string, status domain.RunStatus, statusCode *int, errMsg *string, durationMs int64, responseBody *domain.JSONValue) error

	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListByEndpointID(ctx context.Context, input ListRunsInput) ([]*domain.Run, error)

	// HealthSummary computes the rolling success/failure/duration summary
	// for an endpoint over the given windows (e.g. 1h/4h/24h). It does not
	// compute a consecutive-failure streak; the endpoint's FailureCount
	// carries that.
	HealthSummary(ctx context.Context, endpointID string, now time.Time, windows []time.Duration) ([]HealthWindow, error)

	// LatestResponse returns the most recently captured response body for an
	// endpoint, or nil if none was captured.
	LatestResponse(ctx context.Context, endpointID string) (*domain.Run, error)

	// SweepZombies marks `running` Runs older than cutoff as `failed` with a
	// recognisable error message, recovering from a worker crash mid-dispatch.
	SweepZombies(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
