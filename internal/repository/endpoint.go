package repository

import (
	"context"
	"time"

	"github.com/weskerllc/cronicorn/internal/domain"
)

// EndpointPatch is a partial update to an Endpoint. Nil fields are left
// unchanged. It mirrors the subset of domain.Endpoint that updateEndpoint
// may touch; runtime/lease fields are mutated only through the dedicated
// primitives below, never through Patch.
type EndpointPatch struct {
	BaselineCron       *string
	BaselineIntervalMs *int64
	MinIntervalMs      *int64
	MaxIntervalMs      *int64
	URL                *string
	Method             *domain.Method
	Headers            map[string]string
	Body               *domain.JSONValue
	TimeoutMs          *int
	MaxExecutionTimeMs *int
	MaxResponseSizeKb  *int
}

// AfterRunPatch is what updateAfterRun commits: the algebra's output plus
// the hint-clear policy, applied atomically with the lease advance.
type AfterRunPatch struct {
	NextRunAt     time.Time
	FailureCount  int
	LastRunAt     time.Time
	ClearOneShot  bool
	ClearAllHints bool
}

// AIHintWrite overwrites the provided hint fields atomically. Zero-value
// pointers mean "leave unset" is not representable; callers always supply
// ExpiresAt, and at least one of IntervalMs/NextRunAt.
type AIHintWrite struct {
	IntervalMs *int64
	NextRunAt  *time.Time
	ExpiresAt  time.Time
	Reason     *string
}

// EndpointRepository is C6: the persistent store of endpoints with atomic
// claim/update primitives described in spec.md §4.2.
type EndpointRepository interface {
	AddEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id string, patch EndpointPatch) (*domain.Endpoint, error)
	ArchiveEndpoint(ctx context.Context, id string) error
	ListEndpoints(ctx context.Context, input ListEndpointsInput) ([]*domain.Endpoint, error)

	// ClaimDueEndpoints atomically selects up to limit endpoint ids that are
	// due within horizon, locks them with a lease, and returns their ids in
	// ascending nextRunAt order (tie-broken by id). Never returns an
	// endpoint whose parent job is archived, even if the cascade archive on
	// Job.Archive somehow missed it. See §4.2 for the full selection
	// predicate and lease-duration rule.
	ClaimDueEndpoints(ctx context.Context, limit int, horizon time.Duration) ([]string, error)

	SetLock(ctx context.Context, id string, until time.Time) error
	ClearLock(ctx context.Context, id string) error

	// SetNextRunAtIfEarlier applies the guardrail clamp to t; if the clamped
	// value is earlier than the endpoint's current nextRunAt, it commits the
	// update (bypassing the monotonicity rule that backoff alone must
	// respect). A no-op while the endpoint is paused.
	SetNextRunAtIfEarlier(ctx context.Context, id string, t time.Time) error

	WriteAIHint(ctx context.Context, id string, hint AIHintWrite) error
	SetPausedUntil(ctx context.Context, id string, until *time.Time) error

	// UpdateAfterRun commits the algebra's result, carries out the hint-clear
	// policy, and resets the lease forward to the new nextRunAt (or clears it
	// if nextRunAt is not in the future).
	UpdateAfterRun(ctx context.Context, id string, patch AfterRunPatch) error

	ClearAIHints(ctx context.Context, id string) error
	ResetFailureCount(ctx context.Context, id string) error

	// ClaimDueForAnalysis selects endpoints whose nextAnalysisAt has passed,
	// for the AI planner loop (decoupled from ClaimDueEndpoints). It takes no
	// lease, so an endpoint stays selectable until SetNextAnalysisAt moves it
	// forward. Same archived-job exclusion as ClaimDueEndpoints.
	ClaimDueForAnalysis(ctx context.Context, limit int) ([]string, error)
	SetNextAnalysisAt(ctx context.Context, id string, t time.Time) error
}
