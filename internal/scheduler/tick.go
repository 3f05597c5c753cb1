// Package scheduler implements C9: the tick orchestrator that claims due
// endpoints, dispatches them, runs the scheduling algebra over the outcome,
// and commits the result — plus the zombie sweeper that recovers runs left
// behind by a crashed worker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weskerllc/cronicorn/internal/algebra"
	"github.com/weskerllc/cronicorn/internal/dispatch"
	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/metrics"
	"github.com/weskerllc/cronicorn/internal/quota"
	"github.com/weskerllc/cronicorn/internal/repository"
)

// Dispatcher is the narrow dispatch capability a Tick needs. dispatch.Dispatcher
// satisfies this; tests supply a fake that skips the network entirely.
type Dispatcher interface {
	Execute(ctx context.Context, e *domain.Endpoint, tenantID string) dispatch.Outcome
}

// Clock is the minimal time source the tick needs, letting tests drive it
// deterministically without depending on the full internal/clock package.
type Clock interface {
	Now() time.Time
}

// TenantResolver maps an endpoint's owning job to the tenant id used for
// signing-key lookup and quota accounting. Kept as a narrow function type so
// the scheduler package does not need to import the job repository's full
// surface.
type TenantResolver func(ctx context.Context, jobID string) (string, error)

// Tick runs one pass of claim-and-dispatch over a batch of due endpoints.
type Tick struct {
	endpoints  repository.EndpointRepository
	runs       repository.RunRepository
	dispatcher Dispatcher
	guard      *quota.Guard
	tenant     TenantResolver
	clock      Clock
	logger     *slog.Logger

	batchSize int
	horizon   time.Duration
}

// Config bundles the tunables a Tick needs beyond its collaborators.
type Config struct {
	BatchSize int
	Horizon   time.Duration
}

// NewTick builds a Tick. guard is consulted once per claimed endpoint,
// keyed by tenant, before a Run is ever created — the dispatch-side half of
// §6's "quota guard consulted before each dispatch and before each AI
// analysis" (the planner's own guard covers the other half).
func NewTick(endpoints repository.EndpointRepository, runs repository.RunRepository, dispatcher Dispatcher, guard *quota.Guard, tenant TenantResolver, clock Clock, logger *slog.Logger, cfg Config) *Tick {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 5 * time.Second
	}
	return &Tick{
		endpoints:  endpoints,
		runs:       runs,
		dispatcher: dispatcher,
		guard:      guard,
		tenant:     tenant,
		clock:      clock,
		logger:     logger.With("component", "tick"),
		batchSize:  cfg.BatchSize,
		horizon:    cfg.Horizon,
	}
}

// Run claims one batch of due endpoints and processes each concurrently,
// returning once every claimed endpoint has been dispatched and its outcome
// committed. Processing one endpoint never blocks another — a slow dispatch
// only delays that endpoint's own next claim window.
func (t *Tick) Run(ctx context.Context) (claimed int, err error) {
	ids, err := t.endpoints.ClaimDueEndpoints(ctx, t.batchSize, t.horizon)
	if err != nil {
		return 0, fmt.Errorf("claim due endpoints: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	t.logger.InfoContext(ctx, "claimed endpoints", "count", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(endpointID string) {
			defer wg.Done()
			t.processOne(ctx, endpointID)
		}(id)
	}
	wg.Wait()

	return len(ids), nil
}

func (t *Tick) processOne(ctx context.Context, endpointID string) {
	logger := t.logger.With("endpoint_id", endpointID)

	e, err := t.endpoints.GetEndpoint(ctx, endpointID)
	if err != nil {
		logger.ErrorContext(ctx, "load claimed endpoint", "error", err)
		return
	}

	now := t.clock.Now()
	metrics.ClaimLatency.Observe(now.Sub(e.NextRunAt).Seconds())

	source, err := algebra.Attribute(e, now)
	if err != nil {
		logger.ErrorContext(ctx, "attribute dispatch source", "error", err)
		_ = t.endpoints.ClearLock(ctx, endpointID)
		return
	}

	tenantID, err := t.tenant(ctx, e.JobID)
	if err != nil {
		logger.ErrorContext(ctx, "resolve tenant", "error", err)
		_ = t.endpoints.ClearLock(ctx, endpointID)
		return
	}

	if t.guard != nil {
		allowed, err := t.guard.Allow(ctx, tenantID)
		if err != nil {
			logger.ErrorContext(ctx, "quota check", "error", err)
			_ = t.endpoints.ClearLock(ctx, endpointID)
			return
		}
		if !allowed {
			metrics.DispatchQuotaDeniedTotal.Inc()
			logger.InfoContext(ctx, "dispatch quota exceeded, skipping", "tenant_id", tenantID)
			_ = t.endpoints.ClearLock(ctx, endpointID)
			return
		}
	}

	attempt := e.FailureCount + 1
	run := &domain.Run{
		EndpointID: e.ID,
		Status:     domain.RunStatusRunning,
		Attempt:    attempt,
		Source:     source,
		StartedAt:  now,
		DedupeKey:  fmt.Sprintf("%s:%d:%s", e.ID, e.NextRunAt.Unix(), source),
	}
	created, err := t.runs.CreateRun(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "create run", "error", err)
		_ = t.endpoints.ClearLock(ctx, endpointID)
		return
	}
	if created.Status.Terminal() {
		// A prior attempt for the same (endpoint, nextRunAt, source) already
		// ran to completion — the dedupe key protected us from double-firing.
		logger.WarnContext(ctx, "skipped duplicate dispatch", "run_id", created.ID)
		_ = t.endpoints.ClearLock(ctx, endpointID)
		return
	}

	metrics.RunsInFlight.Inc()
	outcome := t.dispatcher.Execute(ctx, e, tenantID)
	metrics.RunsInFlight.Dec()
	metrics.DispatchDuration.WithLabelValues(string(outcome.Status)).Observe(float64(outcome.DurationMs) / 1000)
	metrics.RunsCompletedTotal.WithLabelValues(string(outcome.Status)).Inc()

	var errMsgPtr *string
	if outcome.ErrorMessage != "" {
		errMsgPtr = &outcome.ErrorMessage
	}
	var statusCodePtr *int
	if outcome.StatusCode != 0 {
		statusCodePtr = &outcome.StatusCode
	}
	if ferr := t.runs.FinalizeRun(ctx, created.ID, outcome.Status, statusCodePtr, errMsgPtr, outcome.DurationMs, outcome.ResponseBody); ferr != nil {
		logger.ErrorContext(ctx, "finalize run", "error", ferr)
	}

	// This run settles at now, so the next interval is measured from this
	// dispatch rather than the previous one.
	e.LastRunAt = &now
	result, err := algebra.Compute(e, &algebra.Outcome{Status: outcome.Status}, now)
	if err != nil {
		logger.ErrorContext(ctx, "compute next schedule", "error", err)
		_ = t.endpoints.ClearLock(ctx, endpointID)
		return
	}
	if outcome.Status == domain.RunStatusFailed || outcome.Status == domain.RunStatusCanceled {
		metrics.BackoffAppliedTotal.Inc()
	}

	patch := repository.AfterRunPatch{
		NextRunAt:     result.NextRunAt,
		FailureCount:  result.FailureCount,
		LastRunAt:     now,
		ClearOneShot:  result.ClearOneShot,
		ClearAllHints: result.ClearAllHints,
	}
	if err := t.endpoints.UpdateAfterRun(ctx, endpointID, patch); err != nil {
		logger.ErrorContext(ctx, "update after run", "error", err)
		return
	}

	logger.InfoContext(ctx, "dispatch settled",
		"run_id", created.ID,
		"status", outcome.Status,
		"next_run_at", result.NextRunAt,
		"failure_count", result.FailureCount,
	)
}
