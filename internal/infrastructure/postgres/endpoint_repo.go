package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/repository"
)

const endpointColumns = `
	id, job_id, baseline_cron, baseline_interval_ms, min_interval_ms, max_interval_ms,
	ai_hint_interval_ms, ai_hint_next_run_at, ai_hint_reason, ai_hint_expires_at,
	paused_until, archived_at, last_run_at, next_run_at, failure_count,
	url, method, headers, body, timeout_ms, max_execution_time_ms, max_response_size_kb,
	locked_until, created_at, updated_at, next_analysis_at`

type EndpointRepository struct {
	pool *pgxpool.Pool
}

func NewEndpointRepository(pool *pgxpool.Pool) *EndpointRepository {
	return &EndpointRepository{pool: pool}
}

func (r *EndpointRepository) AddEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	query := `
		INSERT INTO endpoints (
			job_id, baseline_cron, baseline_interval_ms, min_interval_ms, max_interval_ms,
			next_run_at, url, method, headers, body, timeout_ms, max_execution_time_ms,
			max_response_size_kb
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + endpointColumns

	row := r.pool.QueryRow(ctx, query,
		e.JobID, e.BaselineCron, e.BaselineIntervalMs, e.MinIntervalMs, e.MaxIntervalMs,
		e.NextRunAt, e.URL, e.Method, e.Headers, e.Body, e.TimeoutMs, e.MaxExecutionTimeMs,
		e.MaxResponseSizeKb,
	)
	return scanEndpoint(row)
}

func (r *EndpointRepository) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (r *EndpointRepository) UpdateEndpoint(ctx context.Context, id string, patch repository.EndpointPatch) (*domain.Endpoint, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.BaselineCron != nil {
		add("baseline_cron", *patch.BaselineCron)
		add("baseline_interval_ms", nil)
	}
	if patch.BaselineIntervalMs != nil {
		add("baseline_interval_ms", *patch.BaselineIntervalMs)
		add("baseline_cron", nil)
	}
	if patch.MinIntervalMs != nil {
		add("min_interval_ms", *patch.MinIntervalMs)
	}
	if patch.MaxIntervalMs != nil {
		add("max_interval_ms", *patch.MaxIntervalMs)
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.Method != nil {
		add("method", *patch.Method)
	}
	if patch.Headers != nil {
		add("headers", patch.Headers)
	}
	if patch.Body != nil {
		add("body", patch.Body)
	}
	if patch.TimeoutMs != nil {
		add("timeout_ms", *patch.TimeoutMs)
	}
	if patch.MaxExecutionTimeMs != nil {
		add("max_execution_time_ms", *patch.MaxExecutionTimeMs)
	}
	if patch.MaxResponseSizeKb != nil {
		add("max_response_size_kb", *patch.MaxResponseSizeKb)
	}
	if len(sets) == 0 {
		return r.GetEndpoint(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE endpoints SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), endpointColumns)

	row := r.pool.QueryRow(ctx, query, args...)
	return scanEndpoint(row)
}

func (r *EndpointRepository) ArchiveEndpoint(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE endpoints SET archived_at = NOW(), updated_at = NOW() WHERE id = $1 AND archived_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("archive endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetEndpoint(ctx, id); err != nil {
			return err
		}
		return domain.ErrEndpointArchived
	}
	return nil
}

func (r *EndpointRepository) ListEndpoints(ctx context.Context, input repository.ListEndpointsInput) ([]*domain.Endpoint, error) {
	args := []any{input.JobID}
	where := []string{"job_id = $1", "archived_at IS NULL"}

	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM endpoints WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		endpointColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimDueEndpoints selects endpoints due within horizon, not paused, not
// archived, not currently leased, and locks them for the duration of the
// caller's processing window. The lease (locked_until) is the only signal
// another worker needs to skip a row — the claim and the later outcome
// commit are deliberately two separate transactions (§4.2, §9).
func (r *EndpointRepository) ClaimDueEndpoints(ctx context.Context, limit int, horizon time.Duration) ([]string, error) {
	// Lease duration is GREATEST(maxExecutionTimeMs, horizon, 60s) per row
	// (§4.2's lease rule) — it must cover the whole claim-to-outcome window,
	// not just the claim horizon, or a slow dispatch would look abandoned
	// before it finishes.
	rows, err := r.pool.Query(ctx, `
		UPDATE endpoints
		SET    locked_until = NOW() + (
			GREATEST(max_execution_time_ms, $3, 60000) * INTERVAL '1 millisecond'
		)
		WHERE id IN (
			SELECT e.id FROM endpoints e
			WHERE  e.archived_at IS NULL
			  AND  (e.paused_until IS NULL OR e.paused_until <= NOW())
			  AND  (e.locked_until IS NULL OR e.locked_until <= NOW())
			  AND  e.next_run_at <= NOW() + ($2 * INTERVAL '1 millisecond')
			  AND  NOT EXISTS (
				SELECT 1 FROM jobs j WHERE j.id = e.job_id AND j.status = 'archived'
			  )
			ORDER BY e.next_run_at ASC, e.id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		limit, horizon.Milliseconds(), horizon.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claim due endpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *EndpointRepository) SetLock(ctx context.Context, id string, until time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET locked_until = $2 WHERE id = $1`, id, until)
	return err
}

func (r *EndpointRepository) ClearLock(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET locked_until = NULL WHERE id = $1`, id)
	return err
}

// SetNextRunAtIfEarlier clamps t to the endpoint's own guardrails
// ([now+minIntervalMs, now+maxIntervalMs], floor applied before ceiling, same
// order as algebra.ClampNudge) before comparing it against the current
// nextRunAt, so every caller — the planner's nudge and a manual reschedule
// alike — gets the clamp for free rather than having to pre-compute it.
func (r *EndpointRepository) SetNextRunAtIfEarlier(ctx context.Context, id string, t time.Time) error {
	_, err := r.pool.Exec(ctx, `
		WITH floored AS (
			SELECT id, paused_until, next_run_at, max_interval_ms,
			       CASE WHEN min_interval_ms IS NOT NULL
			            THEN GREATEST($2::timestamptz, NOW() + (min_interval_ms * INTERVAL '1 millisecond'))
			            ELSE $2::timestamptz
			       END AS t
			FROM endpoints
			WHERE id = $1
		),
		clamped AS (
			SELECT id, paused_until, next_run_at,
			       CASE WHEN max_interval_ms IS NOT NULL
			            THEN LEAST(t, NOW() + (max_interval_ms * INTERVAL '1 millisecond'))
			            ELSE t
			       END AS t
			FROM floored
		)
		UPDATE endpoints
		SET    next_run_at = clamped.t, updated_at = NOW()
		FROM   clamped
		WHERE  endpoints.id = clamped.id
		  AND  (clamped.paused_until IS NULL OR clamped.paused_until <= NOW())
		  AND  clamped.t < clamped.next_run_at`, id, t)
	return err
}

func (r *EndpointRepository) WriteAIHint(ctx context.Context, id string, hint repository.AIHintWrite) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE endpoints
		SET    ai_hint_interval_ms = $2,
		       ai_hint_next_run_at = $3,
		       ai_hint_reason      = $4,
		       ai_hint_expires_at  = $5,
		       updated_at          = NOW()
		WHERE id = $1`,
		id, hint.IntervalMs, hint.NextRunAt, hint.Reason, hint.ExpiresAt)
	return err
}

func (r *EndpointRepository) SetPausedUntil(ctx context.Context, id string, until *time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET paused_until = $2, updated_at = NOW() WHERE id = $1`, id, until)
	return err
}

func (r *EndpointRepository) UpdateAfterRun(ctx context.Context, id string, patch repository.AfterRunPatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE endpoints
		SET    next_run_at   = $2,
		       failure_count = $3,
		       last_run_at   = $4,
		       locked_until  = CASE WHEN $2 > NOW() THEN $2 ELSE NULL END,
		       updated_at    = NOW()
		WHERE id = $1`,
		id, patch.NextRunAt, patch.FailureCount, patch.LastRunAt)
	if err != nil {
		return fmt.Errorf("update after run: %w", err)
	}

	if patch.ClearAllHints {
		if _, err := tx.Exec(ctx, `
			UPDATE endpoints
			SET ai_hint_interval_ms = NULL, ai_hint_next_run_at = NULL,
			    ai_hint_reason = NULL, ai_hint_expires_at = NULL
			WHERE id = $1`, id); err != nil {
			return fmt.Errorf("clear ai hints: %w", err)
		}
	} else if patch.ClearOneShot {
		if _, err := tx.Exec(ctx, `
			UPDATE endpoints SET ai_hint_next_run_at = NULL WHERE id = $1`, id); err != nil {
			return fmt.Errorf("clear one-shot hint: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *EndpointRepository) ClearAIHints(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE endpoints
		SET ai_hint_interval_ms = NULL, ai_hint_next_run_at = NULL,
		    ai_hint_reason = NULL, ai_hint_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (r *EndpointRepository) ResetFailureCount(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET failure_count = 0, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ClaimDueForAnalysis is the planner-loop analogue of ClaimDueEndpoints: it
// runs on its own schedule, independent of dispatch. It writes no lease:
// locked_until is not touched, and the FOR UPDATE SKIP LOCKED row locks last
// only for this single statement. An endpoint stays selectable until the
// planner moves its next_analysis_at forward, so concurrent planner loops can
// select the same endpoint.
func (r *EndpointRepository) ClaimDueForAnalysis(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id FROM endpoints e
		WHERE  e.archived_at IS NULL
		  AND  e.next_analysis_at <= NOW()
		  AND  NOT EXISTS (
			SELECT 1 FROM jobs j WHERE j.id = e.job_id AND j.status = 'archived'
		  )
		ORDER BY e.next_analysis_at ASC, e.id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due for analysis: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed analysis id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *EndpointRepository) SetNextAnalysisAt(ctx context.Context, id string, t time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET next_analysis_at = $2 WHERE id = $1`, id, t)
	return err
}

func scanEndpoint(row rowScanner) (*domain.Endpoint, error) {
	var e domain.Endpoint
	err := row.Scan(
		&e.ID, &e.JobID, &e.BaselineCron, &e.BaselineIntervalMs, &e.MinIntervalMs, &e.MaxIntervalMs,
		&e.AIHintIntervalMs, &e.AIHintNextRunAt, &e.AIHintReason, &e.AIHintExpiresAt,
		&e.PausedUntil, &e.ArchivedAt, &e.LastRunAt, &e.NextRunAt, &e.FailureCount,
		&e.URL, &e.Method, &e.Headers, &e.Body, &e.TimeoutMs, &e.MaxExecutionTimeMs, &e.MaxResponseSizeKb,
		&e.LockedUntil, &e.CreatedAt, &e.UpdatedAt, &e.NextAnalysisAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	return &e, nil
}
