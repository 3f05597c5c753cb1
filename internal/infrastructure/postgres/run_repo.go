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

const runColumns = `
	id, endpoint_id, status, attempt, source, started_at, finished_at, duration_ms,
	status_code, error_message, error_detail, response_body, COALESCE(dedupe_key, '')`

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	query := `
		INSERT INTO runs (endpoint_id, status, attempt, source, started_at, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
		RETURNING ` + runColumns

	row := r.pool.QueryRow(ctx, query, run.EndpointID, run.Status, run.Attempt, run.Source, run.StartedAt, nullableKey(run.DedupeKey))
	created, err := scanRun(row)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			// ON CONFLICT DO NOTHING with no RETURNING row means a duplicate
			// dispatch for this (endpointID, nextRunAt, source) was already
			// recorded — return the existing row instead of erroring.
			return r.getByDedupeKey(ctx, run.DedupeKey)
		}
		return nil, err
	}
	return created, nil
}

func nullableKey(k string) any {
	if k == "" {
		return nil
	}
	return k
}

func (r *RunRepository) getByDedupeKey(ctx context.Context, key string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE dedupe_key = $1`, key)
	return scanRun(row)
}

func (r *RunRepository) FinalizeRun(ctx context.Context, id string, status domain.RunStatus, statusCode *int, errMsg *string, durationMs int64, responseBody *domain.JSONValue) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET    status        = $2,
		       status_code   = $3,
		       error_message = $4,
		       duration_ms   = $5,
		       response_body = $6,
		       finished_at   = NOW()
		WHERE id = $1 AND status = 'running'`,
		id, status, statusCode, errMsg, durationMs, responseBody)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize run %s: not found or already finalized", id)
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

func (r *RunRepository) ListByEndpointID(ctx context.Context, input repository.ListRunsInput) ([]*domain.Run, error) {
	args := []any{input.EndpointID}
	where := []string{"endpoint_id = $1"}

	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(started_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, id DESC LIMIT $%d`,
		runColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *RunRepository) HealthSummary(ctx context.Context, endpointID string, now time.Time, windows []time.Duration) ([]repository.HealthWindow, error) {
	out := make([]repository.HealthWindow, 0, len(windows))
	for _, w := range windows {
		since := now.Add(-w)
		var hw repository.HealthWindow
		hw.Window = w
		err := r.pool.QueryRow(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE status = 'success'),
			       COUNT(*) FILTER (WHERE status = 'failed'),
			       COALESCE(AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL), 0)
			FROM runs
			WHERE endpoint_id = $1 AND started_at >= $2 AND status != 'running'`,
			endpointID, since,
		).Scan(&hw.TotalCount, &hw.SuccessCount, &hw.FailureCount, &hw.AvgDurationMs)
		if err != nil {
			return nil, fmt.Errorf("health summary window %s: %w", w, err)
		}
		out = append(out, hw)
	}
	return out, nil
}

func (r *RunRepository) LatestResponse(ctx context.Context, endpointID string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE endpoint_id = $1 AND response_body IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1`, endpointID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) SweepZombies(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET    status        = 'failed',
		       error_message = 'zombie sweep: run exceeded its lease without finalizing',
		       finished_at   = NOW()
		WHERE id IN (
			SELECT id FROM runs
			WHERE  status     = 'running'
			  AND  started_at < $1
			ORDER BY started_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("sweep zombies: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID, &run.EndpointID, &run.Status, &run.Attempt, &run.Source, &run.StartedAt, &run.FinishedAt, &run.DurationMs,
		&run.StatusCode, &run.ErrorMessage, &run.ErrorDetail, &run.ResponseBody, &run.DedupeKey,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
