package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weskerllc/cronicorn/internal/domain"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, j *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (user_id, tenant_id, name, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, tenant_id, name, description, status, archived_at, created_at, updated_at`

	row := r.pool.QueryRow(ctx, query, j.UserID, j.TenantID, j.Name, j.Description, j.Status)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id, userID string) (*domain.Job, error) {
	query := `
		SELECT id, user_id, tenant_id, name, description, status, archived_at, created_at, updated_at
		FROM jobs
		WHERE id = $1 AND user_id = $2`

	row := r.pool.QueryRow(ctx, query, id, userID)
	return scanJob(row)
}

// Archive marks the job archived and cascades the same archival onto every
// endpoint it owns, in one transaction — an archived job must never leave a
// claimable endpoint behind it (ClaimDueEndpoints also excludes endpoints
// whose parent job is archived, as a second line of defense).
func (r *JobRepository) Archive(ctx context.Context, id, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'archived', archived_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status != 'archived'`,
		id, userID)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id, userID); err != nil {
			return err
		}
		return domain.ErrJobArchived
	}

	if _, err := tx.Exec(ctx,
		`UPDATE endpoints SET archived_at = NOW(), updated_at = NOW()
		 WHERE job_id = $1 AND archived_at IS NULL`, id); err != nil {
		return fmt.Errorf("cascade archive endpoints: %w", err)
	}

	return tx.Commit(ctx)
}

// TenantIDForJob resolves a job's tenant id without an owning-user check. It
// backs the scheduler and planner's TenantResolver, which runs as the system
// rather than on behalf of any one caller.
func (r *JobRepository) TenantIDForJob(ctx context.Context, jobID string) (string, error) {
	var tenantID string
	err := r.pool.QueryRow(ctx, `SELECT tenant_id FROM jobs WHERE id = $1`, jobID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("tenant for job: %w", err)
	}
	return tenantID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.UserID, &j.TenantID, &j.Name, &j.Description, &j.Status, &j.ArchivedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
