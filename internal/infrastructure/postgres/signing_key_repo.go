package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SigningKeyRepository resolves the HMAC signing key registered for a
// tenant, used by the dispatcher to sign outbound requests (§6).
type SigningKeyRepository struct {
	pool *pgxpool.Pool
}

func NewSigningKeyRepository(pool *pgxpool.Pool) *SigningKeyRepository {
	return &SigningKeyRepository{pool: pool}
}

// GetKey returns (nil, nil) when the tenant has no signing key registered —
// the dispatcher treats that as "send unsigned," not an error.
func (r *SigningKeyRepository) GetKey(ctx context.Context, tenantID string) ([]byte, error) {
	var key []byte
	err := r.pool.QueryRow(ctx, `SELECT key FROM tenant_signing_keys WHERE tenant_id = $1`, tenantID).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get signing key: %w", err)
	}
	return key, nil
}
