package repository

import (
	"context"

	"github.com/weskerllc/cronicorn/internal/domain"
)

// AISessionRepository persists telemetry for each planner invocation.
type AISessionRepository interface {
	CreateSession(ctx context.Context, s *domain.AISession) (*domain.AISession, error)
	ListByEndpointID(ctx context.Context, endpointID string, limit int) ([]*domain.AISession, error)
}

// SigningKeyRepository looks up the per-tenant HMAC signing key.
type SigningKeyRepository interface {
	GetKey(ctx context.Context, tenantID string) ([]byte, error)
}
