package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weskerllc/cronicorn/internal/domain"
)

type AISessionRepository struct {
	pool *pgxpool.Pool
}

func NewAISessionRepository(pool *pgxpool.Pool) *AISessionRepository {
	return &AISessionRepository{pool: pool}
}

func (r *AISessionRepository) CreateSession(ctx context.Context, s *domain.AISession) (*domain.AISession, error) {
	toolCalls, err := json.Marshal(s.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}

	query := `
		INSERT INTO ai_sessions (
			endpoint_id, analyzed_at, tool_calls, reasoning,
			input_tokens, output_tokens, next_analysis_at, failure_count_at_analysis
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, endpoint_id, analyzed_at, tool_calls, reasoning,
		          input_tokens, output_tokens, next_analysis_at, failure_count_at_analysis`

	row := r.pool.QueryRow(ctx, query,
		s.EndpointID, s.AnalyzedAt, toolCalls, s.Reasoning,
		s.TokenUsage.InputTokens, s.TokenUsage.OutputTokens, s.NextAnalysisAt, s.FailureCountAtAnalysis,
	)
	return scanAISession(row)
}

func (r *AISessionRepository) ListByEndpointID(ctx context.Context, endpointID string, limit int) ([]*domain.AISession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, endpoint_id, analyzed_at, tool_calls, reasoning,
		       input_tokens, output_tokens, next_analysis_at, failure_count_at_analysis
		FROM ai_sessions
		WHERE endpoint_id = $1
		ORDER BY analyzed_at DESC
		LIMIT $2`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ai sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.AISession
	for rows.Next() {
		s, err := scanAISession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanAISession(row rowScanner) (*domain.AISession, error) {
	var s domain.AISession
	var toolCalls []byte
	err := row.Scan(
		&s.ID, &s.EndpointID, &s.AnalyzedAt, &toolCalls, &s.Reasoning,
		&s.TokenUsage.InputTokens, &s.TokenUsage.OutputTokens, &s.NextAnalysisAt, &s.FailureCountAtAnalysis,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ai session: %w", pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("scan ai session: %w", err)
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &s.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return &s, nil
}
