// Package planner implements the AI scheduling advisor described in
// spec.md §4.5: a worker loop that picks endpoints due for analysis,
// assembles a health-and-context prompt, drives a closed tool-call
// conversation against an LLM, and persists the session. Every mutation
// the model proposes is applied through the same C6 primitives and
// guardrails/pause/monotonicity rules as a manual operation — the planner
// itself holds no special authority over an endpoint's schedule.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weskerllc/cronicorn/internal/algebra"
	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/metrics"
	"github.com/weskerllc/cronicorn/internal/planner/llm"
	"github.com/weskerllc/cronicorn/internal/quota"
	"github.com/weskerllc/cronicorn/internal/repository"
)

// maxToolTurns bounds the closed loop so a model that never calls
// submit_analysis cannot run forever.
const maxToolTurns = 8

// healthWindows are the trailing windows summarised in every prompt.
var healthWindows = []time.Duration{time.Hour, 4 * time.Hour, 24 * time.Hour}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// TenantResolver maps a job id to its tenant id, same contract as the
// scheduler tick's resolver.
type TenantResolver func(ctx context.Context, jobID string) (string, error)

// Planner drives one analysis session per due endpoint.
type Planner struct {
	endpoints repository.EndpointRepository
	runs      repository.RunRepository
	sessions  repository.AISessionRepository
	llm       *llm.Client
	guard     *quota.Guard
	tenant    TenantResolver
	clock     Clock
	logger    *slog.Logger

	defaultAnalysisInterval time.Duration
}

// Config holds the tunables a planner loop is constructed with.
type Config struct {
	BatchSize               int
	DefaultAnalysisInterval time.Duration
}

// New builds a Planner.
func New(
	endpoints repository.EndpointRepository,
	runs repository.RunRepository,
	sessions repository.AISessionRepository,
	llmClient *llm.Client,
	guard *quota.Guard,
	tenant TenantResolver,
	clock Clock,
	logger *slog.Logger,
	cfg Config,
) *Planner {
	interval := cfg.DefaultAnalysisInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Planner{
		endpoints:               endpoints,
		runs:                    runs,
		sessions:                sessions,
		llm:                     llmClient,
		guard:                   guard,
		tenant:                  tenant,
		clock:                   clock,
		logger:                  logger,
		defaultAnalysisInterval: interval,
	}
}

// RunBatch claims up to limit due endpoints and analyzes each in turn. It
// returns the number claimed; per-endpoint failures are logged, not
// returned, so one bad endpoint never blocks the rest of the batch.
func (p *Planner) RunBatch(ctx context.Context, limit int) (int, error) {
	ids, err := p.endpoints.ClaimDueForAnalysis(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("claim due for analysis: %w", err)
	}
	for _, id := range ids {
		if err := p.analyzeOne(ctx, id); err != nil {
			p.logger.ErrorContext(ctx, "planner analysis failed", "endpointId", id, "error", err)
		}
	}
	return len(ids), nil
}

func (p *Planner) analyzeOne(ctx context.Context, endpointID string) error {
	now := p.clock.Now()
	e, err := p.endpoints.GetEndpoint(ctx, endpointID)
	if err != nil {
		return fmt.Errorf("load endpoint: %w", err)
	}

	tenantID, err := p.tenant(ctx, e.JobID)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}

	allowed, err := p.guard.Allow(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if !allowed {
		metrics.PlannerQuotaDeniedTotal.Inc()
		p.logger.InfoContext(ctx, "planner quota exceeded, deferring", "endpointId", endpointID, "tenantId", tenantID)
		return p.endpoints.SetNextAnalysisAt(ctx, endpointID, now.Add(p.defaultAnalysisInterval))
	}

	prompt, err := p.buildPrompt(ctx, e, now)
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	session := &domain.AISession{
		EndpointID:             endpointID,
		AnalyzedAt:             now,
		NextAnalysisAt:         now.Add(p.defaultAnalysisInterval),
		FailureCountAtAnalysis: e.FailureCount,
	}

	turns := []llm.Turn{{Role: "user", Text: prompt}}
	tools := toolset()

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := p.llm.Complete(ctx, systemPrompt, turns, tools)
		if err != nil {
			return fmt.Errorf("llm complete: %w", err)
		}
		session.TokenUsage.InputTokens += resp.Usage.InputTokens
		session.TokenUsage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			// Model stopped talking without calling submit_analysis. Treat
			// whatever text it produced as the final reasoning.
			session.Reasoning = resp.Text
			break
		}

		turns = append(turns, llm.Turn{Role: "assistant", Text: resp.Text, ToolCalls: resp.ToolCalls})

		done := false
		for _, call := range resp.ToolCalls {
			result, isFinal, err := p.dispatchTool(ctx, e, now, call, session)
			if err != nil {
				turns = append(turns, llm.Turn{Role: "user", ToolUseID: call.ID, ToolResult: err.Error(), ToolIsErr: true})
				continue
			}
			turns = append(turns, llm.Turn{Role: "user", ToolUseID: call.ID, ToolResult: result})
			if isFinal {
				done = true
			}
		}
		if done {
			break
		}
	}

	if _, err := p.sessions.CreateSession(ctx, session); err != nil {
		metrics.PlannerSessionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("persist session: %w", err)
	}
	metrics.PlannerSessionsTotal.WithLabelValues("completed").Inc()
	metrics.PlannerTokensTotal.WithLabelValues("input").Add(float64(session.TokenUsage.InputTokens))
	metrics.PlannerTokensTotal.WithLabelValues("output").Add(float64(session.TokenUsage.OutputTokens))
	return p.endpoints.SetNextAnalysisAt(ctx, endpointID, session.NextAnalysisAt)
}

// dispatchTool applies one tool call to the repositories and returns a
// JSON-encoded result string for the tool_result turn, plus whether this
// call ends the session (submit_analysis).
func (p *Planner) dispatchTool(ctx context.Context, e *domain.Endpoint, now time.Time, call llm.ToolCall, session *domain.AISession) (string, bool, error) {
	record := domain.ToolCallRecord{Name: call.Name, Arguments: domain.NewJSONValue(rawToAny(call.Input))}

	result, isFinal, err := p.applyTool(ctx, e, now, call, session)
	if err != nil {
		msg := err.Error()
		record.Error = &msg
		session.ToolCalls = append(session.ToolCalls, record)
		return "", false, err
	}
	record.Result = domain.NewJSONValue(result)
	session.ToolCalls = append(session.ToolCalls, record)

	encoded, mErr := json.Marshal(result)
	if mErr != nil {
		return "", false, fmt.Errorf("encode tool result: %w", mErr)
	}
	return string(encoded), isFinal, nil
}

func rawToAny(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

func (p *Planner) applyTool(ctx context.Context, e *domain.Endpoint, now time.Time, call llm.ToolCall, session *domain.AISession) (any, bool, error) {
	switch call.Name {
	case toolProposeInterval:
		var args struct {
			IntervalMs int64  `json:"intervalMs"`
			TTLMinutes int    `json:"ttlMinutes"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, false, fmt.Errorf("invalid arguments: %w", err)
		}
		expires := now.Add(time.Duration(args.TTLMinutes) * time.Minute)
		if err := p.endpoints.WriteAIHint(ctx, e.ID, repository.AIHintWrite{
			IntervalMs: &args.IntervalMs,
			ExpiresAt:  expires,
			Reason:     &args.Reason,
		}); err != nil {
			return nil, false, fmt.Errorf("write interval hint: %w", err)
		}
		candidate := now.Add(time.Duration(args.IntervalMs) * time.Millisecond)
		clamped := algebra.ClampNudge(candidate, now, e.MinIntervalMs, e.MaxIntervalMs)
		if err := p.endpoints.SetNextRunAtIfEarlier(ctx, e.ID, clamped); err != nil {
			return nil, false, fmt.Errorf("nudge next run at: %w", err)
		}
		return map[string]any{"accepted": true, "expiresAt": expires}, false, nil

	case toolProposeNextTime:
		var args struct {
			NextRunAtISO string `json:"nextRunAtIso"`
			TTLMinutes   int    `json:"ttlMinutes"`
			Reason       string `json:"reason"`
		}
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, false, fmt.Errorf("invalid arguments: %w", err)
		}
		next, err := time.Parse(time.RFC3339, args.NextRunAtISO)
		if err != nil {
			return nil, false, fmt.Errorf("invalid nextRunAtIso: %w", err)
		}
		expires := now.Add(time.Duration(args.TTLMinutes) * time.Minute)
		if err := p.endpoints.WriteAIHint(ctx, e.ID, repository.AIHintWrite{
			NextRunAt: &next,
			ExpiresAt: expires,
			Reason:    &args.Reason,
		}); err != nil {
			return nil, false, fmt.Errorf("write next-time hint: %w", err)
		}
		clamped := algebra.ClampNudge(next, now, e.MinIntervalMs, e.MaxIntervalMs)
		if err := p.endpoints.SetNextRunAtIfEarlier(ctx, e.ID, clamped); err != nil {
			return nil, false, fmt.Errorf("nudge next run at: %w", err)
		}
		return map[string]any{"accepted": true, "expiresAt": expires}, false, nil

	case toolPauseUntil:
		var args struct {
			UntilISO *string `json:"untilIso"`
			Reason   string  `json:"reason"`
		}
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, false, fmt.Errorf("invalid arguments: %w", err)
		}
		var until *time.Time
		if args.UntilISO != nil {
			t, err := time.Parse(time.RFC3339, *args.UntilISO)
			if err != nil {
				return nil, false, fmt.Errorf("invalid untilIso: %w", err)
			}
			until = &t
		}
		if err := p.endpoints.SetPausedUntil(ctx, e.ID, until); err != nil {
			return nil, false, fmt.Errorf("set paused until: %w", err)
		}
		return map[string]any{"accepted": true}, false, nil

	case toolGetLatestResponse:
		run, err := p.runs.LatestResponse(ctx, e.ID)
		if err != nil {
			return nil, false, fmt.Errorf("latest response: %w", err)
		}
		if run == nil {
			return map[string]any{"found": false}, false, nil
		}
		return map[string]any{"found": true, "statusCode": run.StatusCode, "startedAt": run.StartedAt, "responseBody": run.ResponseBody}, false, nil

	case toolGetResponseHistory:
		var args struct {
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(call.Input, &args)
		if args.Limit <= 0 || args.Limit > 50 {
			args.Limit = 20
		}
		runs, err := p.runs.ListByEndpointID(ctx, repository.ListRunsInput{EndpointID: e.ID, Limit: args.Limit})
		if err != nil {
			return nil, false, fmt.Errorf("response history: %w", err)
		}
		return map[string]any{"runs": summarizeRuns(runs)}, false, nil

	case toolGetSiblingLatest:
		siblings, err := p.endpoints.ListEndpoints(ctx, repository.ListEndpointsInput{JobID: e.JobID, Limit: 50})
		if err != nil {
			return nil, false, fmt.Errorf("list siblings: %w", err)
		}
		out := make([]map[string]any, 0, len(siblings))
		for _, s := range siblings {
			if s.ID == e.ID {
				continue
			}
			latest, err := p.runs.LatestResponse(ctx, s.ID)
			if err != nil {
				return nil, false, fmt.Errorf("sibling latest response: %w", err)
			}
			entry := map[string]any{"endpointId": s.ID, "url": s.URL}
			if latest != nil {
				entry["status"] = latest.Status
				entry["startedAt"] = latest.StartedAt
			}
			out = append(out, entry)
		}
		return map[string]any{"siblings": out}, false, nil

	case toolSubmitAnalysis:
		var args struct {
			Reasoning        string   `json:"reasoning"`
			NextAnalysisInMs *int64   `json:"nextAnalysisInMs"`
			Confidence       *float64 `json:"confidence"`
		}
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, false, fmt.Errorf("invalid arguments: %w", err)
		}
		session.Reasoning = args.Reasoning
		if args.NextAnalysisInMs != nil && *args.NextAnalysisInMs > 0 {
			session.NextAnalysisAt = now.Add(time.Duration(*args.NextAnalysisInMs) * time.Millisecond)
		}
		return map[string]any{"accepted": true}, true, nil

	default:
		return nil, false, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func summarizeRuns(runs []*domain.Run) []map[string]any {
	out := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		out = append(out, map[string]any{
			"status":     r.Status,
			"startedAt":  r.StartedAt,
			"statusCode": r.StatusCode,
			"durationMs": r.DurationMs,
		})
	}
	return out
}

const systemPrompt = "You are a scheduling advisor for an HTTP polling endpoint. " +
	"You may inspect recent history and nudge its schedule using the provided tools. " +
	"Always end by calling submit_analysis exactly once."

func (p *Planner) buildPrompt(ctx context.Context, e *domain.Endpoint, now time.Time) (string, error) {
	windows, err := p.runs.HealthSummary(ctx, e.ID, now, healthWindows)
	if err != nil {
		return "", fmt.Errorf("health summary: %w", err)
	}

	b, err := json.Marshal(map[string]any{
		"endpointId":   e.ID,
		"url":          e.URL,
		"method":       e.Method,
		"failureCount": e.FailureCount,
		"lastRunAt":    e.LastRunAt,
		"nextRunAt":    e.NextRunAt,
		"health":       windows,
	})
	if err != nil {
		return "", fmt.Errorf("marshal prompt context: %w", err)
	}
	return string(b), nil
}
