package planner

import "github.com/weskerllc/cronicorn/internal/planner/llm"

const (
	toolProposeInterval    = "propose_interval"
	toolProposeNextTime    = "propose_next_time"
	toolPauseUntil         = "pause_until"
	toolGetLatestResponse  = "get_latest_response"
	toolGetResponseHistory = "get_response_history"
	toolGetSiblingLatest   = "get_sibling_latest_responses"
	toolSubmitAnalysis     = "submit_analysis"
)

// toolset is the closed set of tools bound to every planner session. It
// never varies per endpoint — the endpoint's own identity is already fixed
// by which conversation the model is in.
func toolset() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolProposeInterval,
			Description: "Propose a new polling interval for this endpoint, scoped by a TTL. Nudges nextRunAt earlier, subject to the endpoint's min/max guardrails.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"intervalMs": map[string]any{"type": "integer", "minimum": 1},
					"ttlMinutes": map[string]any{"type": "integer", "minimum": 1},
					"reason":     map[string]any{"type": "string"},
				},
				"required": []string{"intervalMs", "ttlMinutes", "reason"},
			},
		},
		{
			Name:        toolProposeNextTime,
			Description: "Propose a single one-shot next run time for this endpoint, scoped by a TTL. Nudges nextRunAt earlier, subject to guardrails.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"nextRunAtIso": map[string]any{"type": "string", "format": "date-time"},
					"ttlMinutes":   map[string]any{"type": "integer", "minimum": 1},
					"reason":       map[string]any{"type": "string"},
				},
				"required": []string{"nextRunAtIso", "ttlMinutes", "reason"},
			},
		},
		{
			Name:        toolPauseUntil,
			Description: "Pause or resume this endpoint. Pass untilIso null to resume immediately.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"untilIso": map[string]any{"type": []string{"string", "null"}, "format": "date-time"},
					"reason":   map[string]any{"type": "string"},
				},
				"required": []string{"reason"},
			},
		},
		{
			Name:        toolGetLatestResponse,
			Description: "Fetch the most recently captured response body for this endpoint, if any was captured.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        toolGetResponseHistory,
			Description: "Fetch up to `limit` (max 50) recent runs for this endpoint, including status and duration.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				},
			},
		},
		{
			Name:        toolGetSiblingLatest,
			Description: "Fetch the latest response summary for every other endpoint in this endpoint's job, for cross-endpoint context.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        toolSubmitAnalysis,
			Description: "End the analysis session with a final reasoning summary, an optional delay before the next analysis, and an optional confidence score.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reasoning":        map[string]any{"type": "string"},
					"nextAnalysisInMs": map[string]any{"type": "integer", "minimum": 1},
					"confidence":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"reasoning"},
			},
		},
	}
}
