package domain

import "time"

// ToolCallRecord is one tool invocation made by the planner during a single
// analysis session, with its arguments and result captured for audit.
type ToolCallRecord struct {
	Name      string
	Arguments JSONValue
	Result    JSONValue
	Error     *string
}

// TokenUsage mirrors the LLM client's usage accounting for one session.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// AISession is the telemetry record of one planner invocation for one
// endpoint.
type AISession struct {
	ID                    string
	EndpointID            string
	AnalyzedAt            time.Time
	ToolCalls             []ToolCallRecord
	Reasoning             string
	TokenUsage            TokenUsage
	NextAnalysisAt        time.Time
	FailureCountAtAnalysis int
}
