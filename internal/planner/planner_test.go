package planner_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/redis/go-redis/v9"

	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/planner"
	"github.com/weskerllc/cronicorn/internal/planner/llm"
	"github.com/weskerllc/cronicorn/internal/quota"
	"github.com/weskerllc/cronicorn/internal/repository"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeEndpoints struct {
	endpoints   map[string]*domain.Endpoint
	dueIDs      []string
	hints       map[string]repository.AIHintWrite
	nudges      map[string]time.Time
	pauses      map[string]*time.Time
	analysisSet map[string]time.Time
}

func newFakeEndpoints(es ...*domain.Endpoint) *fakeEndpoints {
	f := &fakeEndpoints{
		endpoints:   map[string]*domain.Endpoint{},
		hints:       map[string]repository.AIHintWrite{},
		nudges:      map[string]time.Time{},
		pauses:      map[string]*time.Time{},
		analysisSet: map[string]time.Time{},
	}
	for _, e := range es {
		f.endpoints[e.ID] = e
		f.dueIDs = append(f.dueIDs, e.ID)
	}
	return f
}

func (f *fakeEndpoints) AddEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEndpoints) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	e, ok := f.endpoints[id]
	if !ok {
		return nil, domain.ErrEndpointNotFound
	}
	cp := *e
	return &cp, nil
}
func (f *fakeEndpoints) UpdateEndpoint(ctx context.Context, id string, patch repository.EndpointPatch) (*domain.Endpoint, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeEndpoints) ArchiveEndpoint(ctx context.Context, id string) error { return nil }
func (f *fakeEndpoints) ListEndpoints(ctx context.Context, input repository.ListEndpointsInput) ([]*domain.Endpoint, error) {
	var out []*domain.Endpoint
	for _, e := range f.endpoints {
		if e.JobID == input.JobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (f *fakeEndpoints) ClaimDueEndpoints(ctx context.Context, limit int, horizon time.Duration) ([]string, error) {
	return nil, nil
}
func (f *fakeEndpoints) SetLock(ctx context.Context, id string, until time.Time) error { return nil }
func (f *fakeEndpoints) ClearLock(ctx context.Context, id string) error                { return nil }
func (f *fakeEndpoints) SetNextRunAtIfEarlier(ctx context.Context, id string, t time.Time) error {
	f.nudges[id] = t
	return nil
}
func (f *fakeEndpoints) WriteAIHint(ctx context.Context, id string, hint repository.AIHintWrite) error {
	f.hints[id] = hint
	return nil
}
func (f *fakeEndpoints) SetPausedUntil(ctx context.Context, id string, until *time.Time) error {
	f.pauses[id] = until
	return nil
}
func (f *fakeEndpoints) UpdateAfterRun(ctx context.Context, id string, patch repository.AfterRunPatch) error {
	return nil
}
func (f *fakeEndpoints) ClearAIHints(ctx context.Context, id string) error      { return nil }
func (f *fakeEndpoints) ResetFailureCount(ctx context.Context, id string) error { return nil }
func (f *fakeEndpoints) ClaimDueForAnalysis(ctx context.Context, limit int) ([]string, error) {
	ids := f.dueIDs
	f.dueIDs = nil
	return ids, nil
}
func (f *fakeEndpoints) SetNextAnalysisAt(ctx context.Context, id string, t time.Time) error {
	f.analysisSet[id] = t
	return nil
}

type fakeRuns struct{}

func (f *fakeRuns) CreateRun(ctx context.Context, r *domain.Run) (*domain.Run, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeRuns) FinalizeRun(ctx context.Context, id string, status domain.RunStatus, statusCode *int, errMsg *string, durationMs int64, responseBody *domain.JSONValue) error {
	return errors.New("not implemented")
}
func (f *fakeRuns) GetRun(ctx context.Context, id string) (*domain.Run, error) { return nil, nil }
func (f *fakeRuns) ListByEndpointID(ctx context.Context, input repository.ListRunsInput) ([]*domain.Run, error) {
	return nil, nil
}
func (f *fakeRuns) HealthSummary(ctx context.Context, endpointID string, now time.Time, windows []time.Duration) ([]repository.HealthWindow, error) {
	var out []repository.HealthWindow
	for _, w := range windows {
		out = append(out, repository.HealthWindow{Window: w, TotalCount: 10, SuccessCount: 9, FailureCount: 1, AvgDurationMs: 120})
	}
	return out, nil
}
func (f *fakeRuns) LatestResponse(ctx context.Context, endpointID string) (*domain.Run, error) {
	return nil, nil
}
func (f *fakeRuns) SweepZombies(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

type fakeSessions struct {
	created []*domain.AISession
}

func (f *fakeSessions) CreateSession(ctx context.Context, s *domain.AISession) (*domain.AISession, error) {
	f.created = append(f.created, s)
	return s, nil
}
func (f *fakeSessions) ListByEndpointID(ctx context.Context, endpointID string, limit int) ([]*domain.AISession, error) {
	return nil, nil
}

type fakeRedis struct {
	counts map[string]int64
}

func newFakeRedis() *fakeRedis { return &fakeRedis{counts: map[string]int64{}} }

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(f.counts[key])
	return cmd
}
func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}
func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetErr(redis.Nil)
	return cmd
}

type fakeMessagesClient struct {
	responses []*sdk.Message
	calls     int
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEndpoint(id, jobID string) *domain.Endpoint {
	return &domain.Endpoint{
		ID:           id,
		JobID:        jobID,
		URL:          "http://example.com/" + id,
		Method:       domain.MethodGet,
		FailureCount: 1,
	}
}

func TestPlanner_SubmitAnalysisEndsSessionAndSetsNextAnalysisAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newEndpoint("ep-1", "job-1")
	endpoints := newFakeEndpoints(e)
	runs := &fakeRuns{}
	sessions := &fakeSessions{}
	redisFake := newFakeRedis()
	guard := quota.NewGuard(redisFake, "planner", 10, time.Hour)

	submitInput, _ := json.Marshal(map[string]any{"reasoning": "healthy, no change needed", "nextAnalysisInMs": int64(3_600_000)})
	msg := &fakeMessagesClient{responses: []*sdk.Message{
		{
			Content:    []sdk.ContentBlockUnion{{Type: "tool_use", ID: "call-1", Name: "submit_analysis", Input: submitInput}},
			StopReason: "tool_use",
			Usage:      sdk.Usage{InputTokens: 50, OutputTokens: 10},
		},
	}}
	llmClient, err := llm.New(msg, llm.Options{Model: "claude-x"})
	if err != nil {
		t.Fatalf("llm.New: %v", err)
	}

	p := planner.New(endpoints, runs, sessions, llmClient, guard, func(_ context.Context, jobID string) (string, error) {
		return "tenant-1", nil
	}, fakeClock{now: now}, testLogger(), planner.Config{})

	claimed, err := p.RunBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("expected 1 claimed, got %d", claimed)
	}
	if len(sessions.created) != 1 {
		t.Fatalf("expected one ai session persisted, got %d", len(sessions.created))
	}
	got := sessions.created[0]
	if got.Reasoning != "healthy, no change needed" {
		t.Fatalf("unexpected reasoning: %q", got.Reasoning)
	}
	wantNext := now.Add(time.Hour)
	if !got.NextAnalysisAt.Equal(wantNext) {
		t.Fatalf("expected next analysis at %s, got %s", wantNext, got.NextAnalysisAt)
	}
	if endpoints.analysisSet["ep-1"] != wantNext {
		t.Fatalf("expected endpoint's next analysis at to be committed")
	}
}

func TestPlanner_ProposeIntervalWritesHintAndNudgesSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newEndpoint("ep-1", "job-1")
	endpoints := newFakeEndpoints(e)
	runs := &fakeRuns{}
	sessions := &fakeSessions{}
	guard := quota.NewGuard(newFakeRedis(), "planner", 10, time.Hour)

	intervalInput, _ := json.Marshal(map[string]any{"intervalMs": int64(30_000), "ttlMinutes": 15, "reason": "elevated error rate"})
	submitInput, _ := json.Marshal(map[string]any{"reasoning": "tightened polling due to errors"})
	msg := &fakeMessagesClient{responses: []*sdk.Message{
		{Content: []sdk.ContentBlockUnion{{Type: "tool_use", ID: "call-1", Name: "propose_interval", Input: intervalInput}}, StopReason: "tool_use"},
		{Content: []sdk.ContentBlockUnion{{Type: "tool_use", ID: "call-2", Name: "submit_analysis", Input: submitInput}}, StopReason: "tool_use"},
	}}
	llmClient, err := llm.New(msg, llm.Options{Model: "claude-x"})
	if err != nil {
		t.Fatalf("llm.New: %v", err)
	}

	p := planner.New(endpoints, runs, sessions, llmClient, guard, func(_ context.Context, jobID string) (string, error) {
		return "tenant-1", nil
	}, fakeClock{now: now}, testLogger(), planner.Config{})

	if _, err := p.RunBatch(context.Background(), 10); err != nil {
		t.Fatalf("run batch: %v", err)
	}

	hint, ok := endpoints.hints["ep-1"]
	if !ok {
		t.Fatal("expected an ai hint to be written")
	}
	if hint.IntervalMs == nil || *hint.IntervalMs != 30_000 {
		t.Fatalf("unexpected hint interval: %+v", hint.IntervalMs)
	}
	if _, ok := endpoints.nudges["ep-1"]; !ok {
		t.Fatal("expected nextRunAt to be nudged")
	}
}

func TestPlanner_QuotaExceededDefersWithoutCallingLLM(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newEndpoint("ep-1", "job-1")
	endpoints := newFakeEndpoints(e)
	runs := &fakeRuns{}
	sessions := &fakeSessions{}
	guard := quota.NewGuard(newFakeRedis(), "planner", 0, time.Hour) // limit coerced to 1, first call consumes it

	msg := &fakeMessagesClient{responses: []*sdk.Message{{StopReason: "end_turn"}}}
	llmClient, err := llm.New(msg, llm.Options{Model: "claude-x"})
	if err != nil {
		t.Fatalf("llm.New: %v", err)
	}

	// Pre-consume the single allowed call so this endpoint's analysis is over budget.
	if _, err := guard.Allow(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("pre-consume quota: %v", err)
	}

	p := planner.New(endpoints, runs, sessions, llmClient, guard, func(_ context.Context, jobID string) (string, error) {
		return "tenant-1", nil
	}, fakeClock{now: now}, testLogger(), planner.Config{DefaultAnalysisInterval: time.Minute})

	if _, err := p.RunBatch(context.Background(), 10); err != nil {
		t.Fatalf("run batch: %v", err)
	}

	if len(sessions.created) != 0 {
		t.Fatalf("expected no session persisted when quota is exceeded, got %d", len(sessions.created))
	}
	if msg.calls != 0 {
		t.Fatalf("expected llm not to be called when quota is exceeded")
	}
	if endpoints.analysisSet["ep-1"] != now.Add(time.Minute) {
		t.Fatalf("expected next analysis at deferred by the default interval")
	}
}
