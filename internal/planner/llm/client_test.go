package llm_test

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/weskerllc/cronicorn/internal/planner/llm"
)

type fakeMessagesClient struct {
	response *sdk.Message
	err      error
	gotModel sdk.Model
	gotTools []sdk.ToolUnionParam
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.gotModel = body.Model
	f.gotTools = body.Tools
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestComplete_TranslatesTextResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		response: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "looks healthy"},
			},
			StopReason: "end_turn",
			Usage:      sdk.Usage{InputTokens: 100, OutputTokens: 20},
		},
	}

	c, err := llm.New(fake, llm.Options{Model: "claude-x", MaxTokens: 512})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := c.Complete(context.Background(), "you are a scheduler assistant", []llm.Turn{
		{Role: "user", Text: "analyze this endpoint"},
	}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "looks healthy" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 20 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if fake.gotModel != "claude-x" {
		t.Fatalf("unexpected model sent: %s", fake.gotModel)
	}
}

func TestComplete_TranslatesToolCall(t *testing.T) {
	input := json.RawMessage(`{"interval_ms":60000,"reason":"spike detected"}`)
	fake := &fakeMessagesClient{
		response: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call-1", Name: "propose_interval", Input: input},
			},
			StopReason: "tool_use",
		},
	}

	c, err := llm.New(fake, llm.Options{Model: "claude-x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := c.Complete(context.Background(), "", []llm.Turn{{Role: "user", Text: "go"}}, []llm.ToolDefinition{
		{Name: "propose_interval", Description: "propose a new polling interval", InputSchema: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "propose_interval" {
		t.Fatalf("expected one propose_interval tool call, got %+v", resp.ToolCalls)
	}
	if len(fake.gotTools) != 1 {
		t.Fatalf("expected one tool sent to the model, got %d", len(fake.gotTools))
	}
}

func TestComplete_PropagatesToolResultTurn(t *testing.T) {
	fake := &fakeMessagesClient{response: &sdk.Message{StopReason: "end_turn"}}
	c, err := llm.New(fake, llm.Options{Model: "claude-x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = c.Complete(context.Background(), "", []llm.Turn{
		{Role: "user", Text: "analyze"},
		{Role: "assistant", ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "get_latest_response", Input: json.RawMessage(`{}`)}}},
		{Role: "user", ToolUseID: "call-1", ToolResult: `{"status":200}`},
	}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestNew_RejectsMissingModel(t *testing.T) {
	_, err := llm.New(&fakeMessagesClient{}, llm.Options{})
	if err == nil {
		t.Fatal("expected an error for missing model identifier")
	}
}

func TestNew_RejectsNilClient(t *testing.T) {
	_, err := llm.New(nil, llm.Options{Model: "claude-x"})
	if err == nil {
		t.Fatal("expected an error for a nil messages client")
	}
}
