// Package llm wraps the Anthropic Messages API for the AI planner's
// narrow, closed tool loop. It is a thin adapter over
// github.com/anthropics/anthropic-sdk-go — no conversation-role modeling,
// streaming, or provider-agnostic abstraction beyond what the planner's
// single fixed toolset needs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake instead of calling the real API.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// ToolDefinition describes one tool the model may call, using a raw JSON
// schema for its input shape.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Turn is one message in the conversation sent to the model: either a plain
// text turn, or a tool_result turn replying to an earlier ToolCall.
type Turn struct {
	Role       string // "user" or "assistant"
	Text       string
	ToolUseID  string // set when Role == "user" and this is a tool_result
	ToolResult string
	ToolIsErr  bool
	ToolCalls  []ToolCall // set when Role == "assistant" and the turn proposed tool calls
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Response is the model's reply to one Complete call.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Client drives one closed-toolset conversation against Claude.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

type Options struct {
	Model     string
	MaxTokens int
}

func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{msg: msg, model: opts.Model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a Client against the real Anthropic API.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// Complete sends system+conversation turns plus the fixed toolset and
// returns the model's next turn.
func (c *Client) Complete(ctx context.Context, system string, turns []Turn, tools []ToolDefinition) (*Response, error) {
	msgs, err := encodeTurns(turns)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Model:     sdk.Model(c.model),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		encoded, err := encodeTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = encoded
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

func encodeTurns(turns []Turn) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case "user":
			if t.ToolUseID != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(t.ToolUseID, t.ToolResult, t.ToolIsErr)))
				continue
			}
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(t.Text)))
		case "assistant":
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(t.ToolCalls)+1)
			if t.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(t.Text))
			}
			for _, tc := range t.ToolCalls {
				var input any
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						return nil, fmt.Errorf("decode tool call input: %w", err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported turn role %q", t.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one turn is required")
	}
	return out, nil
}

func encodeTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema for %q: %w", def.Name, err)
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("decode tool schema for %q: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	resp.Usage = TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp, nil
}
