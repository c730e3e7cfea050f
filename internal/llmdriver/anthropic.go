package llmdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/internal/store"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake without standing up real HTTP.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	client MessagesClient
}

// NewAnthropicProvider wraps an already-configured Messages client.
func NewAnthropicProvider(client MessagesClient) *AnthropicProvider {
	return &AnthropicProvider{client: client}
}

// NewAnthropicProviderFromAPIKey builds a provider from a bare API key,
// using the SDK's default HTTP transport.
func NewAnthropicProviderFromAPIKey(apiKey string) *AnthropicProvider {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicProvider(&c.Messages)
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, store.NewError(store.KindInvalidArgument, err, "build anthropic request: %v", err)
	}

	msg, err := p.client.New(ctx, *params)
	if err != nil {
		return nil, store.NewError(store.KindLLMFailure, err, "anthropic messages.new: %v", err)
	}

	return translateMessage(msg), nil
}

func buildParams(req Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if req.MaxTokens <= 0 {
		return nil, errors.New("max_tokens must be positive")
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := toolInputSchema(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q input schema: %w", t.Name, err)
			}
			tool := sdk.ToolUnionParamOfTool(schema, t.Name)
			tools = append(tools, tool)
		}
		params.Tools = tools
	}
	return params, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(b.Text))
				}
			case "tool_use":
				var input any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, err
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case "tool_result":
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.ResultText, b.IsError))
			default:
				return nil, fmt.Errorf("unsupported content block type %q", b.Type)
			}
		}

		switch m.Role {
		case "user":
			out = append(out, sdk.NewUserMessage(blocks...))
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func translateMessage(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, ContentBlock{Type: "text", Text: block.Text})
		case "tool_use":
			resp.Content = append(resp.Content, ContentBlock{
				Type:      "tool_use",
				ToolUseID: block.ID,
				ToolName:  block.Name,
				ToolInput: json.RawMessage(block.Input),
			})
		}
	}
	resp.InputTokens = int(msg.Usage.InputTokens)
	resp.OutputTokens = int(msg.Usage.OutputTokens)
	return resp
}
