// Package llmdriver drives the tool-use loop against a generic LLM
// provider: assemble a request, dispatch any tool_use blocks the model
// returns, feed results back, and repeat until the model stops asking for
// tools or the turn budget is exhausted.
package llmdriver

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"conductor/internal/store"
)

// MaxToolTurns bounds how many tool-use round trips one agent invocation may
// take before it fails with KindMaxIterations.
const MaxToolTurns = 10

// Message is one turn of the conversation threaded through a provider call.
type Message struct {
	Role    string // "user" or "assistant"
	Content []ContentBlock
}

// ContentBlock is a tagged union over the block kinds a provider exchanges:
// text, a model-issued tool_use request, or a tool_result reply.
type ContentBlock struct {
	Type       string // "text", "tool_use", "tool_result"
	Text       string
	ToolUseID  string
	ToolName   string
	ToolInput  json.RawMessage
	ResultText string
	IsError    bool
}

// ToolDefinition is one entry of the catalog offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is the generic invocation the orchestrator hands to a Provider,
// translated from an Agent row and its assembled tool catalog.
type Request struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	Tools        []ToolDefinition
	Messages     []Message
}

// Response is one provider turn: the content blocks it returned, why it
// stopped, and token usage for that single call.
type Response struct {
	Content      []ContentBlock
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the seam every concrete LLM backend implements. A single
// provider call corresponds to one HTTP round trip; the multi-turn tool-use
// loop lives in Invoke, not here.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Dispatch resolves one tool call to its result text. Implemented by
// internal/tooldispatch; kept as a function type here so this package has no
// import-time dependency on the dispatcher's registry machinery.
type Dispatch func(ctx context.Context, name string, input json.RawMessage) (string, error)

// Result is what Invoke returns: the concatenated assistant text across the
// final turn, why the loop stopped, and the summed token usage over every
// turn the invocation took.
type Result struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Invoke drives the tool-use loop described in the LLM driver contract:
// start with a single user message, call the provider, and for every
// tool_use block in a "tool_use" stop-reason response, dispatch it
// concurrently, append the model's message verbatim, append one user
// message carrying all tool results (in the order the model requested
// them), and re-invoke. Exceeding MaxToolTurns fails with KindMaxIterations.
func Invoke(ctx context.Context, provider Provider, req Request, initialUserContent string, dispatch Dispatch) (*Result, error) {
	messages := []Message{{
		Role:    "user",
		Content: []ContentBlock{{Type: "text", Text: initialUserContent}},
	}}

	total := Result{}

	for turn := 0; ; turn++ {
		if turn >= MaxToolTurns {
			return nil, store.NewError(store.KindMaxIterations, nil, "agent exceeded %d tool-use turns", MaxToolTurns)
		}

		callReq := req
		callReq.Messages = messages

		resp, err := provider.Complete(ctx, callReq)
		if err != nil {
			return nil, err
		}
		total.InputTokens += resp.InputTokens
		total.OutputTokens += resp.OutputTokens

		if resp.StopReason != "tool_use" {
			total.Text = concatText(resp.Content)
			total.StopReason = resp.StopReason
			return &total, nil
		}

		results, err := dispatchAll(ctx, resp.Content, dispatch)
		if err != nil {
			return nil, err
		}

		messages = append(messages, Message{Role: "assistant", Content: resp.Content})
		messages = append(messages, Message{Role: "user", Content: results})
	}
}

// dispatchAll runs every tool_use block's dispatch concurrently and
// reassembles the tool_result blocks in the model's original request order.
func dispatchAll(ctx context.Context, content []ContentBlock, dispatch Dispatch) ([]ContentBlock, error) {
	var useBlocks []ContentBlock
	for _, b := range content {
		if b.Type == "tool_use" {
			useBlocks = append(useBlocks, b)
		}
	}

	results := make([]ContentBlock, len(useBlocks))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range useBlocks {
		i, b := i, b
		g.Go(func() error {
			text, err := dispatch(gctx, b.ToolName, b.ToolInput)
			if err != nil {
				results[i] = ContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, ResultText: fmt.Sprintf(`{"error":%q}`, err.Error()), IsError: true}
				return nil
			}
			results[i] = ContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, ResultText: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func concatText(blocks []ContentBlock) string {
	s := ""
	for _, b := range blocks {
		if b.Type == "text" {
			s += b.Text
		}
	}
	return s
}
