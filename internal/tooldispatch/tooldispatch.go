// Package tooldispatch resolves one model-requested tool call to a result
// string: either routed to an external MCP tool-server, or to an in-process
// registry keyed by the tool's handler reference, falling back to a stub
// when no handler is registered.
package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
)

// mcpCallName is the reserved tool identifier that routes through an
// external tool-server instead of the in-process registry.
const mcpCallName = "mcp_call"

// Handler executes one in-process tool call and returns its result text.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// MCPClient is the subset of an MCP client the dispatcher needs: invoke a
// named tool on the external server with the given arguments and return its
// result as already-stringified JSON.
type MCPClient interface {
	CallTool(ctx context.Context, toolName string, arguments map[string]any) (string, error)
}

// Registry is the in-process handler table, keyed by the Tool row's
// `handler` column.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a handler reference to a Handler function.
func (r *Registry) Register(ref string, h Handler) {
	r.handlers[ref] = h
}

// Dispatcher implements the driver's Dispatch contract.
type Dispatcher struct {
	registry *Registry
	mcp      MCPClient
}

// New builds a Dispatcher. mcp may be nil if no external tool-server is
// configured; mcp_call then fails with an error result rather than a panic.
func New(registry *Registry, mcp MCPClient) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{registry: registry, mcp: mcp}
}

// mcpCallInput is the expected shape of mcp_call's input: the inner tool
// name and its arguments, forwarded to the external server.
type mcpCallInput struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Dispatch resolves name/input to a result string per the dispatcher
// contract. Handler errors are caught and returned as a stringified error
// object rather than propagated, so the model observes the failure instead
// of the agent execution aborting.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input json.RawMessage, handlerRef string) (string, error) {
	if name == mcpCallName {
		return d.dispatchMCP(ctx, input)
	}

	h, ok := d.registry.handlers[handlerRef]
	if !ok {
		return stubResult(name, input), nil
	}

	result, err := h(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return result, nil
}

func (d *Dispatcher) dispatchMCP(ctx context.Context, input json.RawMessage) (string, error) {
	if d.mcp == nil {
		return errorResult(fmt.Errorf("mcp_call: no external tool-server configured")), nil
	}

	var call mcpCallInput
	if err := json.Unmarshal(input, &call); err != nil {
		return errorResult(fmt.Errorf("mcp_call: invalid input: %w", err)), nil
	}

	result, err := d.mcp.CallTool(ctx, call.ToolName, call.Arguments)
	if err != nil {
		return errorResult(err), nil
	}
	return result, nil
}

func stubResult(name string, input json.RawMessage) string {
	var parsed any
	_ = json.Unmarshal(input, &parsed)
	b, _ := json.Marshal(map[string]any{
		"message": fmt.Sprintf("no handler registered for tool %q", name),
		"input":   parsed,
	})
	return string(b)
}

func errorResult(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
