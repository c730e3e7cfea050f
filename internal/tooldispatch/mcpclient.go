package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// StdioMCPClient adapts an mcp-go stdio client to the MCPClient interface
// the dispatcher depends on.
type StdioMCPClient struct {
	client *client.Client
}

// NewStdioMCPClient launches command as a subprocess speaking MCP over
// stdio and completes the protocol handshake.
func NewStdioMCPClient(ctx context.Context, command string, args []string, env map[string]string) (*StdioMCPClient, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := client.NewStdioMCPClient(command, envList, args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp stdio client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "conductor", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp client: %w", err)
	}

	return &StdioMCPClient{client: c}, nil
}

// Close releases the underlying subprocess/transport.
func (m *StdioMCPClient) Close() error {
	return m.client.Close()
}

// CallTool invokes toolName on the external server and returns its result
// flattened to a single string: concatenated text-content blocks, or a
// stringified error object when the call reports isError.
func (m *StdioMCPClient) CallTool(ctx context.Context, toolName string, arguments map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	resp, err := m.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call_tool %q: %w", toolName, err)
	}

	if resp.IsError {
		return errorResult(fmt.Errorf("%s", collectText(resp))), nil
	}

	text := collectText(resp)
	if text != "" {
		return text, nil
	}

	b, _ := json.Marshal(resp)
	return string(b), nil
}

func collectText(resp *mcp.CallToolResult) string {
	s := ""
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			s += tc.Text
		}
	}
	return s
}
