package mcphost

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// remoteConnection wraps an MCP session reached over HTTP (streamable) or
// SSE. Neither has a child process, so PID is always nil. Done closes only
// when Close is called; a stream that the server ends is not detected here,
// so it does not trigger the crash policy.
type remoteConnection struct {
	session *mcpsdk.ClientSession
	done    chan struct{}
}

// connectHTTP connects to cfg.URL using the SDK's streamable-HTTP transport.
func connectHTTP(ctx context.Context, client *mcpsdk.Client, cfg ServerConfig) (*remoteConnection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcphost: http server %q requires a non-empty URL", cfg.ID)
	}
	transport := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcphost: connect to http server %q: %w", cfg.ID, err)
	}
	return &remoteConnection{session: session, done: make(chan struct{})}, nil
}

// connectSSE connects to cfg.URL using the SDK's SSE client transport.
func connectSSE(ctx context.Context, client *mcpsdk.Client, cfg ServerConfig) (*remoteConnection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcphost: sse server %q requires a non-empty URL", cfg.ID)
	}
	transport := &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcphost: connect to sse server %q: %w", cfg.ID, err)
	}
	return &remoteConnection{session: session, done: make(chan struct{})}, nil
}

func (c *remoteConnection) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	var defs []llm.ToolDefinition
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcphost: list tools: %w", err)
		}
		defs = append(defs, buildToolDefinition(tool))
	}
	return defs, nil
}

func (c *remoteConnection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcphost: call tool %q: %w", name, err)
	}
	return &ToolResult{Content: textContent(res.Content), IsError: res.IsError}, nil
}

func (c *remoteConnection) ReadResource(ctx context.Context, uri string) (string, error) {
	res, err := c.session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return "", fmt.Errorf("mcphost: read resource %q: %w", uri, err)
	}
	var sb []byte
	for _, content := range res.Contents {
		sb = append(sb, []byte(content.Text)...)
	}
	return string(sb), nil
}

func (c *remoteConnection) GetPrompt(ctx context.Context, name string, args map[string]any) (string, error) {
	strArgs := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			strArgs[k] = s
		}
	}
	res, err := c.session.GetPrompt(ctx, &mcpsdk.GetPromptParams{Name: name, Arguments: strArgs})
	if err != nil {
		return "", fmt.Errorf("mcphost: get prompt %q: %w", name, err)
	}
	var sb []byte
	for _, msg := range res.Messages {
		if tc, ok := msg.Content.(*mcpsdk.TextContent); ok {
			sb = append(sb, []byte(tc.Text)...)
		}
	}
	return string(sb), nil
}

func (c *remoteConnection) PID() *int          { return nil }
func (c *remoteConnection) Stderr() []string   { return nil }
func (c *remoteConnection) Done() <-chan struct{} { return c.done }
func (c *remoteConnection) ExitCode() int      { return -1 }

func (c *remoteConnection) Close() error {
	err := c.session.Close()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return err
}

var _ Connection = (*remoteConnection)(nil)
