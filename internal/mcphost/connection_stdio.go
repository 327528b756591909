package mcphost

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// stdioConnection is a direct-mode Connection: the supervisor spawns the
// server process itself and speaks MCP over its stdio pipes via the
// official SDK client. Suitable when the host process can tolerate a
// misbehaving child, since a crash here is observed directly by this
// process's own goroutines.
type stdioConnection struct {
	cmd     *exec.Cmd
	session *mcpsdk.ClientSession
	stderr  *stderrRing

	mu       sync.Mutex
	done     chan struct{}
	exitCode int
	closed   bool
}

// connectStdioDirect spawns cfg.Command and connects client to it over a
// CommandTransport, matching the teacher's mcphost.Host.RegisterServer stdio
// path almost verbatim.
func connectStdioDirect(ctx context.Context, client *mcpsdk.Client, cfg ServerConfig) (*stdioConnection, error) {
	executable, args := splitCommand(cfg.Command)
	if executable == "" {
		return nil, fmt.Errorf("mcphost: stdio server %q requires a non-empty Command", cfg.ID)
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: stderr pipe for %q: %w", cfg.ID, err)
	}
	ring := newStderrRing(0)
	go ring.pump(stderrPipe)

	transport := &mcpsdk.CommandTransport{Command: cmd}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcphost: connect to stdio server %q: %w", cfg.ID, err)
	}

	conn := &stdioConnection{
		cmd:      cmd,
		session:  session,
		stderr:   ring,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	go conn.watch()

	return conn, nil
}

// watch blocks until the child process exits, then records its exit code
// and closes Done so the supervisor's crash policy can react.
func (c *stdioConnection) watch() {
	err := c.cmd.Wait()
	c.mu.Lock()
	if !c.closed {
		c.exitCode = exitCodeOf(err)
	}
	c.mu.Unlock()
	close(c.done)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (c *stdioConnection) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	var defs []llm.ToolDefinition
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcphost: list tools: %w", err)
		}
		defs = append(defs, buildToolDefinition(tool))
	}
	return defs, nil
}

func (c *stdioConnection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcphost: call tool %q: %w", name, err)
	}
	return &ToolResult{Content: textContent(res.Content), IsError: res.IsError}, nil
}

func (c *stdioConnection) ReadResource(ctx context.Context, uri string) (string, error) {
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

func (c *stdioConnection) GetPrompt(ctx context.Context, name string, args map[string]any) (string, error) {
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

func (c *stdioConnection) PID() *int {
	if c.cmd.Process == nil {
		return nil
	}
	pid := c.cmd.Process.Pid
	return &pid
}

func (c *stdioConnection) Stderr() []string {
	return c.stderr.snapshot()
}

func (c *stdioConnection) Done() <-chan struct{} {
	return c.done
}

func (c *stdioConnection) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

func (c *stdioConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.session.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return err
}

var _ Connection = (*stdioConnection)(nil)
var _ io.Closer = (*stdioConnection)(nil)
