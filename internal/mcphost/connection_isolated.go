package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/harbor/internal/transport"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// EnvRunnerConfig is the environment variable the supervisor uses to pass a
// server's ServerConfig (as JSON) to a spawned runner child.
const EnvRunnerConfig = "HARBOR_MCP_RUNNER_CONFIG"

// isolatedConnection is the supervisor-side half of isolated mode: it spawns
// a second copy of this binary in `--mcp-runner <serverId>` mode and speaks
// a small RPC protocol to it over a dedicated stdio pipe, reusing
// internal/transport's framing rather than inventing a second wire format.
// If the runner or the real server it hosts dies, only the runner process
// is lost; this process observes that as a normal Done() close with an
// exit code, exactly like a direct stdio connection.
type isolatedConnection struct {
	cmd *exec.Cmd
	tr  *transport.Transport

	stderr *stderrRing

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan transport.Inbound
	closed  bool

	done     chan struct{}
	exitCode int
}

// connectIsolated spawns runnerBinary (typically os.Args[0]) with
// "--mcp-runner <cfg.ID>" and the server config passed via EnvRunnerConfig.
func connectIsolated(ctx context.Context, runnerBinary string, cfg ServerConfig) (*isolatedConnection, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("mcphost: marshal runner config for %q: %w", cfg.ID, err)
	}

	cmd := exec.CommandContext(ctx, runnerBinary, "--mcp-runner", cfg.ID)
	cmd.Env = append(cmd.Environ(), EnvRunnerConfig+"="+string(cfgJSON))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: runner stdin pipe for %q: %w", cfg.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: runner stdout pipe for %q: %w", cfg.ID, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcphost: runner stderr pipe for %q: %w", cfg.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcphost: start runner for %q: %w", cfg.ID, err)
	}

	ring := newStderrRing(0)
	go ring.pump(stderrPipe)

	conn := &isolatedConnection{
		cmd:      cmd,
		tr:       transport.New(stdout, stdin),
		stderr:   ring,
		pending:  make(map[string]chan transport.Inbound),
		done:     make(chan struct{}),
		exitCode: -1,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		conn.tr.Run(runCtx)
	}()
	go conn.dispatchLoop()
	go func() {
		err := cmd.Wait()
		cancel()
		conn.mu.Lock()
		if !conn.closed {
			conn.exitCode = exitCodeOf(err)
		}
		conn.mu.Unlock()
		close(conn.done)
	}()

	return conn, nil
}

// dispatchLoop routes rpc_response frames from the runner to the pending
// caller waiting on that request id.
func (c *isolatedConnection) dispatchLoop() {
	for msg := range c.tr.Inbound() {
		if msg.ID == "" {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- *msg
			close(ch)
		}
	}
}

// call sends an rpc request to the runner and waits for its rpc_response.
func (c *isolatedConnection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)

	ch := make(chan transport.Inbound, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcphost: runner connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.tr.SendRPCRequest(transport.RPCRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("mcphost: send rpc to runner: %w", err)
	}

	select {
	case msg := <-ch:
		if len(msg.Error) > 0 {
			var errPayload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Error, &errPayload)
			return nil, fmt.Errorf("mcphost: runner error: %s", errPayload.Message)
		}
		return msg.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("mcphost: runner exited before responding")
	}
}

func (c *isolatedConnection) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	raw, err := c.call(ctx, "listTools", nil)
	if err != nil {
		return nil, err
	}
	var defs []llm.ToolDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("mcphost: decode listTools response: %w", err)
	}
	return defs, nil
}

func (c *isolatedConnection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	raw, err := c.call(ctx, "callTool", map[string]any{"name": name, "args": args})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcphost: decode callTool response: %w", err)
	}
	return &result, nil
}

func (c *isolatedConnection) ReadResource(ctx context.Context, uri string) (string, error) {
	raw, err := c.call(ctx, "readResource", map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s, nil
}

func (c *isolatedConnection) GetPrompt(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := c.call(ctx, "getPrompt", map[string]any{"name": name, "args": args})
	if err != nil {
		return "", err
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s, nil
}

func (c *isolatedConnection) PID() *int {
	if c.cmd.Process == nil {
		return nil
	}
	pid := c.cmd.Process.Pid
	return &pid
}

func (c *isolatedConnection) Stderr() []string      { return c.stderr.snapshot() }
func (c *isolatedConnection) Done() <-chan struct{} { return c.done }

func (c *isolatedConnection) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

func (c *isolatedConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.tr.Close()
	if c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

var _ Connection = (*isolatedConnection)(nil)
