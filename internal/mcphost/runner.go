package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/harbor/internal/transport"
)

// RunRunner is the entry point for the isolated runner child process,
// invoked by cmd/harbor as `harbor --mcp-runner <serverId>`. It reads its
// ServerConfig from EnvRunnerConfig, connects to the real MCP server in
// direct mode, and serves listTools/callTool/readResource/getPrompt
// requests from the supervisor over stdin/stdout using the same
// internal/transport framing the supervisor speaks to the browser
// extension on its own stdio pair.
func RunRunner(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	cfgJSON := os.Getenv(EnvRunnerConfig)
	if cfgJSON == "" {
		return fmt.Errorf("mcphost: runner started without %s", EnvRunnerConfig)
	}
	var cfg ServerConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return fmt.Errorf("mcphost: runner: decode config: %w", err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "harbor-mcp-runner", Version: "1.0.0"}, nil)

	var conn Connection
	var err error
	switch cfg.Transport {
	case TransportStdio, TransportStdioIsolated:
		conn, err = connectStdioDirect(ctx, client, cfg)
	case TransportHTTP:
		conn, err = connectHTTP(ctx, client, cfg)
	case TransportSSE:
		conn, err = connectSSE(ctx, client, cfg)
	default:
		return fmt.Errorf("mcphost: runner: unsupported transport %q", cfg.Transport)
	}
	if err != nil {
		return fmt.Errorf("mcphost: runner: connect to real server: %w", err)
	}
	defer conn.Close()

	tr := transport.New(stdin, stdout)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go tr.Run(runCtx)

	for msg := range tr.Inbound() {
		if msg.Kind != transport.KindRPC {
			continue
		}
		go serveRunnerRequest(runCtx, tr, conn, msg)
	}

	return nil
}

// serveRunnerRequest handles one rpc request from the supervisor and sends
// back a matching rpc_response.
func serveRunnerRequest(ctx context.Context, tr *transport.Transport, conn Connection, msg *transport.Inbound) {
	result, err := dispatchRunnerMethod(ctx, conn, msg.Method, msg.Params)
	if err != nil {
		slog.Error("mcphost runner: request failed", "method", msg.Method, "error", err)
		sendErr := tr.SendRPCResponse(transport.RPCResponse{
			ID:    msg.ID,
			Error: map[string]string{"message": err.Error()},
		})
		if sendErr != nil {
			slog.Error("mcphost runner: failed to send error response", "error", sendErr)
		}
		return
	}
	if sendErr := tr.SendRPCResponse(transport.RPCResponse{ID: msg.ID, Result: result}); sendErr != nil {
		slog.Error("mcphost runner: failed to send response", "error", sendErr)
	}
}

func dispatchRunnerMethod(ctx context.Context, conn Connection, method string, params json.RawMessage) (any, error) {
	switch method {
	case "listTools":
		return conn.ListTools(ctx)

	case "callTool":
		var req struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("decode callTool params: %w", err)
		}
		return conn.CallTool(ctx, req.Name, req.Args)

	case "readResource":
		var req struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("decode readResource params: %w", err)
		}
		return conn.ReadResource(ctx, req.URI)

	case "getPrompt":
		var req struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("decode getPrompt params: %w", err)
		}
		return conn.GetPrompt(ctx, req.Name, req.Args)

	default:
		return nil, fmt.Errorf("unknown runner method %q", method)
	}
}
