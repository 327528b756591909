// Package mcphost supervises the set of Model Context Protocol server
// connections: spawning and isolating stdio subprocesses, speaking HTTP and
// SSE transports, detecting crashes, quarantining misbehaving servers, and
// caching each connection's tool catalogue.
package mcphost

import (
	"context"
	"time"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// TransportKind names how the supervisor talks to a registered MCP server.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportStdioIsolated  TransportKind = "stdio_isolated"
	TransportHTTP           TransportKind = "http"
	TransportSSE            TransportKind = "sse"
)

// IsValid reports whether k is one of the supported transport kinds.
func (k TransportKind) IsValid() bool {
	switch k {
	case TransportStdio, TransportStdioIsolated, TransportHTTP, TransportSSE:
		return true
	default:
		return false
	}
}

// PackageKind is the origin of an Installed Server's package, as persisted
// by the catalog store.
type PackageKind string

const (
	PackageNPM    PackageKind = "npm"
	PackagePyPI   PackageKind = "pypi"
	PackageBinary PackageKind = "binary"
	PackageOCI    PackageKind = "oci"
	PackageGit    PackageKind = "git"
	PackageHTTP   PackageKind = "http"
	PackageSSE    PackageKind = "sse"
)

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// ID is the unique, stable identifier for this server within the host.
	ID string

	// DisplayName is shown to the end user; ID is used in wire messages and
	// fully-qualified tool names.
	DisplayName string

	// Transport selects the connection mechanism.
	Transport TransportKind

	// Command is the executable path and arguments for stdio transports.
	Command string

	// URL is the endpoint for http/sse transports.
	URL string

	// Env holds additional environment variables for stdio transports.
	Env map[string]string

	// Docker records that this server was installed as container-isolated.
	// Nothing in this package reads it: connections are launched the same
	// way either way, and orphan reconciliation finds containers by label.
	Docker bool
}

// ToolDescriptor is a Tool Descriptor: a tool's fully-qualified name, the
// server it is reachable from, and its schema, derived from a Connection and
// refreshed on reconnect.
type ToolDescriptor struct {
	// Name is serverId/toolName.
	Name       string
	ServerID   string
	ToolName   string
	Definition llm.ToolDefinition
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	Content    string
	IsError    bool
	DurationMs int64
}

// ConnectionStatus summarizes one Connection for diagnostics and the Host
// Facade's server-status RPCs.
type ConnectionStatus struct {
	ServerID    string
	Transport   TransportKind
	ConnectedAt time.Time
	PID         *int
	Stderr      []string
	Quarantined bool
	RestartCount int
}

// CrashEvent is delivered to a registered crash callback when a Connection's
// underlying transport ends unexpectedly.
type CrashEvent struct {
	ServerID    string
	ExitCode    int
	AttemptLimit int
	Attempt     int
	Quarantined bool
}

// CrashCallback is invoked on unexpected Connection termination.
type CrashCallback func(CrashEvent)

// Connection is the uniform interface both stdio (direct and isolated) and
// HTTP/SSE transports satisfy. Process-specific methods return zero values
// for transports with no child process.
type Connection interface {
	ListTools(ctx context.Context) ([]llm.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	ReadResource(ctx context.Context, uri string) (string, error)
	GetPrompt(ctx context.Context, name string, args map[string]any) (string, error)

	// PID returns the child process id, or nil for connections with no
	// child process (http, sse). For an isolated connection it is the pid
	// of the runner process.
	PID() *int

	// Stderr returns a snapshot of the bounded stderr ring buffer.
	Stderr() []string

	// Done is closed when the underlying transport ends, whether cleanly
	// (Close was called) or not (crash). ExitCode reports the observed
	// process exit code, or -1 when not applicable.
	Done() <-chan struct{}
	ExitCode() int

	Close() error
}

// Host is the Agent Runtime Bridge's MCP Supervisor contract.
type Host interface {
	RegisterServer(ctx context.Context, cfg ServerConfig) error
	Unregister(ctx context.Context, serverID string) error

	AvailableTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, fqName string, args map[string]any) (*ToolResult, error)
	ReadResource(ctx context.Context, serverID, uri string) (string, error)
	GetPrompt(ctx context.Context, serverID, name string, args map[string]any) (string, error)

	Status(serverID string) (ConnectionStatus, bool)
	AllStatus() []ConnectionStatus

	// ReconcileOrphans stops any previously-spawned containers tagged for
	// this host, per the "stop and re-create, never re-attach" rule.
	ReconcileOrphans(ctx context.Context) error

	Close() error
}
