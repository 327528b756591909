package mcphost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// connState holds everything the Supervisor tracks for one registered
// server: its configuration, the live Connection, its cached tool list, and
// a per-connection health window feeding the crash-policy escalation rule.
type connState struct {
	cfg         ServerConfig
	conn        Connection
	tools       []llm.ToolDefinition
	health      *rollingWindow
	connectedAt time.Time
	tornDown    bool
}

// Supervisor is the concrete implementation of [Host]. It owns every live
// Connection, enforces the crash/restart/quarantine policy, and caches each
// connection's tool catalogue — the same RWMutex-guarded map-of-structs
// shape the teacher's mcphost.Host uses, generalized to four transport
// kinds instead of one.
type Supervisor struct {
	mu    sync.RWMutex
	conns map[string]*connState

	client       *mcpsdk.Client
	crashPolicy  *crashPolicy
	runnerBinary string
	hostID       string
	runtime      containerRuntime
	logger       *slog.Logger
	onCrash      CrashCallback
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithCrashCallback registers a callback invoked on every crash/restart
// decision, in addition to the structured log line the Supervisor always
// emits.
func WithCrashCallback(cb CrashCallback) Option {
	return func(s *Supervisor) { s.onCrash = cb }
}

// WithRunnerBinary overrides the executable spawned for isolated-mode
// servers. Defaults to os.Args[0] (re-exec of this same binary in
// --mcp-runner mode).
func WithRunnerBinary(path string) Option {
	return func(s *Supervisor) { s.runnerBinary = path }
}

// WithRestartPolicy overrides the default attempt limit / sliding window.
func WithRestartPolicy(attemptLimit int, window time.Duration) Option {
	return func(s *Supervisor) { s.crashPolicy = newCrashPolicy(attemptLimit, window) }
}

// New constructs a Supervisor. hostID tags any docker-isolated containers
// this process spawns, so ReconcileOrphans can find only its own on restart.
func New(hostID string, opts ...Option) *Supervisor {
	s := &Supervisor{
		conns:        make(map[string]*connState),
		client:       mcpsdk.NewClient(&mcpsdk.Implementation{Name: "harbor-mcphost", Version: "1.0.0"}, nil),
		crashPolicy:  newCrashPolicy(0, 0),
		runnerBinary: os.Args[0],
		hostID:       hostID,
		runtime:      dockerCLIRuntime{},
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ Host = (*Supervisor)(nil)

// RegisterServer connects to the server described by cfg and imports its
// tool catalogue. A server already registered under the same ID is
// reconnected: its old Connection is closed and its restart budget reset,
// since a successful explicit (re)registration is user action.
func (s *Supervisor) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.ID == "" {
		return harborerr.New(harborerr.InvalidRequest, "mcp server config must have a non-empty ID")
	}
	if !cfg.Transport.IsValid() {
		return harborerr.Newf(harborerr.InvalidRequest, "unknown transport %q for server %q", cfg.Transport, cfg.ID)
	}

	conn, err := s.connect(ctx, cfg)
	if err != nil {
		return harborerr.Wrap(harborerr.NotConnected, err, fmt.Sprintf("connect to server %q", cfg.ID))
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		_ = conn.Close()
		return harborerr.Wrap(harborerr.NotConnected, err, fmt.Sprintf("list tools for server %q", cfg.ID))
	}

	s.mu.Lock()
	if old, ok := s.conns[cfg.ID]; ok {
		old.tornDown = true
		_ = old.conn.Close()
	}
	state := &connState{
		cfg:         cfg,
		conn:        conn,
		tools:       tools,
		health:      newRollingWindow(0),
		connectedAt: time.Now(),
	}
	s.conns[cfg.ID] = state
	s.mu.Unlock()

	s.crashPolicy.reset(cfg.ID)
	go s.watchCrash(cfg.ID, state)

	return nil
}

// connect dispatches to the transport-specific constructor.
func (s *Supervisor) connect(ctx context.Context, cfg ServerConfig) (Connection, error) {
	switch cfg.Transport {
	case TransportStdio:
		return connectStdioDirect(ctx, s.client, cfg)
	case TransportStdioIsolated:
		return connectIsolated(ctx, s.runnerBinary, cfg)
	case TransportHTTP:
		return connectHTTP(ctx, s.client, cfg)
	case TransportSSE:
		return connectSSE(ctx, s.client, cfg)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// watchCrash blocks until state's Connection reports Done, then applies the
// crash policy: restart automatically up to the attempt limit (escalated to
// a single attempt once the connection's error rate crosses
// unhealthyErrorRate), otherwise quarantine.
func (s *Supervisor) watchCrash(serverID string, state *connState) {
	<-state.conn.Done()

	s.mu.RLock()
	current, stillCurrent := s.conns[serverID]
	tornDown := state.tornDown
	s.mu.RUnlock()

	if tornDown || !stillCurrent || current != state {
		// Closed intentionally (Unregister/RegisterServer replacement) — no
		// crash handling needed.
		return
	}

	escalate := state.health.ErrorRate() > unhealthyErrorRate
	restart, attempt, quarantined := s.crashPolicy.recordCrash(serverID, escalate)

	event := CrashEvent{
		ServerID:     serverID,
		ExitCode:     state.conn.ExitCode(),
		AttemptLimit: defaultAttemptLimit,
		Attempt:      attempt,
		Quarantined:  quarantined,
	}
	s.logger.Warn("mcphost: connection ended unexpectedly",
		"server", serverID, "exit_code", event.ExitCode, "attempt", attempt, "quarantined", quarantined)
	if s.onCrash != nil {
		s.onCrash(event)
	}

	if !restart {
		return
	}

	conn, err := s.connect(context.Background(), state.cfg)
	if err != nil {
		s.logger.Error("mcphost: automatic restart failed", "server", serverID, "error", err)
		return
	}
	tools, err := conn.ListTools(context.Background())
	if err != nil {
		s.logger.Error("mcphost: automatic restart tool listing failed", "server", serverID, "error", err)
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	newState := &connState{cfg: state.cfg, conn: conn, tools: tools, health: newRollingWindow(0), connectedAt: time.Now()}
	s.conns[serverID] = newState
	s.mu.Unlock()

	go s.watchCrash(serverID, newState)
}

// Unregister closes and forgets the named server.
func (s *Supervisor) Unregister(ctx context.Context, serverID string) error {
	s.mu.Lock()
	state, ok := s.conns[serverID]
	if ok {
		state.tornDown = true
		delete(s.conns, serverID)
	}
	s.mu.Unlock()

	if !ok {
		return harborerr.Newf(harborerr.NotFound, "server %q not registered", serverID)
	}
	return state.conn.Close()
}

// AvailableTools returns the cached tool catalogue across every connected
// server, flattened into fully-qualified ToolDescriptors.
func (s *Supervisor) AvailableTools(ctx context.Context) ([]ToolDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ToolDescriptor
	for serverID, state := range s.conns {
		for _, def := range state.tools {
			out = append(out, ToolDescriptor{
				Name:       fqName(serverID, def.Name),
				ServerID:   serverID,
				ToolName:   def.Name,
				Definition: def,
			})
		}
	}
	return out, nil
}

// CallTool resolves fqName to (serverID, toolName) and dispatches the call,
// recording latency and error outcome on that server's health window.
func (s *Supervisor) CallTool(ctx context.Context, fqName string, args map[string]any) (*ToolResult, error) {
	serverID, toolName, ok := splitFQName(fqName)
	if !ok {
		return nil, harborerr.Newf(harborerr.InvalidRequest, "malformed tool name %q, want serverId/toolName", fqName)
	}

	s.mu.RLock()
	state, ok := s.conns[serverID]
	s.mu.RUnlock()
	if !ok {
		return nil, harborerr.Newf(harborerr.NotFound, "server %q not registered", serverID)
	}

	start := time.Now()
	result, err := state.conn.CallTool(ctx, toolName, args)
	durationMs := time.Since(start).Milliseconds()

	isError := err != nil || (result != nil && result.IsError)
	state.health.Record(durationMs, isError)

	if err != nil {
		return nil, harborerr.WrapContext(harborerr.ToolFailed, err, fmt.Sprintf("tool %q failed", fqName))
	}
	result.DurationMs = durationMs
	return result, nil
}

// ReadResource proxies to the named server's connection.
func (s *Supervisor) ReadResource(ctx context.Context, serverID, uri string) (string, error) {
	s.mu.RLock()
	state, ok := s.conns[serverID]
	s.mu.RUnlock()
	if !ok {
		return "", harborerr.Newf(harborerr.NotFound, "server %q not registered", serverID)
	}
	content, err := state.conn.ReadResource(ctx, uri)
	if err != nil {
		return "", harborerr.Wrap(harborerr.ToolFailed, err, fmt.Sprintf("read resource %q", uri))
	}
	return content, nil
}

// GetPrompt proxies to the named server's connection.
func (s *Supervisor) GetPrompt(ctx context.Context, serverID, name string, args map[string]any) (string, error) {
	s.mu.RLock()
	state, ok := s.conns[serverID]
	s.mu.RUnlock()
	if !ok {
		return "", harborerr.Newf(harborerr.NotFound, "server %q not registered", serverID)
	}
	text, err := state.conn.GetPrompt(ctx, name, args)
	if err != nil {
		return "", harborerr.Wrap(harborerr.ToolFailed, err, fmt.Sprintf("get prompt %q", name))
	}
	return text, nil
}

// Status returns diagnostics for one server.
func (s *Supervisor) Status(serverID string) (ConnectionStatus, bool) {
	s.mu.RLock()
	state, ok := s.conns[serverID]
	s.mu.RUnlock()
	if !ok {
		return ConnectionStatus{}, false
	}
	return ConnectionStatus{
		ServerID:    serverID,
		Transport:   state.cfg.Transport,
		ConnectedAt: state.connectedAt,
		PID:          state.conn.PID(),
		Stderr:       state.conn.Stderr(),
		Quarantined:  s.crashPolicy.isQuarantined(serverID),
		RestartCount: s.crashPolicy.restartCount(serverID),
	}, true
}

// AllStatus returns diagnostics for every currently registered server.
func (s *Supervisor) AllStatus() []ConnectionStatus {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]ConnectionStatus, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.Status(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// Close tears down every live connection.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, state := range s.conns {
		state.tornDown = true
		if err := state.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcphost: close server %q: %w", id, err)
		}
	}
	s.conns = make(map[string]*connState)
	return firstErr
}
