package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/policy"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

const defaultMaxIterations = 5

// Orchestrator runs the bounded agent loop for Chat Sessions. It is safe for
// concurrent use; per-session state is guarded by the session store, and the
// loop never holds a shared lock across a suspension point (LLM call, tool
// call), mirroring the teacher's snapshot-before-I/O pattern.
type Orchestrator struct {
	host   mcphost.Host
	llmMgr *llmmanager.Manager
	kernel *policy.Kernel
	sink   StepSink
	store  SessionStore
	logger *slog.Logger

	maxIterations int
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithStepSink overrides the default no-op StepSink.
func WithStepSink(sink StepSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithSessionStore overrides the default in-memory SessionStore.
func WithSessionStore(store SessionStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithMaxIterations overrides the default iteration bound of 5.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) { o.maxIterations = n }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New constructs an Orchestrator wired to the given MCP host, LLM manager,
// and policy kernel.
func New(host mcphost.Host, llmMgr *llmmanager.Manager, kernel *policy.Kernel, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		host:          host,
		llmMgr:        llmMgr,
		kernel:        kernel,
		sink:          noopSink{},
		store:         newMemoryStore(),
		logger:        slog.Default(),
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunResult is the outcome of a single Run.
type RunResult struct {
	FinalContent        string
	IterationsUsed      int
	IterationBoundReached bool
}

// CreateSession creates and persists a new Chat Session.
func (o *Orchestrator) CreateSession(id string, enabledServers []string, cfg SessionConfig) (*Session, error) {
	if id == "" {
		return nil, harborerr.New(harborerr.InvalidRequest, "session id must not be empty")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = o.maxIterations
	}

	servers := make(map[string]bool, len(enabledServers))
	for _, s := range enabledServers {
		servers[s] = true
	}

	now := time.Now()
	s := &Session{
		ID:             id,
		EnabledServers: servers,
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.Save(s); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create chat session")
	}
	return s, nil
}

// GetSession retrieves a Chat Session by id.
func (o *Orchestrator) GetSession(id string) (*Session, bool, error) {
	return o.store.Load(id)
}

// ListSessions returns every persisted Chat Session.
func (o *Orchestrator) ListSessions() ([]*Session, error) {
	return o.store.List()
}

// DeleteSession removes a Chat Session.
func (o *Orchestrator) DeleteSession(id string) error {
	return o.store.Delete(id)
}

// UpdateSession replaces a session's enabled-server set, config, and system
// prompt override, leaving its message log untouched.
func (o *Orchestrator) UpdateSession(id string, enabledServers []string, cfg SessionConfig, systemPromptOverride string) (*Session, error) {
	s, ok, err := o.store.Load(id)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "load chat session")
	}
	if !ok {
		return nil, harborerr.Newf(harborerr.NotFound, "chat session %q not found", id)
	}

	servers := make(map[string]bool, len(enabledServers))
	for _, srv := range enabledServers {
		servers[srv] = true
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = o.maxIterations
	}

	s.EnabledServers = servers
	s.Config = cfg
	s.SystemPromptOverride = systemPromptOverride
	s.UpdatedAt = time.Now()

	if err := o.store.Save(s); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "update chat session")
	}
	return s, nil
}

// ClearSession empties a session's message log while keeping its id,
// enabled-server set, and config.
func (o *Orchestrator) ClearSession(id string) error {
	s, ok, err := o.store.Load(id)
	if err != nil {
		return err
	}
	if !ok {
		return harborerr.Newf(harborerr.NotFound, "chat session %q not found", id)
	}
	s.Messages = nil
	s.UpdatedAt = time.Now()
	return o.store.Save(s)
}

// Run drives the bounded agent loop for sessionID given a new user message,
// enforcing policy on every tool call against origin.
func (o *Orchestrator) Run(ctx context.Context, origin, sessionID, userMessage string) (*RunResult, error) {
	session, ok, err := o.store.Load(sessionID)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "load chat session")
	}
	if !ok {
		return nil, harborerr.Newf(harborerr.NotFound, "chat session %q not found", sessionID)
	}

	session.Messages = append(session.Messages, llm.Message{Role: "user", Content: userMessage})

	maxIter := session.Config.MaxIterations
	if maxIter <= 0 {
		maxIter = o.maxIterations
	}

	stepIndex := 0
	emit := func(kind StepKind, payload any) {
		o.sink.EmitStep(Step{Index: stepIndex, Kind: kind, SessionID: sessionID, Payload: payload})
		stepIndex++
	}

	if caps, capsErr := o.llmMgr.Capabilities(); capsErr == nil {
		if err := o.compactHistory(ctx, session, caps); err != nil {
			o.logger.Warn("context compaction failed, continuing with full history", "session_id", sessionID, "err", err)
		}
	}

	toolSet, err := collectToolSet(ctx, o.host, session.EnabledServers)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.ToolFailed, err, "collect active tool set")
	}

	knownTools := make(map[string]bool, len(toolSet))
	for name := range toolSet {
		knownTools[name] = true
	}

	syntheticCallSeq := 0
	result := &RunResult{}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			emit(StepError, ErrorPayload{Message: err.Error(), Code: string(harborerr.Cancelled)})
			return nil, harborerr.Wrap(harborerr.Cancelled, err, "orchestrator run cancelled")
		}

		activeTools := toolSet
		if session.Config.ToolRouterEnabled {
			activeTools = routeTools(userMessage, toolSet)
		}

		caps, err := o.llmMgr.Capabilities()
		if err != nil {
			return nil, err
		}

		// The fully-qualified name is exposed to the model as the tool's name
		// so a returned tool call round-trips straight back into toolSet by a
		// single map lookup — it is never split back into (server, tool) here,
		// only at the CallTool boundary in executeToolCall.
		toolDefs := make([]llm.ToolDefinition, 0, len(activeTools))
		for _, tm := range activeTools {
			def := tm.descriptor.Definition
			def.Name = tm.descriptor.Name
			toolDefs = append(toolDefs, def)
		}

		req := llm.CompletionRequest{
			Messages:     session.Messages,
			Tools:        toolDefs,
			SystemPrompt: buildSystemPrompt(session, toolDefs, caps),
		}
		req = llmmanager.AdaptForCapabilities(req, caps)

		resp, err := o.llmMgr.Chat(ctx, req)
		if err != nil {
			emit(StepError, ErrorPayload{Message: err.Error(), Code: string(harborerr.CodeOf(err))})
			return nil, err
		}

		emit(StepThought, ThoughtPayload{Content: resp.Content})

		calls := resp.ToolCalls
		if len(calls) == 0 {
			if parsed, ok := parseTextToolCall(resp.Content, knownTools); ok {
				argsJSON, marshalErr := json.Marshal(parsed.Arguments)
				if marshalErr == nil {
					syntheticCallSeq++
					calls = []llm.ToolCall{{
						ID:        fmt.Sprintf("text-%d", syntheticCallSeq),
						Name:      parsed.Name,
						Arguments: string(argsJSON),
					}}
				}
			}
		}

		if len(calls) == 0 {
			session.Messages = append(session.Messages, llm.Message{Role: "assistant", Content: resp.Content})
			session.UpdatedAt = time.Now()
			if saveErr := o.store.Save(session); saveErr != nil {
				o.logger.Warn("orchestrator: save session after final answer", "session", sessionID, "error", saveErr)
			}

			emit(StepFinal, FinalPayload{Content: resp.Content})
			result.FinalContent = resp.Content
			result.IterationsUsed = iter + 1
			return result, nil
		}

		resolved := make([]ResolvedToolCall, 0, len(calls))
		for _, c := range calls {
			tm, known := toolSet[c.Name]
			serverID := ""
			fq := c.Name
			if known {
				serverID = tm.descriptor.ServerID
				fq = tm.descriptor.Name
			}
			resolved = append(resolved, ResolvedToolCall{ToolCall: c, ServerID: serverID, FullyQualified: fq})
		}

		session.Messages = append(session.Messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: calls})
		emit(StepToolCalls, ToolCallsPayload{Calls: resolved})

		var runErrs []error
		for _, rc := range resolved {
			payload := o.executeToolCall(ctx, origin, rc)
			if payload.IsError {
				runErrs = append(runErrs, errors.New(payload.Content))
			}
			session.Messages = append(session.Messages, llm.Message{
				Role:       "tool",
				Content:    payload.Content,
				ToolCallID: payload.ToolCallID,
				Name:       rc.Name,
			})
			emit(StepToolResults, payload)
		}

		if joined := errors.Join(runErrs...); joined != nil {
			o.logger.Debug("orchestrator: iteration had failing tool calls", "session", sessionID, "iteration", iter, "errors", joined)
		}

		session.UpdatedAt = time.Now()
		if saveErr := o.store.Save(session); saveErr != nil {
			o.logger.Warn("orchestrator: save session mid-run", "session", sessionID, "error", saveErr)
		}
	}

	result.IterationsUsed = maxIter
	result.IterationBoundReached = true

	var lastContent string
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].Role == "assistant" {
			lastContent = session.Messages[i].Content
			break
		}
	}
	result.FinalContent = lastContent
	emit(StepFinal, FinalPayload{Content: lastContent, IterationBoundReached: true})
	return result, nil
}

// executeToolCall resolves policy for one tool call, dispatches it through
// the MCP Supervisor, and returns the tool-result payload regardless of
// outcome — a denied or failing call produces an error-flagged result, not
// an aborted run, so the remaining calls in the iteration still execute.
func (o *Orchestrator) executeToolCall(ctx context.Context, origin string, rc ResolvedToolCall) ToolResultPayload {
	if rc.ServerID == "" {
		return ToolResultPayload{
			ToolCallID: rc.ID,
			Name:       rc.Name,
			Content:    fmt.Sprintf("unknown tool %q", rc.Name),
			IsError:    true,
		}
	}

	allowed, err := o.kernel.Check(ctx, origin, policy.ScopeMCPToolsCall, policy.CheckOptions{ToolName: rc.FullyQualified})
	if err != nil || !allowed {
		reason := "denied"
		if err != nil {
			reason = err.Error()
		}
		return ToolResultPayload{
			ToolCallID: rc.ID,
			Name:       rc.Name,
			Content:    fmt.Sprintf("tool call denied: %s", reason),
			IsError:    true,
		}
	}

	if err := o.kernel.AcquireBudget(ctx, origin, string(policy.ScopeMCPToolsCall)); err != nil {
		return ToolResultPayload{
			ToolCallID: rc.ID,
			Name:       rc.Name,
			Content:    err.Error(),
			IsError:    true,
		}
	}

	var args map[string]any
	if rc.Arguments != "" {
		if unmarshalErr := json.Unmarshal([]byte(rc.Arguments), &args); unmarshalErr != nil {
			return ToolResultPayload{
				ToolCallID: rc.ID,
				Name:       rc.Name,
				Content:    fmt.Sprintf("malformed tool arguments: %v", unmarshalErr),
				IsError:    true,
			}
		}
	}

	res, err := o.host.CallTool(ctx, rc.FullyQualified, args)
	if err != nil {
		return ToolResultPayload{
			ToolCallID: rc.ID,
			Name:       rc.Name,
			Content:    err.Error(),
			IsError:    true,
		}
	}

	return ToolResultPayload{
		ToolCallID: rc.ID,
		Name:       rc.Name,
		Content:    res.Content,
		IsError:    res.IsError,
		DurationMs: res.DurationMs,
	}
}
