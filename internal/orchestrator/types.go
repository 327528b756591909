// Package orchestrator runs the bounded multi-step agent loop for a chat
// session: it assembles the active tool set and system prompt, invokes the
// active LLM, extracts tool calls (native or text-based), dispatches them
// through the MCP Supervisor under Policy Kernel enforcement, and emits
// Orchestration Step events in causal order.
package orchestrator

import (
	"time"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// StepKind names the kind of Orchestration Step emitted during a run.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepToolCalls   StepKind = "tool_calls"
	StepToolResults StepKind = "tool_results"
	StepFinal       StepKind = "final"
	StepError       StepKind = "error"
)

// Step is one append-only Orchestration Step within a run.
type Step struct {
	Index     int
	Kind      StepKind
	SessionID string
	Payload   any
}

// ThoughtPayload carries the assistant's raw reply for a thought step.
type ThoughtPayload struct {
	Content string
}

// ToolCallsPayload carries the tool calls extracted for a tool_calls step.
type ToolCallsPayload struct {
	Calls []ResolvedToolCall
}

// ResolvedToolCall pairs a requested tool call with the server it resolves
// to, per the tool-mapping built from the session's enabled servers.
type ResolvedToolCall struct {
	llm.ToolCall
	ServerID     string
	FullyQualified string
}

// ToolResultPayload carries one tool's outcome for a tool_results step.
type ToolResultPayload struct {
	ToolCallID string
	Name       string
	Content    string
	IsError    bool
	DurationMs int64
}

// FinalPayload carries the terminal assistant reply for a final step.
type FinalPayload struct {
	Content string

	// IterationBoundReached is true when this final step was forced by
	// exhausting MaxIterations rather than the model returning a plain
	// answer with no further tool calls.
	IterationBoundReached bool
}

// ErrorPayload carries a terminal error for an error step.
type ErrorPayload struct {
	Message string
	Code    string
}

// StepSink receives Orchestration Step events as a run progresses, typically
// forwarding them to the Transport so the UI can stream progress.
type StepSink interface {
	EmitStep(step Step)
}

// noopSink discards every step; used when no sink is supplied.
type noopSink struct{}

func (noopSink) EmitStep(Step) {}

// SessionConfig holds the per-session tunables the spec calls out: the
// iteration bound and whether the keyword tool router is engaged.
type SessionConfig struct {
	// MaxIterations bounds the agent loop. Zero uses the Orchestrator's own
	// bound (5 unless WithMaxIterations sets another).
	MaxIterations int
	// ToolRouterEnabled narrows the offered tool set to those scored
	// relevant to the triggering message when true.
	ToolRouterEnabled bool
}

// Session is a Chat Session: an ordered message log plus the configuration
// that shapes how a Run processes new messages against it.
type Session struct {
	ID                   string
	Messages             []llm.Message
	EnabledServers       map[string]bool
	SystemPromptOverride string
	Config               SessionConfig
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// clone returns a deep-enough copy of s for safe mutation outside the
// Orchestrator's lock.
func (s *Session) clone() *Session {
	out := *s
	out.Messages = append([]llm.Message(nil), s.Messages...)
	out.EnabledServers = make(map[string]bool, len(s.EnabledServers))
	for k, v := range s.EnabledServers {
		out.EnabledServers[k] = v
	}
	return &out
}
