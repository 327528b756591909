// Package hostfacade implements the per-origin API surface the Transport
// exposes to web pages: tool listing/calling, permission administration,
// chat session CRUD, and LLM management. It is the single enforcement point
// binding the Policy Kernel, MCP Supervisor, LLM Manager, and Chat
// Orchestrator together, and every operation it exposes emits a structured
// audit record through the Policy Kernel before returning.
package hostfacade

import (
	"log/slog"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/policy"
)

// Config holds every dependency a Facade binds together, injected at
// construction rather than created internally, so callers can substitute
// test doubles for any one of them.
type Config struct {
	Host         mcphost.Host
	Kernel       *policy.Kernel
	LLMManager   *llmmanager.Manager
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

// Facade is the concrete Host Facade. Safe for concurrent use: it holds no
// mutable state of its own, deferring all of it to the subsystems it wires.
type Facade struct {
	host   mcphost.Host
	kernel *policy.Kernel
	llmMgr *llmmanager.Manager
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// New constructs a Facade from cfg. All four subsystem dependencies are
// required; a missing one is a wiring bug in internal/app, not a recoverable
// runtime condition.
func New(cfg Config) (*Facade, error) {
	if cfg.Host == nil {
		return nil, harborerr.New(harborerr.Internal, "hostfacade: mcp host is required")
	}
	if cfg.Kernel == nil {
		return nil, harborerr.New(harborerr.Internal, "hostfacade: policy kernel is required")
	}
	if cfg.LLMManager == nil {
		return nil, harborerr.New(harborerr.Internal, "hostfacade: llm manager is required")
	}
	if cfg.Orchestrator == nil {
		return nil, harborerr.New(harborerr.Internal, "hostfacade: orchestrator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Facade{
		host:   cfg.Host,
		kernel: cfg.Kernel,
		llmMgr: cfg.LLMManager,
		orch:   cfg.Orchestrator,
		logger: logger,
	}, nil
}
