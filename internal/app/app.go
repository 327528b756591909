// Package app wires the Agent Runtime Bridge's subsystems into a running
// core process.
//
// App owns the full lifecycle: New constructs and connects every
// subsystem from a loaded [config.Config], Serve drives the native-messaging
// request loop against a [transport.Transport] until its context is
// cancelled, and Shutdown tears everything down in reverse order.
//
// For testing, inject dependencies via functional options (WithHost,
// WithLLMManager, WithKernel, ...). When an option is not provided, New
// builds the real implementation from cfg.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/harbor/internal/config"
	"github.com/MrWong99/harbor/internal/hostfacade"
	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/observe"
	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/policy"
	"github.com/MrWong99/harbor/internal/store"
	"github.com/MrWong99/harbor/internal/transport"
)

// App owns every subsystem's lifetime for one core process.
type App struct {
	cfg *config.Config

	catalog  *store.Catalog
	secrets  *store.SecretStore
	sessions *store.SessionDirectory
	pidFile  *store.RuntimePIDFile

	metrics   *observe.Metrics
	kernel    *policy.Kernel
	host      mcphost.Host
	llmMgr    *llmmanager.Manager
	registry  *config.Registry
	orch      *orchestrator.Orchestrator
	facade    *hostfacade.Facade
	localRun  *LocalRuntimeManager
	dispatch  *dispatchTable

	logger *slog.Logger

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithMetrics injects a pre-built [observe.Metrics] instead of deriving one
// from the global OTel meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHost injects an MCP host instead of constructing a [mcphost.Supervisor].
func WithHost(h mcphost.Host) Option {
	return func(a *App) { a.host = h }
}

// WithKernel injects a policy kernel instead of constructing one from
// cfg.Policy.
func WithKernel(k *policy.Kernel) Option {
	return func(a *App) { a.kernel = k }
}

// WithLLMManager injects an LLM manager instead of constructing one and
// populating it from cfg.Providers.
func WithLLMManager(m *llmmanager.Manager) Option {
	return func(a *App) { a.llmMgr = m }
}

// WithCatalog injects the Installed Server catalog instead of opening
// cfg.Store.CatalogPath.
func WithCatalog(c *store.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithSecretStore injects the credential store instead of opening
// cfg.Store.SecretsPath.
func WithSecretStore(s *store.SecretStore) Option {
	return func(a *App) { a.secrets = s }
}

// WithOrchestrator injects an orchestrator instead of constructing one.
func WithOrchestrator(o *orchestrator.Orchestrator) Option {
	return func(a *App) { a.orch = o }
}

// New wires every subsystem described by cfg into a running App: opens the
// persistence layer, builds the Policy Kernel, connects the MCP Supervisor
// to every catalogued and declaratively-configured server, registers LLM
// providers, and assembles the Orchestrator and Host Facade on top. All
// initialization is synchronous; New returns only once every subsystem is
// ready to serve requests.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: build metrics: %w", err)
		}
		a.metrics = m
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initKernel(); err != nil {
		return nil, fmt.Errorf("app: init policy kernel: %w", err)
	}
	if err := a.initHost(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp host: %w", err)
	}
	if err := a.initLLM(ctx); err != nil {
		return nil, fmt.Errorf("app: init llm manager: %w", err)
	}
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	if err := a.initFacade(); err != nil {
		return nil, fmt.Errorf("app: init host facade: %w", err)
	}
	a.dispatch = newDispatchTable(a.facade)

	return a, nil
}

// initStore opens the catalog, secret store, session directory, and
// runtime pid file unless already injected for tests.
func (a *App) initStore() error {
	if a.catalog == nil {
		c, err := store.OpenCatalog(a.cfg.Store.CatalogPath)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		a.catalog = c
		a.closers = append(a.closers, c.Close)
	}

	if a.secrets == nil {
		s, err := store.OpenSecretStore(a.cfg.Store.SecretsPath, a.cfg.Store.SecretsKeyPath)
		if err != nil {
			return fmt.Errorf("open secret store: %w", err)
		}
		a.secrets = s
		a.closers = append(a.closers, s.Close)
	}

	if a.sessions == nil {
		sessionsDir := a.cfg.Store.SessionsDir
		if sessionsDir != "" {
			d, err := store.NewSessionDirectory(sessionsDir)
			if err != nil {
				return fmt.Errorf("open session directory: %w", err)
			}
			a.sessions = d
		}
	}

	if a.pidFile == nil && a.cfg.Store.RuntimePIDPath != "" {
		a.pidFile = store.NewRuntimePIDFile(a.cfg.Store.RuntimePIDPath)
	}

	return nil
}

// initKernel builds the Policy Kernel from cfg.Policy.Budgets, wired to
// emit metrics through internal/observe.
func (a *App) initKernel() error {
	if a.kernel != nil {
		return nil
	}

	budgets := make([]policy.ResourceBudget, 0, len(a.cfg.Policy.Budgets))
	for _, b := range a.cfg.Policy.Budgets {
		budgets = append(budgets, policy.ResourceBudget{
			Resource: b.Resource,
			Window:   b.Window,
			Limit:    b.Limit,
		})
	}

	a.kernel = policy.New(
		policy.Config{Budgets: budgets},
		policy.WithLogger(a.logger),
		policy.WithRecorder(observe.NewPolicyRecorder(a.metrics)),
	)
	return nil
}

// initHost builds the MCP Supervisor and registers every server the
// catalog persisted from a prior run plus every server cfg.Servers declares
// (saving newly-declared ones to the catalog so they survive the next
// restart without needing to be listed in the config file again).
func (a *App) initHost(ctx context.Context) error {
	if a.host != nil {
		return nil
	}

	sup := mcphost.New("harbor-core", mcphost.WithLogger(a.logger))
	a.host = sup
	a.closers = append(a.closers, sup.Close)

	seen := make(map[string]bool)

	if a.catalog != nil {
		installed, err := a.catalog.List()
		if err != nil {
			return fmt.Errorf("list installed mcp servers: %w", err)
		}
		for _, s := range installed {
			cfg := installedServerConfig(s)
			if err := sup.RegisterServer(ctx, cfg); err != nil {
				a.logger.Warn("failed to connect catalogued mcp server", "server", s.ID, "err", err)
				continue
			}
			seen[s.ID] = true
		}
	}

	for _, declared := range a.cfg.Servers {
		if seen[declared.ID] {
			continue
		}
		if err := validateMCPServerConfig(declared); err != nil {
			a.logger.Warn("skipping invalid mcp server config", "server", declared.ID, "err", err)
			continue
		}
		cfg := mcpServerConfig(declared)
		if err := sup.RegisterServer(ctx, cfg); err != nil {
			a.logger.Warn("failed to connect configured mcp server", "server", declared.ID, "err", err)
			continue
		}
		if a.catalog != nil {
			if err := a.catalog.Save(catalogRecord(declared)); err != nil {
				a.logger.Warn("failed to persist mcp server to catalog", "server", declared.ID, "err", err)
			}
		}
	}

	if err := sup.ReconcileOrphans(ctx); err != nil {
		a.logger.Warn("mcp orphan reconciliation failed", "err", err)
	}

	return nil
}

// initLLM builds the LLM Manager, a provider-factory registry, and
// registers one entry per cfg.Providers element.
func (a *App) initLLM(ctx context.Context) error {
	if a.llmMgr == nil {
		a.llmMgr = llmmanager.New(
			llmmanager.WithLogger(a.logger),
			llmmanager.WithSecretStore(a.secrets.LLMCredentials()),
			llmmanager.WithMetricsRecorder(observe.NewLLMMetricsRecorder(a.metrics)),
		)
	}

	a.registry = newProviderRegistry(func(entry config.ProviderEntry) string {
		if entry.APIKeyRef == "" || a.secrets == nil {
			return ""
		}
		key, _ := a.secrets.LLMCredentials().Get(entry.APIKeyRef)
		return key
	})

	if err := registerProviders(a.llmMgr, a.registry, a.secrets.LLMCredentials(), a.cfg.Providers); err != nil {
		return err
	}

	a.llmMgr.DetectAll(ctx)
	return nil
}

// initOrchestrator builds the Orchestrator, persisting Chat Sessions to the
// on-disk session directory when one is configured, or keeping them
// in-memory otherwise.
func (a *App) initOrchestrator() error {
	if a.orch != nil {
		return nil
	}

	var opts []orchestrator.Option
	opts = append(opts, orchestrator.WithLogger(a.logger))
	if a.sessions != nil {
		opts = append(opts, orchestrator.WithSessionStore(newSessionStoreAdapter(a.sessions)))
	}

	a.orch = orchestrator.New(a.host, a.llmMgr, a.kernel, opts...)
	return nil
}

// initFacade assembles the Host Facade from the already-constructed
// subsystems.
func (a *App) initFacade() error {
	f, err := hostfacade.New(hostfacade.Config{
		Host:         a.host,
		Kernel:       a.kernel,
		LLMManager:   a.llmMgr,
		Orchestrator: a.orch,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	a.facade = f
	return nil
}

// Facade returns the Host Facade backing this App's dispatch table.
func (a *App) Facade() *hostfacade.Facade { return a.facade }

// Kernel returns the Policy Kernel.
func (a *App) Kernel() *policy.Kernel { return a.kernel }

// Host returns the MCP host.
func (a *App) Host() mcphost.Host { return a.host }

// LLMManager returns the LLM provider manager.
func (a *App) LLMManager() *llmmanager.Manager { return a.llmMgr }

// Serve drains t's inbound channel, dispatching every "rpc" message to the
// Host Facade and replying with a matching rpc_response. "ping" messages get
// an immediate pong status push; any other kind is logged and dropped. Serve
// returns when t's inbound channel closes (the transport's read side ended)
// or ctx is cancelled, whichever comes first; it does not itself call
// t.Run — the caller drives the transport's read/write goroutines alongside
// Serve.
func (a *App) Serve(ctx context.Context, t *transport.Transport) {
	for {
		select {
		case msg, ok := <-t.Inbound():
			if !ok {
				return
			}
			a.handleInbound(ctx, t, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) handleInbound(ctx context.Context, t *transport.Transport, msg *transport.Inbound) {
	switch msg.Kind {
	case transport.KindPing:
		if err := t.SendStatus(transport.StatusMessage{Status: transport.StatusPong}); err != nil {
			a.logger.Warn("failed to send pong", "err", err)
		}
	case transport.KindRPC:
		resp := a.dispatch.Handle(ctx, msg)
		if err := t.SendRPCResponse(resp); err != nil {
			a.logger.Warn("failed to send rpc response", "method", msg.Method, "err", err)
		}
	default:
		a.logger.Warn("dropping inbound message of unsupported kind", "kind", msg.Kind)
	}
}

// Shutdown tears down every subsystem in reverse-init order. It respects
// ctx's deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if a.localRun != nil {
			if err := a.localRun.Stop(); err != nil {
				a.logger.Warn("local runtime stop error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
