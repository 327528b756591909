package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/store"
)

// RuntimeInfo describes the locally-hosted model runtime a
// [LocalRuntimeManager] is currently supervising or has adopted.
type RuntimeInfo struct {
	PID       int
	ModelID   string
	StartedAt time.Time
	Adopted   bool // true if this process was inherited from a prior core, not started by us
}

// LocalRuntimeManager guards the lifecycle of the single locally-hosted
// model runtime process a core instance may manage: adopting a still-running
// instance left behind by a previous core process in preference to starting
// a duplicate, and recording the richer (model, started-at) bookkeeping the
// underlying [llmmanager.LocalRuntime]'s bare pid file doesn't carry. Only
// one runtime is active at a time, mirroring the mutex-guarded
// single-active-resource shape used elsewhere in this package.
type LocalRuntimeManager struct {
	mu      sync.Mutex
	active  bool
	info    RuntimeInfo
	runtime *llmmanager.LocalRuntime
	record  *store.RuntimePIDFile
	modelID string
	logger  *slog.Logger
}

// NewLocalRuntimeManager constructs a manager for one local runtime
// configuration. record persists the (pid, model, started-at) bookkeeping
// across restarts; liveness re-verification on adoption is still delegated
// to runtime.AdoptFromPIDFile, which also cross-checks /proc/<pid>/cmdline.
func NewLocalRuntimeManager(modelID string, runtime *llmmanager.LocalRuntime, record *store.RuntimePIDFile, logger *slog.Logger) *LocalRuntimeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRuntimeManager{
		runtime: runtime,
		record:  record,
		modelID: modelID,
		logger:  logger,
	}
}

// Start adopts an already-running runtime left behind by a previous core
// process, or starts a fresh one and waits for it to become healthy. It is
// a no-op if a runtime is already active under this manager.
func (m *LocalRuntimeManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil
	}

	adopted, err := m.runtime.AdoptFromPIDFile()
	if err != nil {
		return fmt.Errorf("app: check for adoptable local runtime: %w", err)
	}
	if adopted {
		info := RuntimeInfo{ModelID: m.modelID, Adopted: true}
		if rec, ok, recErr := m.record.Read(); recErr == nil && ok {
			info.PID = rec.PID
			info.StartedAt = rec.StartedAt
		}
		m.active = true
		m.info = info
		m.logger.Info("adopted running local model runtime", "model", m.modelID)
		return nil
	}

	if err := m.runtime.Start(ctx); err != nil {
		return fmt.Errorf("app: start local model runtime: %w", err)
	}
	if err := m.runtime.WaitReady(ctx); err != nil {
		_ = m.runtime.Stop()
		return fmt.Errorf("app: wait for local model runtime readiness: %w", err)
	}

	startedAt := time.Now()
	pid, _ := m.runtime.PID()
	if err := m.record.Write(store.RuntimePID{PID: pid, ModelID: m.modelID, StartedAt: startedAt}); err != nil {
		m.logger.Warn("failed to persist local runtime pid record", "err", err)
	}

	m.active = true
	m.info = RuntimeInfo{PID: pid, ModelID: m.modelID, StartedAt: startedAt}
	m.logger.Info("started local model runtime", "model", m.modelID, "pid", pid)
	return nil
}

// Stop terminates the runtime this manager started (or releases its
// adoption claim on one it merely adopted) and removes the pid record.
func (m *LocalRuntimeManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}

	var stopErr error
	if !m.info.Adopted {
		stopErr = m.runtime.Stop()
	}
	if err := m.record.Remove(); err != nil && stopErr == nil {
		stopErr = err
	}

	m.active = false
	m.info = RuntimeInfo{}
	return stopErr
}

// IsActive reports whether a runtime is currently supervised or adopted.
func (m *LocalRuntimeManager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns the active runtime's metadata, or the zero value if none.
func (m *LocalRuntimeManager) Info() RuntimeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}
