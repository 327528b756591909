package llmmanager

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
)

// LocalRuntimeConfig describes how to start and supervise a local
// OpenAI-compatible model server.
type LocalRuntimeConfig struct {
	// Binary is the natively-installed server executable, preferred over
	// ContainerImage when present on PATH.
	Binary string
	// BinaryArgs are passed to Binary on start.
	BinaryArgs []string
	// ContainerImage is used when Binary cannot be found.
	ContainerImage string
	// HealthURL is polled until it returns 2xx, signalling readiness.
	HealthURL string
	// PIDFile tracks the running server's PID across core restarts.
	PIDFile string
	// ReadyTimeout bounds how long WaitReady will poll before giving up.
	ReadyTimeout time.Duration
}

// LocalRuntime manages the lifecycle of one locally-hosted model server
// process: starting it, waiting for it to become healthy, and re-adopting a
// still-running instance left behind by a previous core process.
type LocalRuntime struct {
	cfg LocalRuntimeConfig
	cmd *exec.Cmd
}

// NewLocalRuntime constructs a LocalRuntime from cfg.
func NewLocalRuntime(cfg LocalRuntimeConfig) *LocalRuntime {
	return &LocalRuntime{cfg: cfg}
}

// Start launches the server, preferring the natively-installed binary over
// the containerized fallback, and writes its PID file.
func (r *LocalRuntime) Start(ctx context.Context) error {
	if r.cfg.Binary != "" {
		if path, err := exec.LookPath(r.cfg.Binary); err == nil {
			return r.startNative(path)
		}
	}
	if r.cfg.ContainerImage != "" {
		return r.startContainer(ctx)
	}
	return harborerr.New(harborerr.Internal, "local runtime: no binary on PATH and no container image configured")
}

func (r *LocalRuntime) startNative(path string) error {
	cmd := exec.Command(path, r.cfg.BinaryArgs...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "start local model server")
	}
	r.cmd = cmd

	if r.cfg.PIDFile != "" {
		if err := os.WriteFile(r.cfg.PIDFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			return harborerr.Wrap(harborerr.Internal, err, "write local model server pid file")
		}
	}
	return nil
}

func (r *LocalRuntime) startContainer(ctx context.Context) error {
	args := []string{"run", "--rm", "-d", r.cfg.ContainerImage}
	args = append(args, r.cfg.BinaryArgs...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.Output()
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "start containerized model server")
	}

	if r.cfg.PIDFile != "" {
		if err := os.WriteFile(r.cfg.PIDFile, out, 0o644); err != nil {
			return harborerr.Wrap(harborerr.Internal, err, "write local model server pid file")
		}
	}
	return nil
}

// WaitReady polls cfg.HealthURL until it returns a 2xx response or
// ReadyTimeout elapses.
func (r *LocalRuntime) WaitReady(ctx context.Context) error {
	if r.cfg.HealthURL == "" {
		return nil
	}

	timeout := r.cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.HealthURL, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return harborerr.Newf(harborerr.Timeout, "local model server did not become ready within %s", timeout)
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return harborerr.Wrap(harborerr.Cancelled, ctx.Err(), "wait for local model server readiness")
		}
	}
}

// Stop terminates the process this LocalRuntime started, if any, and removes
// its PID file.
func (r *LocalRuntime) Stop() error {
	if r.cmd != nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
		_ = r.cmd.Wait()
	}
	if r.cfg.PIDFile != "" {
		_ = os.Remove(r.cfg.PIDFile)
	}
	return nil
}

// AdoptFromPIDFile checks whether a process recorded in cfg.PIDFile from a
// previous core run is still alive and is plausibly the configured server
// (not just a PID that was since recycled for an unrelated process), and if
// so adopts it without starting a new one. It verifies PID liveness via a
// signal-0 probe and cross-checks the process's command line against
// cfg.Binary before trusting the recovered entry; a stale or mismatched PID
// file is removed.
func (r *LocalRuntime) AdoptFromPIDFile() (adopted bool, err error) {
	if r.cfg.PIDFile == "" {
		return false, nil
	}

	data, err := os.ReadFile(r.cfg.PIDFile)
	if err != nil {
		return false, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(r.cfg.PIDFile)
		return false, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(r.cfg.PIDFile)
		return false, nil
	}

	// Signal 0 checks liveness without affecting the process.
	if proc.Signal(nil) != nil {
		os.Remove(r.cfg.PIDFile)
		return false, nil
	}

	if !r.commandLineMatches(pid) {
		os.Remove(r.cfg.PIDFile)
		return false, nil
	}

	return true, nil
}

// commandLineMatches reads /proc/<pid>/cmdline and reports whether it
// references the configured server binary, guarding against adopting an
// unrelated process that happened to reuse a recycled PID.
func (r *LocalRuntime) commandLineMatches(pid int) bool {
	if r.cfg.Binary == "" {
		return true
	}

	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		// Non-Linux or /proc unavailable: liveness alone has to suffice.
		return true
	}

	parts := strings.Split(string(raw), "\x00")
	if len(parts) == 0 {
		return false
	}
	return strings.Contains(parts[0], r.cfg.Binary) || filepath.Base(parts[0]) == filepath.Base(r.cfg.Binary)
}

// PID returns the process ID of the server this LocalRuntime started, and
// false if none is currently running under this instance (including when a
// process was recovered via AdoptFromPIDFile rather than started directly).
func (r *LocalRuntime) PID() (int, bool) {
	if r.cmd == nil || r.cmd.Process == nil {
		return 0, false
	}
	return r.cmd.Process.Pid, true
}
