package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/store"
)

func TestLocalRuntimeManagerAdoptsLiveProcess(t *testing.T) {
	dir := t.TempDir()
	pidFilePath := filepath.Join(dir, "runtime.pid")
	if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	runtime := llmmanager.NewLocalRuntime(llmmanager.LocalRuntimeConfig{PIDFile: pidFilePath})
	record := store.NewRuntimePIDFile(filepath.Join(dir, "record.json"))
	if err := record.Write(store.RuntimePID{PID: os.Getpid(), ModelID: "local-model"}); err != nil {
		t.Fatalf("write record: %v", err)
	}

	mgr := NewLocalRuntimeManager("local-model", runtime, record, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !mgr.IsActive() {
		t.Fatal("expected manager to be active after adopting a live process")
	}
	info := mgr.Info()
	if !info.Adopted {
		t.Fatal("expected the process to be recorded as adopted, not freshly started")
	}
	if info.PID != os.Getpid() {
		t.Fatalf("info.PID = %d, want %d", info.PID, os.Getpid())
	}
}

func TestLocalRuntimeManagerStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	pidFilePath := filepath.Join(dir, "runtime.pid")
	if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	runtime := llmmanager.NewLocalRuntime(llmmanager.LocalRuntimeConfig{PIDFile: pidFilePath})
	record := store.NewRuntimePIDFile(filepath.Join(dir, "record.json"))

	mgr := NewLocalRuntimeManager("local-model", runtime, record, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
}

func TestLocalRuntimeManagerStopReleasesAdoptedProcessWithoutKilling(t *testing.T) {
	dir := t.TempDir()
	pidFilePath := filepath.Join(dir, "runtime.pid")
	if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	runtime := llmmanager.NewLocalRuntime(llmmanager.LocalRuntimeConfig{PIDFile: pidFilePath})
	record := store.NewRuntimePIDFile(filepath.Join(dir, "record.json"))

	mgr := NewLocalRuntimeManager("local-model", runtime, record, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if mgr.IsActive() {
		t.Fatal("expected manager to be inactive after Stop")
	}
	// This test process must still be alive; Stop must not have signalled it.
	if err := unix0(os.Getpid()); err != nil {
		t.Fatalf("test process no longer reachable after Stop: %v", err)
	}
}

// unix0 sends signal 0 to confirm a process is still alive without affecting
// it, mirroring the liveness probe AdoptFromPIDFile itself uses.
func unix0(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(nil)
}
