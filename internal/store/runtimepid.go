package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
)

// RuntimePID is the on-disk record of a core-managed local LLM runtime
// process, letting a restarted core adopt (or replace) a still-running
// subprocess instead of orphaning it.
type RuntimePID struct {
	PID               int       `json:"pid"`
	ModelID           string    `json:"modelId"`
	Port              int       `json:"port"`
	StartedAt         time.Time `json:"startedAt"`
	DockerContainerID string    `json:"dockerContainerId,omitempty"`
}

// ProcessLiveness checks whether a PID is still the live process it once
// was. Gated behind an interface, per the single place in this package that
// has no third-party equivalent in the retrieval pack: POSIX process
// liveness is checked directly against os/syscall.
type ProcessLiveness interface {
	IsAlive(pid int) bool
}

// posixLiveness implements ProcessLiveness using os.FindProcess plus a
// zero-signal probe, the same check the teacher's UI daemon uses to decide
// whether to reuse or replace a background process.
type posixLiveness struct{}

func (posixLiveness) IsAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// DefaultProcessLiveness is the POSIX-backed ProcessLiveness used outside
// of tests.
var DefaultProcessLiveness ProcessLiveness = posixLiveness{}

// RuntimePIDFile reads and writes the RuntimePID record at path.
type RuntimePIDFile struct {
	path     string
	liveness ProcessLiveness
}

// NewRuntimePIDFile returns a RuntimePIDFile backed by DefaultProcessLiveness.
func NewRuntimePIDFile(path string) *RuntimePIDFile {
	return &RuntimePIDFile{path: path, liveness: DefaultProcessLiveness}
}

// WithLiveness overrides the liveness checker, for tests that can't rely on
// a real OS process.
func (f *RuntimePIDFile) WithLiveness(l ProcessLiveness) *RuntimePIDFile {
	f.liveness = l
	return f
}

// Write persists rec to disk.
func (f *RuntimePIDFile) Write(rec RuntimePID) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "create runtime pid directory")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "marshal runtime pid record")
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "write runtime pid file")
	}
	return nil
}

// Read loads the persisted record. The second return is false if no file
// exists.
func (f *RuntimePIDFile) Read() (RuntimePID, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return RuntimePID{}, false, nil
	}
	if err != nil {
		return RuntimePID{}, false, harborerr.Wrap(harborerr.Internal, err, "read runtime pid file")
	}
	var rec RuntimePID
	if err := json.Unmarshal(data, &rec); err != nil {
		return RuntimePID{}, false, harborerr.Wrap(harborerr.Internal, err, "unmarshal runtime pid file")
	}
	return rec, true, nil
}

// Adopt reads the persisted record and reports whether its process is still
// alive. A dead or missing record means the caller should start a fresh
// runtime rather than adopt; the stale file is removed either way.
func (f *RuntimePIDFile) Adopt() (RuntimePID, bool, error) {
	rec, ok, err := f.Read()
	if err != nil || !ok {
		return RuntimePID{}, false, err
	}
	if !f.liveness.IsAlive(rec.PID) {
		f.Remove()
		return RuntimePID{}, false, nil
	}
	return rec, true, nil
}

// Remove deletes the pid file. Removing a missing file is not an error.
func (f *RuntimePIDFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return harborerr.Wrap(harborerr.Internal, err, "remove runtime pid file")
	}
	return nil
}
