package store

import (
	"path/filepath"
	"testing"
	"time"
)

type fakeLiveness struct{ alive map[int]bool }

func (f fakeLiveness) IsAlive(pid int) bool { return f.alive[pid] }

func TestRuntimePIDFileWriteAndRead(t *testing.T) {
	f := NewRuntimePIDFile(filepath.Join(t.TempDir(), "runtime.pid"))
	rec := RuntimePID{PID: 4242, ModelID: "llama-3-8b", Port: 11434, StartedAt: time.Now().Truncate(time.Second)}
	if err := f.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to be found")
	}
	if got.PID != 4242 || got.ModelID != "llama-3-8b" || got.Port != 11434 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRuntimePIDFileReadMissing(t *testing.T) {
	f := NewRuntimePIDFile(filepath.Join(t.TempDir(), "runtime.pid"))
	_, ok, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing file")
	}
}

func TestRuntimePIDFileAdoptLiveProcess(t *testing.T) {
	f := NewRuntimePIDFile(filepath.Join(t.TempDir(), "runtime.pid")).
		WithLiveness(fakeLiveness{alive: map[int]bool{4242: true}})
	if err := f.Write(RuntimePID{PID: 4242, ModelID: "m"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec, ok, err := f.Adopt()
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if !ok || rec.PID != 4242 {
		t.Fatalf("expected to adopt live process, got ok=%v rec=%+v", ok, rec)
	}
}

func TestRuntimePIDFileAdoptDeadProcessRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.pid")
	f := NewRuntimePIDFile(path).WithLiveness(fakeLiveness{alive: map[int]bool{}})
	if err := f.Write(RuntimePID{PID: 9999, ModelID: "m"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, ok, err := f.Adopt()
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if ok {
		t.Fatalf("expected not to adopt a dead process")
	}

	if _, stillThere, _ := f.Read(); stillThere {
		t.Fatalf("expected stale pid file to be removed")
	}
}

func TestRuntimePIDFileAdoptNoFile(t *testing.T) {
	f := NewRuntimePIDFile(filepath.Join(t.TempDir(), "runtime.pid"))
	_, ok, err := f.Adopt()
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false with no file present")
	}
}
