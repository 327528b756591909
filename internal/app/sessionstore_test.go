package app

import (
	"testing"

	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/store"
)

func newTestSessionStoreAdapter(t *testing.T) *sessionStoreAdapter {
	t.Helper()
	dir, err := store.NewSessionDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionDirectory: %v", err)
	}
	return newSessionStoreAdapter(dir)
}

func TestSessionStoreAdapterSaveLoadList(t *testing.T) {
	adapter := newTestSessionStoreAdapter(t)

	s := &orchestrator.Session{ID: "s1", EnabledServers: map[string]bool{"weather": true}}
	if err := adapter.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := adapter.Load("s1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if loaded.ID != "s1" {
		t.Fatalf("loaded session id = %q, want s1", loaded.ID)
	}

	sessions, err := adapter.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("List = %#v, want one session s1", sessions)
	}
}

func TestSessionStoreAdapterDelete(t *testing.T) {
	adapter := newTestSessionStoreAdapter(t)

	if err := adapter.Save(&orchestrator.Session{ID: "s1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := adapter.Delete("s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	sessions, err := adapter.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after delete, got %#v", sessions)
	}
}

var _ orchestrator.SessionStore = (*sessionStoreAdapter)(nil)
