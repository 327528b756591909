package orchestrator

import (
	"sync"

	"github.com/MrWong99/harbor/internal/harborerr"
)

// SessionStore persists Chat Sessions between runs. internal/store supplies
// the on-disk implementation; tests and standalone use get the in-memory
// default from newMemoryStore.
type SessionStore interface {
	Save(s *Session) error
	Load(id string) (*Session, bool, error)
	Delete(id string) error
	List() ([]*Session, error)
}

// memoryStore is the default in-process SessionStore, used when no
// persistence backend is configured.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*Session)}
}

func (m *memoryStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *memoryStore) Load(id string) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return s.clone(), true, nil
}

func (m *memoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return harborerr.Newf(harborerr.NotFound, "chat session %q not found", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *memoryStore) List() ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	return out, nil
}
