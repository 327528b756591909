package app

import (
	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/store"
)

// sessionStoreAdapter satisfies orchestrator.SessionStore on top of a
// *store.SessionDirectory, which only tracks session IDs on disk rather
// than keeping an in-memory index. List loads every session file in turn;
// acceptable since it only runs for the rarely-used session-listing RPC,
// not the per-turn Save/Load hot path.
type sessionStoreAdapter struct {
	dir *store.SessionDirectory
}

// newSessionStoreAdapter wraps dir as an orchestrator.SessionStore.
func newSessionStoreAdapter(dir *store.SessionDirectory) *sessionStoreAdapter {
	return &sessionStoreAdapter{dir: dir}
}

func (a *sessionStoreAdapter) Save(s *orchestrator.Session) error {
	return a.dir.Save(s)
}

func (a *sessionStoreAdapter) Load(id string) (*orchestrator.Session, bool, error) {
	return a.dir.Load(id)
}

func (a *sessionStoreAdapter) Delete(id string) error {
	return a.dir.Delete(id)
}

func (a *sessionStoreAdapter) List() ([]*orchestrator.Session, error) {
	ids, err := a.dir.List()
	if err != nil {
		return nil, err
	}

	sessions := make([]*orchestrator.Session, 0, len(ids))
	for _, id := range ids {
		s, ok, err := a.dir.Load(id)
		if err != nil {
			return nil, err
		}
		if ok {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

var _ orchestrator.SessionStore = (*sessionStoreAdapter)(nil)
