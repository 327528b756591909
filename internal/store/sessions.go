package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/orchestrator"
)

// SessionDirectory persists Chat Sessions as one JSON file per session under
// a root directory, guarding each write with an advisory file lock so two
// processes (or a crashed writer's stale handle) never interleave partial
// writes to the same file.
type SessionDirectory struct {
	root string
}

// NewSessionDirectory returns a SessionDirectory rooted at dir, creating it
// if necessary.
func NewSessionDirectory(dir string) (*SessionDirectory, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create session directory")
	}
	return &SessionDirectory{root: dir}, nil
}

func (d *SessionDirectory) path(id string) string {
	return filepath.Join(d.root, sanitizeSessionID(id)+".json")
}

func (d *SessionDirectory) lockPath(id string) string {
	return filepath.Join(d.root, sanitizeSessionID(id)+".lock")
}

// sanitizeSessionID strips path separators so a maliciously-chosen session
// id can't escape the session directory.
func sanitizeSessionID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, `\`, "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}

// Save writes s to disk under an exclusive advisory lock, replacing any
// prior contents.
func (d *SessionDirectory) Save(s *orchestrator.Session) error {
	fl := flock.New(d.lockPath(s.ID))
	if err := fl.Lock(); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "acquire session lock")
	}
	defer fl.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "marshal session")
	}

	tmp := d.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "write session file")
	}
	if err := os.Rename(tmp, d.path(s.ID)); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "replace session file")
	}
	return nil
}

// Load reads the session with the given id. The second return is false if
// no such session file exists.
func (d *SessionDirectory) Load(id string) (*orchestrator.Session, bool, error) {
	fl := flock.New(d.lockPath(id))
	if err := fl.RLock(); err != nil {
		return nil, false, harborerr.Wrap(harborerr.Internal, err, "acquire session read lock")
	}
	defer fl.Unlock()

	data, err := os.ReadFile(d.path(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, harborerr.Wrap(harborerr.Internal, err, "read session file")
	}

	var s orchestrator.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, harborerr.Wrap(harborerr.Internal, err, "unmarshal session")
	}
	return &s, true, nil
}

// List returns the ids of every persisted session.
func (d *SessionDirectory) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "list session directory")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

// Delete removes a session's JSON file and lock file. Deleting a
// non-existent session is not an error.
func (d *SessionDirectory) Delete(id string) error {
	if err := os.Remove(d.path(id)); err != nil && !os.IsNotExist(err) {
		return harborerr.Wrap(harborerr.Internal, err, "delete session file")
	}
	os.Remove(d.lockPath(id))
	return nil
}
