package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/mcphost"
)

// InstalledServer is a persisted Installed Server record: the configuration
// the MCP Supervisor needs to reconnect across a process restart, plus the
// install-time metadata the catalog itself owns.
type InstalledServer struct {
	ID              string
	DisplayName     string
	PackageKind     mcphost.PackageKind
	PackageLocator  string // package identifier (npm/pypi name) or URL
	Transport       mcphost.TransportKind
	Args            []string
	RequiredEnvVars []string
	Manifest        string // optional, opaque JSON blob
	OAuthMode       string // empty when the server needs no OAuth
	Docker          bool
	InstalledAt     time.Time
	UpdatedAt       time.Time
}

// Catalog is the SQLite-backed store of Installed Server records. Safe for
// concurrent use via the underlying *sql.DB's own connection pool.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (or creates) the SQLite database at dbPath, running
// migrations idempotently.
func OpenCatalog(dbPath string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "create catalog directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "open catalog database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, harborerr.Wrap(harborerr.Internal, err, "set WAL mode")
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS installed_servers (
			id                TEXT PRIMARY KEY,
			display_name      TEXT NOT NULL,
			package_kind      TEXT NOT NULL,
			package_locator   TEXT NOT NULL,
			transport         TEXT NOT NULL,
			args              TEXT NOT NULL DEFAULT '[]',
			required_env_vars TEXT NOT NULL DEFAULT '[]',
			manifest          TEXT NOT NULL DEFAULT '',
			oauth_mode        TEXT NOT NULL DEFAULT '',
			docker            INTEGER NOT NULL DEFAULT 0,
			installed_at      TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)
	`)
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "migrate installed_servers")
	}
	return nil
}

// Save inserts or replaces an Installed Server record, keyed by ID.
func (c *Catalog) Save(s *InstalledServer) error {
	argsJSON, _ := json.Marshal(s.Args)
	envJSON, _ := json.Marshal(s.RequiredEnvVars)

	docker := 0
	if s.Docker {
		docker = 1
	}

	now := time.Now()
	if s.InstalledAt.IsZero() {
		s.InstalledAt = now
	}
	s.UpdatedAt = now

	_, err := c.db.Exec(`
		INSERT INTO installed_servers
			(id, display_name, package_kind, package_locator, transport, args,
			 required_env_vars, manifest, oauth_mode, docker, installed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name      = excluded.display_name,
			package_kind      = excluded.package_kind,
			package_locator   = excluded.package_locator,
			transport         = excluded.transport,
			args              = excluded.args,
			required_env_vars = excluded.required_env_vars,
			manifest          = excluded.manifest,
			oauth_mode        = excluded.oauth_mode,
			docker            = excluded.docker,
			updated_at        = excluded.updated_at
	`, s.ID, s.DisplayName, string(s.PackageKind), s.PackageLocator, string(s.Transport),
		string(argsJSON), string(envJSON), s.Manifest, s.OAuthMode, docker,
		s.InstalledAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "save installed server")
	}
	return nil
}

// Get retrieves an Installed Server by id, returning harborerr.NotFound if
// it isn't present.
func (c *Catalog) Get(id string) (*InstalledServer, error) {
	row := c.db.QueryRow(`
		SELECT id, display_name, package_kind, package_locator, transport, args,
		       required_env_vars, manifest, oauth_mode, docker, installed_at, updated_at
		FROM installed_servers WHERE id = ?
	`, id)
	s, err := scanInstalledServer(row)
	if err == sql.ErrNoRows {
		return nil, harborerr.Newf(harborerr.NotFound, "installed server %q not found", id)
	}
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "get installed server")
	}
	return s, nil
}

// List returns every Installed Server, ordered by install time.
func (c *Catalog) List() ([]*InstalledServer, error) {
	rows, err := c.db.Query(`
		SELECT id, display_name, package_kind, package_locator, transport, args,
		       required_env_vars, manifest, oauth_mode, docker, installed_at, updated_at
		FROM installed_servers ORDER BY installed_at
	`)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.Internal, err, "list installed servers")
	}
	defer rows.Close()

	var out []*InstalledServer
	for rows.Next() {
		s, err := scanInstalledServerRows(rows)
		if err != nil {
			return nil, harborerr.Wrap(harborerr.Internal, err, "scan installed server")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes an Installed Server record, returning harborerr.NotFound if
// none matched id.
func (c *Catalog) Delete(id string) error {
	res, err := c.db.Exec(`DELETE FROM installed_servers WHERE id = ?`, id)
	if err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "delete installed server")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return harborerr.Newf(harborerr.NotFound, "installed server %q not found", id)
	}
	return nil
}

// ToServerConfig converts the catalog record into the mcphost.ServerConfig
// the Supervisor needs to reconnect.
func (s *InstalledServer) ToServerConfig(env map[string]string) mcphost.ServerConfig {
	cfg := mcphost.ServerConfig{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Transport:   s.Transport,
		Env:         env,
		Docker:      s.Docker,
	}
	switch s.Transport {
	case mcphost.TransportHTTP, mcphost.TransportSSE:
		cfg.URL = s.PackageLocator
	default:
		if len(s.Args) > 0 {
			cfg.Command = fmt.Sprintf("%s %s", s.PackageLocator, joinArgs(s.Args))
		} else {
			cfg.Command = s.PackageLocator
		}
	}
	return cfg
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstalledServer(row *sql.Row) (*InstalledServer, error) {
	return scanInstalledServerScanner(row)
}

func scanInstalledServerRows(rows *sql.Rows) (*InstalledServer, error) {
	return scanInstalledServerScanner(rows)
}

func scanInstalledServerScanner(sc rowScanner) (*InstalledServer, error) {
	var s InstalledServer
	var packageKind, transport, argsJSON, envJSON string
	var docker int
	var installedStr, updatedStr string

	if err := sc.Scan(&s.ID, &s.DisplayName, &packageKind, &s.PackageLocator, &transport,
		&argsJSON, &envJSON, &s.Manifest, &s.OAuthMode, &docker, &installedStr, &updatedStr); err != nil {
		return nil, err
	}

	s.PackageKind = mcphost.PackageKind(packageKind)
	s.Transport = mcphost.TransportKind(transport)
	s.Docker = docker != 0
	json.Unmarshal([]byte(argsJSON), &s.Args)
	json.Unmarshal([]byte(envJSON), &s.RequiredEnvVars)
	s.InstalledAt, _ = time.Parse(time.RFC3339, installedStr)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &s, nil
}
