package store

import (
	"path/filepath"
	"testing"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/mcphost"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalogSaveAndGet(t *testing.T) {
	c := openTestCatalog(t)

	s := &InstalledServer{
		ID:              "weather",
		DisplayName:     "Weather MCP",
		PackageKind:     mcphost.PackageNPM,
		PackageLocator:  "@example/weather-mcp",
		Transport:       mcphost.TransportStdio,
		Args:            []string{"--port", "0"},
		RequiredEnvVars: []string{"WEATHER_API_KEY"},
		Docker:          true,
	}
	if err := c.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := c.Get("weather")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "Weather MCP" || got.PackageKind != mcphost.PackageNPM {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Args) != 2 || got.Args[0] != "--port" {
		t.Fatalf("unexpected args: %v", got.Args)
	}
	if !got.Docker {
		t.Fatalf("expected docker flag to round-trip true")
	}
	if got.InstalledAt.IsZero() {
		t.Fatalf("expected InstalledAt to be set")
	}
}

func TestCatalogGetMissingReturnsNotFound(t *testing.T) {
	c := openTestCatalog(t)
	if _, err := c.Get("missing"); !harborerr.Is(err, harborerr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestCatalogSaveUpdatesExisting(t *testing.T) {
	c := openTestCatalog(t)
	s := &InstalledServer{ID: "email", DisplayName: "Email", PackageKind: mcphost.PackageBinary, PackageLocator: "/usr/bin/email-mcp"}
	if err := c.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s.DisplayName = "Email v2"
	if err := c.Save(s); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, err := c.Get("email")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "Email v2" {
		t.Fatalf("DisplayName = %q, want updated value", got.DisplayName)
	}
}

func TestCatalogListReturnsAllServers(t *testing.T) {
	c := openTestCatalog(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := c.Save(&InstalledServer{ID: id, DisplayName: id, PackageKind: mcphost.PackageGit, PackageLocator: id}); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	all, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(all))
	}
}

func TestCatalogDelete(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Save(&InstalledServer{ID: "x", DisplayName: "x", PackageKind: mcphost.PackageOCI, PackageLocator: "ghcr.io/x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Delete("x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get("x"); !harborerr.Is(err, harborerr.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	if err := c.Delete("x"); !harborerr.Is(err, harborerr.NotFound) {
		t.Fatalf("expected NotFound deleting twice, got %v", err)
	}
}

func TestToServerConfigStdioWithArgs(t *testing.T) {
	s := &InstalledServer{
		ID:             "weather",
		DisplayName:    "Weather",
		Transport:      mcphost.TransportStdio,
		PackageLocator: "weather-mcp",
		Args:           []string{"--verbose"},
	}
	cfg := s.ToServerConfig(map[string]string{"WEATHER_API_KEY": "k"})
	if cfg.Command != "weather-mcp --verbose" {
		t.Fatalf("Command = %q, want %q", cfg.Command, "weather-mcp --verbose")
	}
	if cfg.Env["WEATHER_API_KEY"] != "k" {
		t.Fatalf("expected env to round-trip")
	}
}

func TestToServerConfigHTTP(t *testing.T) {
	s := &InstalledServer{
		ID:             "notion",
		Transport:      mcphost.TransportHTTP,
		PackageLocator: "https://mcp.example.test/notion",
	}
	cfg := s.ToServerConfig(nil)
	if cfg.URL != "https://mcp.example.test/notion" {
		t.Fatalf("URL = %q, want package locator", cfg.URL)
	}
	if cfg.Command != "" {
		t.Fatalf("expected empty Command for http transport, got %q", cfg.Command)
	}
}
