package app

import (
	"fmt"
	"strings"

	"github.com/MrWong99/harbor/internal/config"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/store"
)

// launchCommand translates a package kind and locator into the single
// executable-plus-arguments command line [mcphost.ServerConfig] expects for
// stdio transports. npm/pypi packages are run through their ecosystem's
// zero-install launcher so the catalog never has to track a separate
// install step; binary/git/oci locators are assumed to already name an
// executable on PATH or an absolute path.
func launchCommand(kind, locator string, args []string) string {
	var parts []string
	switch kind {
	case string(mcphost.PackageNPM):
		parts = append(parts, "npx", "-y", locator)
	case string(mcphost.PackagePyPI):
		parts = append(parts, "uvx", locator)
	default:
		parts = append(parts, locator)
	}
	parts = append(parts, args...)
	return strings.Join(parts, " ")
}

// mcpServerConfig translates a declaratively-configured server entry into
// the shape the MCP Supervisor registers.
func mcpServerConfig(entry config.MCPServerConfig) mcphost.ServerConfig {
	cfg := mcphost.ServerConfig{
		ID:          entry.ID,
		DisplayName: entry.DisplayName,
		Transport:   mcphost.TransportKind(entry.Transport),
		Env:         entry.Env,
		Docker:      entry.Docker,
	}

	switch cfg.Transport {
	case mcphost.TransportHTTP, mcphost.TransportSSE:
		cfg.URL = entry.PackageLocator
	default:
		cfg.Command = launchCommand(entry.PackageKind, entry.PackageLocator, entry.Args)
	}

	return cfg
}

// installedServerConfig translates a catalogued Installed Server record
// back into the shape the MCP Supervisor registers, mirroring
// mcpServerConfig's transport-dependent Command/URL split.
func installedServerConfig(s *store.InstalledServer) mcphost.ServerConfig {
	cfg := mcphost.ServerConfig{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Transport:   s.Transport,
		Docker:      s.Docker,
	}

	switch cfg.Transport {
	case mcphost.TransportHTTP, mcphost.TransportSSE:
		cfg.URL = s.PackageLocator
	default:
		cfg.Command = launchCommand(string(s.PackageKind), s.PackageLocator, s.Args)
	}

	return cfg
}

// catalogRecord builds the Installed Server record saved for a
// declaratively-configured server the first time it connects successfully,
// so subsequent restarts find it in the catalog without needing it to
// remain in the config file.
func catalogRecord(entry config.MCPServerConfig) *store.InstalledServer {
	return &store.InstalledServer{
		ID:              entry.ID,
		DisplayName:     entry.DisplayName,
		PackageKind:     mcphost.PackageKind(entry.PackageKind),
		PackageLocator:  entry.PackageLocator,
		Transport:       mcphost.TransportKind(entry.Transport),
		Args:            entry.Args,
		RequiredEnvVars: entry.RequiredEnvVars,
		OAuthMode:       entry.OAuthMode,
		Docker:          entry.Docker,
	}
}

// validateMCPServerConfig reports whether entry names a usable transport,
// surfacing a clear error before RegisterServer would otherwise fail deep
// inside the supervisor.
func validateMCPServerConfig(entry config.MCPServerConfig) error {
	if !mcphost.TransportKind(entry.Transport).IsValid() {
		return fmt.Errorf("app: mcp server %q: invalid transport %q", entry.ID, entry.Transport)
	}
	return nil
}
