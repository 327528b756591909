package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/harbor/internal/mcphost"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider implementation names. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq",
	"llamacpp", "llamafile",
}

// validTransports lists the MCP transport kinds accepted in configuration.
var validTransports = []string{
	string(mcphost.TransportStdio),
	string(mcphost.TransportStdioIsolated),
	string(mcphost.TransportHTTP),
	string(mcphost.TransportSSE),
}

// validPackageKinds lists the Installed Server package origins accepted in
// configuration.
var validPackageKinds = []string{
	string(mcphost.PackageNPM),
	string(mcphost.PackagePyPI),
	string(mcphost.PackageBinary),
	string(mcphost.PackageOCI),
	string(mcphost.PackageGit),
	string(mcphost.PackageHTTP),
	string(mcphost.PackageSSE),
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	idsSeen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if !slices.Contains(ValidProviderNames, p.Name) {
			slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
				"name", p.Name, "known", ValidProviderNames)
		}
		id := p.ID
		if id == "" {
			id = p.Name
		}
		if id != "" {
			if prev, ok := idsSeen[id]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of providers[%d]", prefix, id, prev))
			}
			idsSeen[id] = i
		}
		if p.Kind != "" && p.Kind != "local" && p.Kind != "remote" {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: local, remote", prefix, p.Kind))
		}
	}

	// MCP servers
	serverIDsSeen := make(map[string]int, len(cfg.Servers))
	for i, srv := range cfg.Servers {
		prefix := fmt.Sprintf("servers[%d]", i)
		if srv.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := serverIDsSeen[srv.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of servers[%d]", prefix, srv.ID, prev))
			}
			serverIDsSeen[srv.ID] = i
		}
		if srv.Transport != "" && !slices.Contains(validTransports, srv.Transport) {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: %v", prefix, srv.Transport, validTransports))
		}
		if srv.PackageKind != "" && !slices.Contains(validPackageKinds, srv.PackageKind) {
			errs = append(errs, fmt.Errorf("%s.package_kind %q is invalid; valid values: %v", prefix, srv.PackageKind, validPackageKinds))
		}
		if (srv.Transport == string(mcphost.TransportStdio) || srv.Transport == string(mcphost.TransportStdioIsolated)) && srv.PackageLocator == "" {
			errs = append(errs, fmt.Errorf("%s.package_locator is required when transport is %s", prefix, srv.Transport))
		}
		if (srv.Transport == string(mcphost.TransportHTTP) || srv.Transport == string(mcphost.TransportSSE)) && srv.PackageLocator == "" {
			errs = append(errs, fmt.Errorf("%s.package_locator (url) is required when transport is %s", prefix, srv.Transport))
		}
	}

	// Policy budgets
	for i, b := range cfg.Policy.Budgets {
		prefix := fmt.Sprintf("policy.budgets[%d]", i)
		if b.Resource == "" {
			errs = append(errs, fmt.Errorf("%s.resource is required", prefix))
		}
		if b.Window <= 0 {
			errs = append(errs, fmt.Errorf("%s.window must be positive", prefix))
		}
		if b.Limit <= 0 {
			errs = append(errs, fmt.Errorf("%s.limit must be positive", prefix))
		}
	}

	return errors.Join(errs...)
}
