// Package config provides the configuration schema, loader, and provider
// registry for the Harbor Agent Runtime Bridge.
package config

import "time"

// Config is the root configuration structure for Harbor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Providers []ProviderEntry   `yaml:"providers"`
	Servers   []MCPServerConfig `yaml:"servers"`
	Policy    PolicyConfig      `yaml:"policy"`
	Store     StoreConfig       `yaml:"store"`
}

// ServerConfig holds process-level settings for the bridge: logging and the
// local metrics-scrape listener. Harbor is never a product-facing HTTP
// server; ListenAddr binds only the loopback observability endpoint.
type ServerConfig struct {
	// ListenAddr is the loopback address the metrics/health endpoint binds
	// to (e.g., "127.0.0.1:9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is the configured log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError, "":
		return true
	default:
		return false
	}
}

// ProviderEntry declares one LLM provider to register with the LLM Manager
// at startup. Name selects the registered factory in the [Registry]
// (e.g., "openai", "anthropic", "ollama", "llamacpp"); ID is the stable
// provider identifier used in routing and Rate Budget bookkeeping.
type ProviderEntry struct {
	// ID is the unique identifier this provider is registered under
	// (defaults to Name if empty).
	ID string `yaml:"id"`

	// Name selects the registered provider implementation.
	Name string `yaml:"name"`

	// Kind is "local" for a locally-hosted model runtime or "remote" for a
	// cloud API. See llmmanager.ProviderKind.
	Kind string `yaml:"kind"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// APIKeyRef names the secret-store key holding this provider's API key.
	// The key itself is never stored in the config file.
	APIKeyRef string `yaml:"api_key_ref"`

	// Models restricts the provider's advertised model list. Empty means
	// "ask the provider" (via its [llmmanager.ModelLister]).
	Models []string `yaml:"models"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// MCPServerConfig declares one MCP tool server to install and connect at
// startup. Fields mirror store.InstalledServer, minus the install-time
// bookkeeping the catalog owns once the server is actually installed.
type MCPServerConfig struct {
	// ID is a unique, stable identifier for this server (used in
	// fully-qualified tool names and wire messages).
	ID string `yaml:"id"`

	// DisplayName is shown to the end user.
	DisplayName string `yaml:"display_name"`

	// PackageKind is the origin of the server's package: "npm", "pypi",
	// "binary", "oci", "git", "http", or "sse".
	PackageKind string `yaml:"package_kind"`

	// PackageLocator is the package identifier (npm/pypi name) or URL.
	PackageLocator string `yaml:"package_locator"`

	// Transport selects the connection mechanism: "stdio",
	// "stdio_isolated", "http", or "sse".
	Transport string `yaml:"transport"`

	// Args are additional command-line arguments for stdio transports.
	Args []string `yaml:"args"`

	// Env holds additional environment variables injected into the
	// subprocess for stdio transports.
	Env map[string]string `yaml:"env"`

	// RequiredEnvVars lists environment variable names this server expects
	// to be populated (from the secret store) before launch.
	RequiredEnvVars []string `yaml:"required_env_vars"`

	// OAuthMode names the OAuth flow this server uses, or empty if none.
	OAuthMode string `yaml:"oauth_mode"`

	// Docker marks this server as container-isolated.
	Docker bool `yaml:"docker"`
}

// PolicyConfig holds Policy Kernel defaults applied at startup.
type PolicyConfig struct {
	// Budgets overrides the Kernel's built-in Rate Budget defaults (60
	// calls/minute for mcp:tools.call, 120 calls/hour for model:prompt).
	// Empty uses the defaults.
	Budgets []RateBudget `yaml:"budgets"`
}

// RateBudget declares one resource's rate limit window.
type RateBudget struct {
	Resource string        `yaml:"resource"`
	Window   time.Duration `yaml:"window"`
	Limit    int           `yaml:"limit"`
}

// StoreConfig holds filesystem locations for the persistence layer.
type StoreConfig struct {
	// CatalogPath is the SQLite database path for the Installed Server
	// catalog.
	CatalogPath string `yaml:"catalog_path"`

	// SecretsPath is the SQLite database path for the encrypted credential
	// store.
	SecretsPath string `yaml:"secrets_path"`

	// SecretsKeyPath is the path to the master AES key protecting
	// SecretsPath.
	SecretsKeyPath string `yaml:"secrets_key_path"`

	// SessionsDir is the directory holding one JSON file per Chat Session.
	SessionsDir string `yaml:"sessions_dir"`

	// RuntimePIDPath is the path to the locally-hosted model runtime's PID
	// file, used to adopt a still-running runtime across restarts.
	RuntimePIDPath string `yaml:"runtime_pid_path"`
}
