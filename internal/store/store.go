// Package store implements the core's on-disk persistence: a SQLite catalog
// of Installed Server configuration, a JSON-per-session directory guarded by
// advisory file locks, an AES-256-GCM secret store shared by MCP server
// credentials and LLM provider API keys, OAuth token storage reusing that
// same secret store, and a PID file letting a restarted core adopt a
// still-running locally-hosted model runtime instead of orphaning it.
package store
