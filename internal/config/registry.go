package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds an [llm.Provider] bound to one concrete model from a
// [ProviderEntry]'s declarative configuration.
type Factory func(entry ProviderEntry, model string) (llm.Provider, error)

// Registry maps LLM provider implementation names to their constructor
// functions. cmd/harbor registers one factory per supported backend
// (openai, anthropic, ollama, llamacpp, ...) before loading the config, then
// uses the registry to bind each [ProviderEntry] to a concrete
// [llmmanager.ProviderFactory]. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates an LLM provider using the factory registered under
// entry.Name, bound to model. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) Create(entry ProviderEntry, model string) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, model)
}
