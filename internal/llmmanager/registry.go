package llmmanager

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/resilience"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// Manager is the LLM provider registry and chat dispatcher. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*registeredProvider
	active   ActiveSelection
	secrets  SecretStore
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSecretStore supplies the credential backend used for API keys.
func WithSecretStore(s SecretStore) Option {
	return func(m *Manager) { m.secrets = s }
}

// WithMetricsRecorder supplies the chat-latency metrics sink.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// New constructs an empty Manager; providers are added with RegisterProvider.
func New(opts ...Option) *Manager {
	m := &Manager{
		entries: make(map[string]*registeredProvider),
		metrics: noopMetrics{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterProvider adds a provider to the registry. id must be unique;
// re-registering an existing id replaces it and drops any cached Provider
// instances built under the old registration.
func (m *Manager) RegisterProvider(id string, kind ProviderKind, baseURL string, factory ProviderFactory, probe AvailabilityProbe, lister ModelLister) error {
	if id == "" {
		return harborerr.New(harborerr.InvalidRequest, "provider id must not be empty")
	}
	if factory == nil {
		return harborerr.New(harborerr.InvalidRequest, "provider factory must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = &registeredProvider{
		info: ProviderInfo{
			ID:            id,
			Kind:          kind,
			BaseURL:       baseURL,
			CredentialRef: id,
		},
		factory:   factory,
		probe:     probe,
		lister:    lister,
		providers: make(map[string]llm.Provider),
		breaker:   resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: id}),
	}
	return nil
}

// Providers returns a snapshot of every registered provider's last-detected
// state, in no particular order.
func (m *Manager) Providers() []ProviderInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.info)
	}
	return out
}

// Provider returns the last-detected state for one provider id.
func (m *Manager) Provider(id string) (ProviderInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return ProviderInfo{}, false
	}
	return e.info, true
}

// SetActive selects the provider/model pair used by subsequent Chat calls.
// The provider must be registered and, per the availability invariant, must
// currently be marked available; callers that want to force a fresh
// detection should call Detect first.
func (m *Manager) SetActive(providerID, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[providerID]
	if !ok {
		return harborerr.Newf(harborerr.NotFound, "llm provider %q is not registered", providerID)
	}
	if !e.info.Available {
		return harborerr.Newf(harborerr.LLMError, "llm provider %q is not available", providerID)
	}

	m.active = ActiveSelection{ProviderID: providerID, Model: model}
	return nil
}

// Active returns the current process-global provider/model selection.
func (m *Manager) Active() ActiveSelection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// breakerFor returns the registered provider's circuit breaker, or nil if
// providerID is not registered (the caller will already have failed earlier
// in providerFor in that case).
func (m *Manager) breakerFor(providerID string) *resilience.CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[providerID]
	if !ok {
		return nil
	}
	return e.breaker
}

// providerFor builds or reuses a llm.Provider bound to the given provider id
// and model, failing if the provider is unregistered or currently
// unavailable.
func (m *Manager) providerFor(providerID, model string) (llm.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[providerID]
	if !ok {
		return nil, harborerr.Newf(harborerr.NotFound, "llm provider %q is not registered", providerID)
	}
	if !e.info.Available {
		return nil, harborerr.Newf(harborerr.LLMError, "llm provider %q is not available", providerID)
	}

	if p, cached := e.providers[model]; cached {
		return p, nil
	}

	p, err := e.factory(model)
	if err != nil {
		return nil, harborerr.Wrap(harborerr.LLMError, err, fmt.Sprintf("construct provider %q for model %q", providerID, model))
	}
	e.providers[model] = p
	return p, nil
}
