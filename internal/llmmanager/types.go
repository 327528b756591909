// Package llmmanager maintains the registry of LLM providers (local HTTP
// runtimes and cloud APIs), tracks which provider/model pair is active,
// adapts requests for models that lack native tool-calling, and owns the
// lifecycle of a locally-hosted model runtime.
package llmmanager

import (
	"context"
	"time"

	"github.com/MrWong99/harbor/internal/resilience"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// ProviderKind distinguishes a locally-hosted runtime from a cloud API.
type ProviderKind string

const (
	KindLocal  ProviderKind = "local"
	KindRemote ProviderKind = "remote"
)

// ProviderInfo is the detected, cacheable state of one registered provider.
type ProviderInfo struct {
	ID            string
	Kind          ProviderKind
	BaseURL       string
	Available     bool
	Models        []string
	SupportsTools bool
	CredentialRef string
	LastDetected  time.Time
	DetectError   string
}

// registeredProvider pairs a live llm.Provider implementation with the
// metadata needed to detect availability and fetch its model list,
// independent of whichever model is currently selected for use.
type registeredProvider struct {
	info      ProviderInfo
	factory   ProviderFactory
	probe     AvailabilityProbe
	lister    ModelLister
	providers map[string]llm.Provider // cached per-model Provider instances

	// breaker guards every Chat/StreamChat call dispatched to this provider
	// id, independent of which model is selected — a provider backend
	// having an outage is a property of the backend, not of one model on
	// it. One breaker per registration, never per model.
	breaker *resilience.CircuitBreaker
}

// ProviderFactory builds a llm.Provider bound to one concrete model.
type ProviderFactory func(model string) (llm.Provider, error)

// AvailabilityProbe reports whether a provider is currently reachable and
// credentialed. It must not block longer than the context allows.
type AvailabilityProbe func(ctx context.Context) (bool, error)

// ModelLister fetches the provider's current model catalogue. Providers that
// cannot enumerate models (most directly-wired cloud SDKs) may return a
// fixed, hand-maintained list.
type ModelLister func(ctx context.Context) ([]string, error)

// SecretStore is the narrow credential interface the Manager depends on; the
// persistence package supplies the concrete implementation.
type SecretStore interface {
	Get(ref string) (string, bool)
	Set(ref, value string) error
	Delete(ref string) error
}

// MetricsRecorder receives chat-dispatch observations for the metrics
// pipeline. Implementations must not block the caller.
type MetricsRecorder interface {
	RecordChatLatency(providerID, model string, d time.Duration, err error)
}

// noopMetrics discards every observation; used when no recorder is supplied.
type noopMetrics struct{}

func (noopMetrics) RecordChatLatency(string, string, time.Duration, error) {}

// ActiveSelection is the process-global provider/model pair in effect for
// new chat requests.
type ActiveSelection struct {
	ProviderID string
	Model      string
}
