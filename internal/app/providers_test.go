package app

import (
	"context"
	"testing"

	"github.com/MrWong99/harbor/internal/config"
	"github.com/MrWong99/harbor/internal/llmmanager"
)

type fakeSecretStore struct {
	values map[string]string
}

func (s *fakeSecretStore) Get(ref string) (string, bool) {
	v, ok := s.values[ref]
	return v, ok
}
func (s *fakeSecretStore) Set(ref, value string) error { s.values[ref] = value; return nil }
func (s *fakeSecretStore) Delete(ref string) error     { delete(s.values, ref); return nil }

var _ llmmanager.SecretStore = (*fakeSecretStore)(nil)

func TestNewProviderRegistryCreatesOpenAI(t *testing.T) {
	reg := newProviderRegistry(func(entry config.ProviderEntry) string { return "sk-test" })

	p, err := reg.Create(config.ProviderEntry{Name: "openai"}, "gpt-4o")
	if err != nil {
		t.Fatalf("Create(openai): %v", err)
	}
	if p == nil {
		t.Fatal("expected a non-nil provider")
	}
}

func TestNewProviderRegistryCreatesAnyLLMBackedProvider(t *testing.T) {
	reg := newProviderRegistry(func(entry config.ProviderEntry) string { return "" })

	p, err := reg.Create(config.ProviderEntry{Name: "ollama"}, "llama3")
	if err != nil {
		t.Fatalf("Create(ollama): %v", err)
	}
	if p == nil {
		t.Fatal("expected a non-nil provider")
	}
}

func TestNewProviderRegistryCreatesLocalRuntimeProvider(t *testing.T) {
	reg := newProviderRegistry(func(entry config.ProviderEntry) string { return "" })

	p, err := reg.Create(config.ProviderEntry{Name: "llamacpp", BaseURL: "http://127.0.0.1:9999"}, "local-model")
	if err != nil {
		t.Fatalf("Create(llamacpp): %v", err)
	}
	if p == nil {
		t.Fatal("expected a non-nil provider")
	}
}

func TestRegisterProvidersPopulatesManager(t *testing.T) {
	secrets := &fakeSecretStore{values: map[string]string{"openai-key": "sk-test"}}
	reg := newProviderRegistry(func(entry config.ProviderEntry) string {
		v, _ := secrets.Get(entry.APIKeyRef)
		return v
	})
	mgr := llmmanager.New()

	entries := []config.ProviderEntry{
		{ID: "primary", Name: "openai", Kind: "remote", APIKeyRef: "openai-key", Models: []string{"gpt-4o"}},
	}

	if err := registerProviders(mgr, reg, secrets, entries); err != nil {
		t.Fatalf("registerProviders: %v", err)
	}

	info, err := mgr.Detect(context.Background(), "primary")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !info.Available {
		t.Fatalf("expected provider to be available once its credential is set, got %+v", info)
	}
}

func TestRegisterProvidersOverwritesDuplicateID(t *testing.T) {
	secrets := &fakeSecretStore{values: map[string]string{}}
	reg := newProviderRegistry(func(entry config.ProviderEntry) string { return "" })
	mgr := llmmanager.New()

	entries := []config.ProviderEntry{
		{ID: "dup", Name: "ollama"},
		{ID: "dup", Name: "gemini"},
	}

	if err := registerProviders(mgr, reg, secrets, entries); err != nil {
		t.Fatalf("registerProviders: %v", err)
	}

	providers := mgr.Providers()
	if len(providers) != 1 {
		t.Fatalf("expected the second registration to overwrite the first, got %d entries", len(providers))
	}
}
