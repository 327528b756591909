package app

import (
	"context"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/harbor/internal/config"
	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/pkg/provider/llm"
	"github.com/MrWong99/harbor/pkg/provider/llm/anthropic"
	"github.com/MrWong99/harbor/pkg/provider/llm/anyllm"
	"github.com/MrWong99/harbor/pkg/provider/llm/openai"
	"github.com/MrWong99/harbor/pkg/provider/llm/openaicompat"
)

// localRuntimeDefaultURL is the base URL assumed for a llamacpp/llamafile
// provider entry that leaves BaseURL empty.
const localRuntimeDefaultURL = "http://127.0.0.1:8080"

// newProviderRegistry builds a [config.Registry] with one factory per name
// in [config.ValidProviderNames]. "openai" and "anthropic" bind directly to
// their vendor SDKs; "llamacpp" and "llamafile" bind to the OpenAI-compatible
// local-runtime client; every other name goes through the any-llm-go
// multi-backend wrapper.
func newProviderRegistry(resolveKey func(entry config.ProviderEntry) string) *config.Registry {
	reg := config.NewRegistry()

	reg.Register("openai", func(entry config.ProviderEntry, model string) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(resolveKey(entry), model, opts...)
	})

	reg.Register("anthropic", func(entry config.ProviderEntry, model string) (llm.Provider, error) {
		var opts []anthropic.Option
		if entry.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(entry.BaseURL))
		}
		return anthropic.New(resolveKey(entry), model, opts...)
	})

	reg.Register("llamacpp", localRuntimeFactory())
	reg.Register("llamafile", localRuntimeFactory())

	for _, name := range []string{"ollama", "gemini", "deepseek", "mistral", "groq"} {
		name := name
		reg.Register(name, func(entry config.ProviderEntry, model string) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := resolveKey(entry); key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, model, opts...)
		})
	}

	return reg
}

// localRuntimeFactory builds the shared factory for "llamacpp"/"llamafile"
// entries: both serve an OpenAI-compatible /v1/chat/completions endpoint, so
// the only difference is the default base URL a caller is likely to mean.
func localRuntimeFactory() config.Factory {
	return func(entry config.ProviderEntry, model string) (llm.Provider, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = localRuntimeDefaultURL
		}
		return openaicompat.New(baseURL, model)
	}
}

// registerProviders creates one llmmanager entry per cfg.Providers element,
// binding each to reg and resolving its credential through secrets.
func registerProviders(mgr *llmmanager.Manager, reg *config.Registry, secrets llmmanager.SecretStore, entries []config.ProviderEntry) error {
	for _, entry := range entries {
		entry := entry
		id := entry.ID
		if id == "" {
			id = entry.Name
		}

		kind := llmmanager.KindRemote
		if entry.Kind == "local" {
			kind = llmmanager.KindLocal
		}

		factory := func(model string) (llm.Provider, error) {
			return reg.Create(entry, model)
		}

		var probe llmmanager.AvailabilityProbe
		if entry.APIKeyRef != "" && secrets != nil {
			probe = func(context.Context) (bool, error) {
				_, ok := secrets.Get(entry.APIKeyRef)
				return ok, nil
			}
		}

		lister := func(context.Context) ([]string, error) {
			return entry.Models, nil
		}

		if err := mgr.RegisterProvider(id, kind, entry.BaseURL, factory, probe, lister); err != nil {
			return fmt.Errorf("app: register llm provider %q: %w", id, err)
		}
	}
	return nil
}
