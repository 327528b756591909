package llmmanager

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/resilience"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// Chat dispatches a completion request to the active provider/model pair.
// It does not transform messages or tools; model-capability adaptation is
// the caller's responsibility via AdaptForCapabilities.
func (m *Manager) Chat(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	sel := m.Active()
	if sel.ProviderID == "" {
		return nil, harborerr.New(harborerr.InvalidRequest, "no active llm provider selected")
	}

	provider, err := m.providerFor(sel.ProviderID, sel.Model)
	if err != nil {
		return nil, err
	}

	var resp *llm.CompletionResponse
	start := time.Now()
	breakerErr := m.breakerFor(sel.ProviderID).Execute(func() error {
		var callErr error
		resp, callErr = provider.Complete(ctx, req)
		return callErr
	})
	m.metrics.RecordChatLatency(sel.ProviderID, sel.Model, time.Since(start), breakerErr)
	if breakerErr != nil {
		if errors.Is(breakerErr, resilience.ErrCircuitOpen) {
			return nil, harborerr.Newf(harborerr.LLMError, "llm provider %q circuit open, too many recent failures", sel.ProviderID)
		}
		return nil, harborerr.WrapContext(harborerr.LLMError, breakerErr, "chat completion")
	}
	return resp, nil
}

// StreamChat dispatches a streaming completion request to the active
// provider/model pair.
func (m *Manager) StreamChat(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	sel := m.Active()
	if sel.ProviderID == "" {
		return nil, harborerr.New(harborerr.InvalidRequest, "no active llm provider selected")
	}

	provider, err := m.providerFor(sel.ProviderID, sel.Model)
	if err != nil {
		return nil, err
	}

	var ch <-chan llm.Chunk
	start := time.Now()
	breakerErr := m.breakerFor(sel.ProviderID).Execute(func() error {
		var callErr error
		ch, callErr = provider.StreamCompletion(ctx, req)
		return callErr
	})
	if breakerErr != nil {
		m.metrics.RecordChatLatency(sel.ProviderID, sel.Model, time.Since(start), breakerErr)
		if errors.Is(breakerErr, resilience.ErrCircuitOpen) {
			return nil, harborerr.Newf(harborerr.LLMError, "llm provider %q circuit open, too many recent failures", sel.ProviderID)
		}
		return nil, harborerr.WrapContext(harborerr.LLMError, breakerErr, "stream chat completion")
	}

	// Wrap the channel so the latency metric records total stream duration,
	// the moment the provider closes it, not just the kickoff call above.
	out := make(chan llm.Chunk, cap(ch))
	go func() {
		defer close(out)
		var lastErr error
		for chunk := range ch {
			if chunk.FinishReason == "error" {
				lastErr = harborerr.New(harborerr.LLMError, chunk.Text)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				m.metrics.RecordChatLatency(sel.ProviderID, sel.Model, time.Since(start), ctx.Err())
				return
			}
		}
		m.metrics.RecordChatLatency(sel.ProviderID, sel.Model, time.Since(start), lastErr)
	}()
	return out, nil
}

// ListModels returns the cached model catalogue for one provider, refreshing
// it first if force is set.
func (m *Manager) ListModels(ctx context.Context, providerID string, force bool) ([]string, error) {
	if force {
		info, err := m.Detect(ctx, providerID)
		if err != nil {
			return nil, err
		}
		return info.Models, nil
	}

	info, ok := m.Provider(providerID)
	if !ok {
		return nil, harborerr.Newf(harborerr.NotFound, "llm provider %q is not registered", providerID)
	}
	return info.Models, nil
}

// CountTokens estimates the token count of messages under the active
// provider/model's tokenizer.
func (m *Manager) CountTokens(messages []llm.Message) (int, error) {
	sel := m.Active()
	if sel.ProviderID == "" {
		return 0, harborerr.New(harborerr.InvalidRequest, "no active llm provider selected")
	}

	provider, err := m.providerFor(sel.ProviderID, sel.Model)
	if err != nil {
		return 0, err
	}
	return provider.CountTokens(messages)
}

// Capabilities reports the active provider/model's capability set.
func (m *Manager) Capabilities() (llm.ModelCapabilities, error) {
	sel := m.Active()
	if sel.ProviderID == "" {
		return llm.ModelCapabilities{}, harborerr.New(harborerr.InvalidRequest, "no active llm provider selected")
	}

	provider, err := m.providerFor(sel.ProviderID, sel.Model)
	if err != nil {
		return llm.ModelCapabilities{}, err
	}
	return provider.Capabilities(), nil
}
