package hostfacade

import (
	"context"

	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/policy"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// DetectProvider re-probes availability and model listing for providerID.
func (f *Facade) DetectProvider(ctx context.Context, origin, providerID string) (llmmanager.ProviderInfo, error) {
	const action = "detectProvider"
	info, err := f.llmMgr.Detect(ctx, providerID)
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, err == nil, errString(err))
	return info, err
}

// ListProviders returns every registered provider's cached status.
func (f *Facade) ListProviders(ctx context.Context, origin string) []llmmanager.ProviderInfo {
	const action = "listProviders"
	providers := f.llmMgr.Providers()
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, true, "")
	return providers
}

// SetActiveProvider sets the process-global active provider/model pair.
func (f *Facade) SetActiveProvider(ctx context.Context, origin, providerID, model string) error {
	const action = "setActiveProvider"
	err := f.llmMgr.SetActive(providerID, model)
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, err == nil, errString(err))
	return err
}

// SetAPIKey stores a credential for providerID and triggers re-detection.
func (f *Facade) SetAPIKey(ctx context.Context, origin, providerID, apiKey string) error {
	const action = "setApiKey"
	err := f.llmMgr.SetAPIKey(ctx, providerID, apiKey)
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, err == nil, errString(err))
	return err
}

// RemoveAPIKey deletes a stored credential for providerID and triggers
// re-detection.
func (f *Facade) RemoveAPIKey(ctx context.Context, origin, providerID string) error {
	const action = "removeApiKey"
	err := f.llmMgr.RemoveAPIKey(ctx, providerID)
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, err == nil, errString(err))
	return err
}

// ListModels returns providerID's model list, re-detecting first if force
// is set.
func (f *Facade) ListModels(ctx context.Context, origin, providerID string, force bool) ([]string, error) {
	const action = "listModels"
	models, err := f.llmMgr.ListModels(ctx, providerID, force)
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, err == nil, errString(err))
	return models, err
}

// Chat sends req directly to the active provider, bypassing the Chat
// Orchestrator — used for one-shot completions that don't need tool use.
func (f *Facade) Chat(ctx context.Context, origin string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	const action = "chat"

	if _, err := f.kernel.Check(ctx, origin, policy.ScopeModelPrompt, policy.CheckOptions{}); err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, false, err.Error())
		return nil, err
	}

	resp, err := f.llmMgr.Chat(ctx, req)
	f.kernel.Record(ctx, origin, policy.ScopeModelPrompt, action, err == nil, errString(err))
	return resp, err
}
