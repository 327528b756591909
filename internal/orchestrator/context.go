package orchestrator

import (
	"context"

	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/session"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// managerProvider adapts an [llmmanager.Manager] to the [llm.Provider] shape
// [session.NewLLMSummariser] expects, so the context compactor can summarise
// through whichever provider is currently active rather than needing a
// dedicated one wired in just for this.
type managerProvider struct {
	mgr *llmmanager.Manager
}

func (p managerProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return p.mgr.StreamChat(ctx, req)
}

func (p managerProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return p.mgr.Chat(ctx, req)
}

func (p managerProvider) CountTokens(messages []llm.Message) (int, error) {
	return p.mgr.CountTokens(messages)
}

func (p managerProvider) Capabilities() llm.ModelCapabilities {
	caps, err := p.mgr.Capabilities()
	if err != nil {
		return llm.ModelCapabilities{}
	}
	return caps
}

var _ llm.Provider = managerProvider{}

// compactHistory folds sess.Messages through a [session.ContextManager] sized
// to caps.ContextWindow, summarising the oldest half once the running total
// crosses the manager's default threshold ratio. A zero ContextWindow (a
// provider that hasn't reported capabilities yet) disables compaction rather
// than guessing a budget.
func (o *Orchestrator) compactHistory(ctx context.Context, sess *Session, caps llm.ModelCapabilities) error {
	if caps.ContextWindow <= 0 || len(sess.Messages) == 0 {
		return nil
	}

	cm := session.NewContextManager(session.ContextManagerConfig{
		MaxTokens:  caps.ContextWindow,
		Summariser: session.NewLLMSummariser(managerProvider{mgr: o.llmMgr}),
		Counter:    o.llmMgr.CountTokens,
	})
	if err := cm.AddMessages(ctx, sess.Messages...); err != nil {
		return err
	}
	sess.Messages = cm.Messages()
	return nil
}
