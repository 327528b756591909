package hostfacade

import (
	"context"

	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/policy"
)

// CreateSession creates a new Chat Session for origin after confirming
// chat:open.
func (f *Facade) CreateSession(ctx context.Context, origin, id string, enabledServers []string, cfg orchestrator.SessionConfig) (*orchestrator.Session, error) {
	const action = "createSession"

	if _, err := f.kernel.Check(ctx, origin, policy.ScopeChatOpen, policy.CheckOptions{}); err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, false, err.Error())
		return nil, err
	}

	s, err := f.orch.CreateSession(id, enabledServers, cfg)
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return s, err
}

// SendMessage appends userMessage to sessionID and drives the Chat
// Orchestrator's bounded agent loop, enforcing tool-call policy against
// origin for every tool the loop invokes.
func (f *Facade) SendMessage(ctx context.Context, origin, sessionID, userMessage string) (*orchestrator.RunResult, error) {
	const action = "sendMessage"

	if _, err := f.kernel.Check(ctx, origin, policy.ScopeChatOpen, policy.CheckOptions{}); err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, false, err.Error())
		return nil, err
	}

	result, err := f.orch.Run(ctx, origin, sessionID, userMessage)
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return result, err
}

// GetSession retrieves a Chat Session by id.
func (f *Facade) GetSession(ctx context.Context, origin, id string) (*orchestrator.Session, bool, error) {
	const action = "getSession"
	s, ok, err := f.orch.GetSession(id)
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return s, ok, err
}

// ListSessions returns every persisted Chat Session.
func (f *Facade) ListSessions(ctx context.Context, origin string) ([]*orchestrator.Session, error) {
	const action = "listSessions"
	sessions, err := f.orch.ListSessions()
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return sessions, err
}

// UpdateSession replaces a session's enabled-server set, config, and system
// prompt override.
func (f *Facade) UpdateSession(ctx context.Context, origin, id string, enabledServers []string, cfg orchestrator.SessionConfig, systemPromptOverride string) (*orchestrator.Session, error) {
	const action = "updateSession"
	s, err := f.orch.UpdateSession(id, enabledServers, cfg, systemPromptOverride)
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return s, err
}

// DeleteSession removes a Chat Session.
func (f *Facade) DeleteSession(ctx context.Context, origin, id string) error {
	const action = "deleteSession"
	err := f.orch.DeleteSession(id)
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return err
}

// ClearSession empties a session's message log.
func (f *Facade) ClearSession(ctx context.Context, origin, id string) error {
	const action = "clearSession"
	err := f.orch.ClearSession(id)
	f.kernel.Record(ctx, origin, policy.ScopeChatOpen, action, err == nil, errString(err))
	return err
}
