package hostfacade

import (
	"context"
	"testing"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/policy"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

const testOrigin = "https://example.test"

type fakeHost struct {
	descriptors []mcphost.ToolDescriptor
	callErr     error
	lastCall    string
}

func (f *fakeHost) RegisterServer(ctx context.Context, cfg mcphost.ServerConfig) error { return nil }
func (f *fakeHost) Unregister(ctx context.Context, serverID string) error             { return nil }

func (f *fakeHost) AvailableTools(ctx context.Context) ([]mcphost.ToolDescriptor, error) {
	return f.descriptors, nil
}

func (f *fakeHost) CallTool(ctx context.Context, fqName string, args map[string]any) (*mcphost.ToolResult, error) {
	f.lastCall = fqName
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcphost.ToolResult{Content: "ok"}, nil
}

func (f *fakeHost) ReadResource(ctx context.Context, serverID, uri string) (string, error) { return "", nil }
func (f *fakeHost) GetPrompt(ctx context.Context, serverID, name string, args map[string]any) (string, error) {
	return "", nil
}
func (f *fakeHost) Status(serverID string) (mcphost.ConnectionStatus, bool) {
	return mcphost.ConnectionStatus{}, false
}
func (f *fakeHost) AllStatus() []mcphost.ConnectionStatus      { return nil }
func (f *fakeHost) ReconcileOrphans(ctx context.Context) error { return nil }
func (f *fakeHost) Close() error                               { return nil }

var _ mcphost.Host = (*fakeHost)(nil)

type fakeProvider struct {
	caps     llm.ModelCapabilities
	response llm.CompletionResponse
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp := p.response
	return &resp, nil
}

func (p *fakeProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (p *fakeProvider) CountTokens(messages []llm.Message) (int, error) { return len(messages), nil }
func (p *fakeProvider) Capabilities() llm.ModelCapabilities             { return p.caps }

func newTestFacade(t *testing.T, host *fakeHost, provider *fakeProvider) *Facade {
	t.Helper()

	mgr := llmmanager.New()
	if err := mgr.RegisterProvider("test", llmmanager.KindRemote, "",
		func(model string) (llm.Provider, error) { return provider, nil },
		func(ctx context.Context) (bool, error) { return true, nil },
		func(ctx context.Context) ([]string, error) { return []string{"test-model"}, nil },
	); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	if _, err := mgr.Detect(context.Background(), "test"); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if err := mgr.SetActive("test", "test-model"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	kernel := policy.New(policy.Config{})
	orch := orchestrator.New(host, mgr, kernel)

	f, err := New(Config{Host: host, Kernel: kernel, LLMManager: mgr, Orchestrator: orch})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestNewRequiresAllDependencies(t *testing.T) {
	host := &fakeHost{}
	kernel := policy.New(policy.Config{})
	mgr := llmmanager.New()
	orch := orchestrator.New(host, mgr, kernel)

	cases := []Config{
		{Kernel: kernel, LLMManager: mgr, Orchestrator: orch},
		{Host: host, LLMManager: mgr, Orchestrator: orch},
		{Host: host, Kernel: kernel, Orchestrator: orch},
		{Host: host, Kernel: kernel, LLMManager: mgr},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error for incomplete config", i)
		}
	}
}

func TestListToolsRequiresGrant(t *testing.T) {
	host := &fakeHost{descriptors: []mcphost.ToolDescriptor{{Name: "weather/search", ServerID: "weather"}}}
	f := newTestFacade(t, host, &fakeProvider{})
	ctx := context.Background()

	if _, err := f.ListTools(ctx, testOrigin, nil); !harborerr.Is(err, harborerr.ScopeRequired) {
		t.Fatalf("expected ScopeRequired without a grant, got %v", err)
	}

	if err := f.Grant(ctx, testOrigin, policy.ScopeMCPToolsList, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	tools, err := f.ListTools(ctx, testOrigin, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
}

func TestListToolsFiltersByServerID(t *testing.T) {
	host := &fakeHost{descriptors: []mcphost.ToolDescriptor{
		{Name: "weather/search", ServerID: "weather"},
		{Name: "email/send", ServerID: "email"},
	}}
	f := newTestFacade(t, host, &fakeProvider{})
	ctx := context.Background()
	if err := f.Grant(ctx, testOrigin, policy.ScopeMCPToolsList, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	tools, err := f.ListTools(ctx, testOrigin, []string{"weather"})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].ServerID != "weather" {
		t.Fatalf("unexpected filtered tools: %+v", tools)
	}
}

func TestCallToolRequiresGrantAndAttachesProvenance(t *testing.T) {
	host := &fakeHost{}
	f := newTestFacade(t, host, &fakeProvider{})
	ctx := context.Background()

	if _, err := f.CallTool(ctx, testOrigin, "weather/search", nil, CallToolOptions{}); !harborerr.Is(err, harborerr.ScopeRequired) {
		t.Fatalf("expected ScopeRequired without a grant, got %v", err)
	}

	if err := f.Grant(ctx, testOrigin, policy.ScopeMCPToolsCall, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	result, err := f.CallTool(ctx, testOrigin, "weather/search", map[string]any{"q": "x"}, CallToolOptions{RunID: "run-1"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Provenance.ServerID != "weather" || result.Provenance.ToolName != "search" {
		t.Fatalf("unexpected provenance: %+v", result.Provenance)
	}
	if result.Provenance.RunID != "run-1" {
		t.Fatalf("expected run id to round-trip, got %q", result.Provenance.RunID)
	}
	if host.lastCall != "weather/search" {
		t.Fatalf("expected dispatch to fq name, got %q", host.lastCall)
	}
}

func TestRevokeRemovesGrant(t *testing.T) {
	f := newTestFacade(t, &fakeHost{}, &fakeProvider{})
	ctx := context.Background()

	if err := f.Grant(ctx, testOrigin, policy.ScopeChatOpen, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if allowed, _ := f.Check(ctx, testOrigin, policy.ScopeChatOpen, policy.CheckOptions{}); !allowed {
		t.Fatalf("expected grant to allow before revoke")
	}

	if err := f.Revoke(ctx, testOrigin, policy.ScopeChatOpen); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.Check(ctx, testOrigin, policy.ScopeChatOpen, policy.CheckOptions{}); !harborerr.Is(err, harborerr.ScopeRequired) {
		t.Fatalf("expected ScopeRequired after revoke, got %v", err)
	}
}

func TestListGrantsReflectsCurrentState(t *testing.T) {
	f := newTestFacade(t, &fakeHost{}, &fakeProvider{})
	ctx := context.Background()

	if err := f.Grant(ctx, testOrigin, policy.ScopeChatOpen, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	grants := f.ListGrants(ctx, testOrigin)
	if len(grants) != 1 || grants[0].Scope != policy.ScopeChatOpen {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newTestFacade(t, &fakeHost{}, &fakeProvider{response: llm.CompletionResponse{Content: "hi there"}})
	ctx := context.Background()

	if _, err := f.CreateSession(ctx, testOrigin, "s1", nil, orchestrator.SessionConfig{}); !harborerr.Is(err, harborerr.ScopeRequired) {
		t.Fatalf("expected ScopeRequired without chat:open grant, got %v", err)
	}

	if err := f.Grant(ctx, testOrigin, policy.ScopeChatOpen, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	session, err := f.CreateSession(ctx, testOrigin, "s1", nil, orchestrator.SessionConfig{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID != "s1" {
		t.Fatalf("unexpected session id %q", session.ID)
	}

	result, err := f.SendMessage(ctx, testOrigin, "s1", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.FinalContent != "hi there" {
		t.Fatalf("unexpected final content %q", result.FinalContent)
	}

	updated, err := f.UpdateSession(ctx, testOrigin, "s1", []string{"weather"}, orchestrator.SessionConfig{MaxIterations: 3}, "be terse")
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if !updated.EnabledServers["weather"] {
		t.Fatalf("expected weather server enabled, got %+v", updated.EnabledServers)
	}

	sessions, err := f.ListSessions(ctx, testOrigin)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListSessions: sessions=%v err=%v", sessions, err)
	}

	if err := f.ClearSession(ctx, testOrigin, "s1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	cleared, ok, err := f.GetSession(ctx, testOrigin, "s1")
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if len(cleared.Messages) != 0 {
		t.Fatalf("expected cleared messages, got %v", cleared.Messages)
	}

	if err := f.DeleteSession(ctx, testOrigin, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := f.GetSession(ctx, testOrigin, "s1"); ok {
		t.Fatalf("expected session to be gone after delete")
	}
}

func TestLLMOps(t *testing.T) {
	provider := &fakeProvider{
		caps:     llm.ModelCapabilities{SupportsToolCalling: true},
		response: llm.CompletionResponse{Content: "pong"},
	}
	f := newTestFacade(t, &fakeHost{}, provider)
	ctx := context.Background()

	providers := f.ListProviders(ctx, testOrigin)
	if len(providers) != 1 || providers[0].ID != "test" {
		t.Fatalf("unexpected providers: %+v", providers)
	}

	info, err := f.DetectProvider(ctx, testOrigin, "test")
	if err != nil {
		t.Fatalf("DetectProvider: %v", err)
	}
	if !info.Available {
		t.Fatalf("expected provider available")
	}

	models, err := f.ListModels(ctx, testOrigin, "test", false)
	if err != nil || len(models) != 1 {
		t.Fatalf("ListModels: models=%v err=%v", models, err)
	}

	if _, err := f.Chat(ctx, testOrigin, llm.CompletionRequest{}); !harborerr.Is(err, harborerr.ScopeRequired) {
		t.Fatalf("expected ScopeRequired without model:prompt grant, got %v", err)
	}

	if err := f.Grant(ctx, testOrigin, policy.ScopeModelPrompt, policy.ModeAlways, policy.GrantOptions{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	resp, err := f.Chat(ctx, testOrigin, llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "ping"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "pong" {
		t.Fatalf("unexpected chat content %q", resp.Content)
	}
}

func TestSetAPIKeyRequiresSecretStore(t *testing.T) {
	f := newTestFacade(t, &fakeHost{}, &fakeProvider{})
	ctx := context.Background()

	if err := f.SetAPIKey(ctx, testOrigin, "test", "sk-test"); err == nil {
		t.Fatalf("expected error: llm manager has no secret store configured")
	}
}

func TestExpireTabGrants(t *testing.T) {
	f := newTestFacade(t, &fakeHost{}, &fakeProvider{})
	ctx := context.Background()

	if err := f.Grant(ctx, testOrigin, policy.ScopeBrowserActiveTab, policy.ModeAlways, policy.GrantOptions{TabID: "tab-1"}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	f.ExpireTabGrants(ctx, "tab-1")
	if _, err := f.Check(ctx, testOrigin, policy.ScopeBrowserActiveTab, policy.CheckOptions{TabID: "tab-1"}); !harborerr.Is(err, harborerr.ScopeRequired) {
		t.Fatalf("expected ScopeRequired after tab grant expiry, got %v", err)
	}
}
