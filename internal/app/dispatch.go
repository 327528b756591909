package app

import (
	"context"
	"encoding/json"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/hostfacade"
	"github.com/MrWong99/harbor/internal/orchestrator"
	"github.com/MrWong99/harbor/internal/policy"
	"github.com/MrWong99/harbor/internal/transport"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// handlerFunc decodes an RPC request's raw params, invokes the matching
// Host Facade method, and returns a value ready for json.Marshal into
// transport.RPCResponse.Result.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// dispatchTable routes transport.Inbound RPC messages to Host Facade
// methods by name. This is the only place in the process that interprets
// an RPC method string: internal/transport frames bytes without knowing
// what a "method" means, and internal/hostfacade exposes only typed Go
// methods, never wire decoding.
type dispatchTable struct {
	handlers map[string]handlerFunc
}

// newDispatchTable builds the method-name-to-handler map bound to f.
func newDispatchTable(f *hostfacade.Facade) *dispatchTable {
	d := &dispatchTable{handlers: make(map[string]handlerFunc)}

	d.handlers["listTools"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin    string   `json:"origin"`
			ServerIDs []string `json:"serverIds"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.ListTools(ctx, p.Origin, p.ServerIDs)
	}

	d.handlers["callTool"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin   string                    `json:"origin"`
			ToolName string                    `json:"toolName"`
			Args     map[string]any            `json:"args"`
			Opts     hostfacade.CallToolOptions `json:"opts"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.CallTool(ctx, p.Origin, p.ToolName, p.Args, p.Opts)
	}

	d.handlers["grant"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string             `json:"origin"`
			Scope  policy.Scope       `json:"scope"`
			Mode   policy.Mode        `json:"mode"`
			Opts   policy.GrantOptions `json:"opts"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.Grant(ctx, p.Origin, p.Scope, p.Mode, p.Opts)
	}

	d.handlers["revoke"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string       `json:"origin"`
			Scope  policy.Scope `json:"scope"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.Revoke(ctx, p.Origin, p.Scope)
	}

	d.handlers["check"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string              `json:"origin"`
			Scope  policy.Scope        `json:"scope"`
			Opts   policy.CheckOptions `json:"opts"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		allowed, err := f.Check(ctx, p.Origin, p.Scope, p.Opts)
		return map[string]bool{"granted": allowed}, err
	}

	d.handlers["listGrants"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string `json:"origin"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.ListGrants(ctx, p.Origin), nil
	}

	d.handlers["expireTabGrants"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			TabID string `json:"tabId"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		f.ExpireTabGrants(ctx, p.TabID)
		return nil, nil
	}

	d.handlers["detectProvider"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin     string `json:"origin"`
			ProviderID string `json:"providerId"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.DetectProvider(ctx, p.Origin, p.ProviderID)
	}

	d.handlers["listProviders"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string `json:"origin"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.ListProviders(ctx, p.Origin), nil
	}

	d.handlers["setActiveProvider"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin     string `json:"origin"`
			ProviderID string `json:"providerId"`
			Model      string `json:"model"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.SetActiveProvider(ctx, p.Origin, p.ProviderID, p.Model)
	}

	d.handlers["setApiKey"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin     string `json:"origin"`
			ProviderID string `json:"providerId"`
			APIKey     string `json:"apiKey"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.SetAPIKey(ctx, p.Origin, p.ProviderID, p.APIKey)
	}

	d.handlers["removeApiKey"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin     string `json:"origin"`
			ProviderID string `json:"providerId"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.RemoveAPIKey(ctx, p.Origin, p.ProviderID)
	}

	d.handlers["listModels"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin     string `json:"origin"`
			ProviderID string `json:"providerId"`
			Force      bool   `json:"force"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.ListModels(ctx, p.Origin, p.ProviderID, p.Force)
	}

	d.handlers["chat"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin  string                  `json:"origin"`
			Request llm.CompletionRequest    `json:"request"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.Chat(ctx, p.Origin, p.Request)
	}

	d.handlers["createSession"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin         string                      `json:"origin"`
			ID             string                      `json:"id"`
			EnabledServers []string                    `json:"enabledServers"`
			Config         orchestrator.SessionConfig `json:"config"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.CreateSession(ctx, p.Origin, p.ID, p.EnabledServers, p.Config)
	}

	d.handlers["sendMessage"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin      string `json:"origin"`
			SessionID   string `json:"sessionId"`
			UserMessage string `json:"userMessage"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.SendMessage(ctx, p.Origin, p.SessionID, p.UserMessage)
	}

	d.handlers["getSession"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string `json:"origin"`
			ID     string `json:"id"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		session, _, err := f.GetSession(ctx, p.Origin, p.ID)
		return session, err
	}

	d.handlers["listSessions"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string `json:"origin"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.ListSessions(ctx, p.Origin)
	}

	d.handlers["updateSession"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin               string                     `json:"origin"`
			ID                   string                     `json:"id"`
			EnabledServers       []string                   `json:"enabledServers"`
			Config               orchestrator.SessionConfig `json:"config"`
			SystemPromptOverride string                     `json:"systemPromptOverride"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return f.UpdateSession(ctx, p.Origin, p.ID, p.EnabledServers, p.Config, p.SystemPromptOverride)
	}

	d.handlers["deleteSession"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string `json:"origin"`
			ID     string `json:"id"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.DeleteSession(ctx, p.Origin, p.ID)
	}

	d.handlers["clearSession"] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Origin string `json:"origin"`
			ID     string `json:"id"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, f.ClearSession(ctx, p.Origin, p.ID)
	}

	return d
}

// decodeParams unmarshals raw into dst, or returns an invalid_request
// harborerr if raw is absent or malformed.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return harborerr.New(harborerr.InvalidRequest, "rpc: missing params")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return harborerr.Wrap(harborerr.InvalidRequest, err, "rpc: decode params")
	}
	return nil
}

// Handle dispatches one decoded RPC message and builds the outbound
// response. Method names with no registered handler return an
// invalid_request error rather than panicking or being silently dropped.
func (d *dispatchTable) Handle(ctx context.Context, msg *transport.Inbound) transport.RPCResponse {
	h, ok := d.handlers[msg.Method]
	if !ok {
		return transport.RPCResponse{
			ID:    msg.ID,
			Error: harborerr.Newf(harborerr.InvalidRequest, "rpc: unknown method %q", msg.Method),
		}
	}

	result, err := h(ctx, msg.Params)
	if err != nil {
		return transport.RPCResponse{ID: msg.ID, Error: toWireError(err)}
	}
	return transport.RPCResponse{ID: msg.ID, Result: result}
}

// toWireError normalizes err into a *harborerr.Error so every RPC failure
// carries a stable {code, message} shape on the wire, even when the
// underlying failure originated outside internal/harborerr.
func toWireError(err error) *harborerr.Error {
	if herr, ok := err.(*harborerr.Error); ok {
		return herr
	}
	return harborerr.Wrap(harborerr.Internal, err, "unhandled error")
}
