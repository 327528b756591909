package hostfacade

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/policy"
)

// CallToolOptions narrows a CallTool invocation.
type CallToolOptions struct {
	TimeoutMs int
	RunID     string
}

// Provenance records where a tool call's result came from, attached to every
// successful CallTool response.
type Provenance struct {
	ServerID  string
	ToolName  string
	RunID     string
	Timestamp time.Time
}

// ToolCallResult pairs a tool's outcome with its provenance.
type ToolCallResult struct {
	*mcphost.ToolResult
	Provenance Provenance
}

// ListTools returns the tool descriptors visible to origin, optionally
// narrowed to serverIDs, after confirming origin holds mcp:tools.list.
func (f *Facade) ListTools(ctx context.Context, origin string, serverIDs []string) ([]mcphost.ToolDescriptor, error) {
	const action = "listTools"

	if _, err := f.kernel.Check(ctx, origin, policy.ScopeMCPToolsList, policy.CheckOptions{}); err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeMCPToolsList, action, false, err.Error())
		return nil, err
	}

	all, err := f.host.AvailableTools(ctx)
	if err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeMCPToolsList, action, false, err.Error())
		return nil, err
	}

	if len(serverIDs) == 0 {
		f.kernel.Record(ctx, origin, policy.ScopeMCPToolsList, action, true, "")
		return all, nil
	}

	wanted := make(map[string]bool, len(serverIDs))
	for _, id := range serverIDs {
		wanted[id] = true
	}
	filtered := make([]mcphost.ToolDescriptor, 0, len(all))
	for _, td := range all {
		if wanted[td.ServerID] {
			filtered = append(filtered, td)
		}
	}

	f.kernel.Record(ctx, origin, policy.ScopeMCPToolsList, action, true, "")
	return filtered, nil
}

// CallTool dispatches toolName for origin after confirming mcp:tools.call
// and acquiring a budget unit, attaching provenance to a successful result.
// A denied check or exhausted budget returns the classified error directly;
// it never reaches the MCP Supervisor.
func (f *Facade) CallTool(ctx context.Context, origin, toolName string, args map[string]any, opts CallToolOptions) (*ToolCallResult, error) {
	const action = "callTool"

	if _, err := f.kernel.Check(ctx, origin, policy.ScopeMCPToolsCall, policy.CheckOptions{ToolName: toolName}); err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeMCPToolsCall, action, false, err.Error())
		return nil, err
	}

	if err := f.kernel.AcquireBudget(ctx, origin, string(policy.ScopeMCPToolsCall)); err != nil {
		f.kernel.Record(ctx, origin, policy.ScopeMCPToolsCall, action, false, err.Error())
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutMs > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	res, err := f.host.CallTool(callCtx, toolName, args)
	if err != nil {
		err = harborerr.WrapContext(harborerr.CodeOf(err), err, fmt.Sprintf("call tool %q", toolName))
		f.kernel.Record(ctx, origin, policy.ScopeMCPToolsCall, action, false, err.Error())
		return nil, err
	}

	serverID, shortName, _ := splitToolName(toolName)
	result := &ToolCallResult{
		ToolResult: res,
		Provenance: Provenance{
			ServerID:  serverID,
			ToolName:  shortName,
			RunID:     opts.RunID,
			Timestamp: time.Now(),
		},
	}

	f.kernel.Record(ctx, origin, policy.ScopeMCPToolsCall, action, true, "")
	return result, nil
}

// splitToolName breaks a fully-qualified "serverId/toolName" into its parts
// for provenance, without feeding back into any dispatch decision — the
// facade never re-derives routing from this split, only attaches it as
// metadata on an already-completed call.
func splitToolName(fqName string) (serverID, toolName string, ok bool) {
	for i := 0; i < len(fqName); i++ {
		if fqName[i] == '/' {
			return fqName[:i], fqName[i+1:], true
		}
	}
	return "", fqName, false
}
