package orchestrator

import (
	"context"

	"github.com/MrWong99/harbor/internal/mcphost"
)

// toolMapping resolves a tool's name as offered to the LLM back to the
// server that hosts it, and carries the tool's definition for prompt
// assembly.
type toolMapping struct {
	descriptor mcphost.ToolDescriptor
}

// collectToolSet returns the union of tool descriptors from Connections
// whose server id is in enabledServers, keyed by fully-qualified name.
// enabledServers being empty or nil selects no tools, matching "no enabled
// servers means no tools offered" rather than silently offering everything.
func collectToolSet(ctx context.Context, host mcphost.Host, enabledServers map[string]bool) (map[string]toolMapping, error) {
	out := make(map[string]toolMapping)
	if len(enabledServers) == 0 {
		return out, nil
	}

	all, err := host.AvailableTools(ctx)
	if err != nil {
		return nil, err
	}

	for _, td := range all {
		if !enabledServers[td.ServerID] {
			continue
		}
		out[td.Name] = toolMapping{descriptor: td}
	}
	return out, nil
}
