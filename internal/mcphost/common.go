package mcphost

import (
	"encoding/json"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// fqName builds the fully-qualified tool name serverId/toolName used across
// the host so that tools from different servers never collide.
func fqName(serverID, toolName string) string {
	return serverID + "/" + toolName
}

// splitFQName reverses fqName, returning ok=false if name has no "/".
func splitFQName(name string) (serverID, toolName string, ok bool) {
	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// buildToolDefinition converts an SDK Tool into the local llm.ToolDefinition
// shape, carrying over its name, description and input schema. Latency
// hints are not read, so those fields stay zero.
func buildToolDefinition(t *mcpsdk.Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schemaToMap(t.InputSchema),
	}
}

// schemaToMap converts an arbitrary schema value (already a map, or any
// JSON-marshalable value) into map[string]any for llm.ToolDefinition.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// textContent concatenates all text content blocks from an MCP call result.
func textContent(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
