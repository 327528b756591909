package llmmanager

import (
	"fmt"
	"strings"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// AdaptForCapabilities rewrites req for the given capability set when the
// model does not support native tool calls: the tool definitions are moved
// out of req.Tools and described in prose, appended to the system prompt, so
// the orchestrator's text-based parser can recover the call from the
// assistant's reply. The Manager only performs this substitution; it never
// parses the response itself.
func AdaptForCapabilities(req llm.CompletionRequest, caps llm.ModelCapabilities) llm.CompletionRequest {
	if caps.SupportsToolCalling || len(req.Tools) == 0 {
		return req
	}

	out := req
	out.SystemPrompt = strings.TrimRight(req.SystemPrompt, "\n") + "\n\n" + BuildToolsPrompt(req.Tools)
	out.Tools = nil
	return out
}

// BuildToolsPrompt renders a tool catalogue as a text block describing each
// tool's name, description, and parameter schema, plus the exact JSON shape
// the model must emit to invoke one. This is the text the orchestrator's
// parser is built to recognize the inverse of.
func BuildToolsPrompt(tools []llm.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString("You have access to the following tools. To call one, respond with a single JSON object of the form:\n")
	sb.WriteString(`{"name": "<tool name>", "parameters": {...}}` + "\n\n")
	sb.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			fmt.Fprintf(&sb, "  parameters schema: %v\n", t.Parameters)
		}
	}
	sb.WriteString("\nIf no tool call is needed, respond normally in plain text.")
	return sb.String()
}
