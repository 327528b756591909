package orchestrator

import (
	"strings"

	"github.com/MrWong99/harbor/internal/llmmanager"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// baseAgentPrompt is the default system-prompt preamble, overridable per
// session via Session.SystemPromptOverride.
const baseAgentPrompt = `You are an autonomous assistant with access to tools. Use them when they help answer the user's request, and give a direct final answer once you have enough information. Do not call a tool you do not need.`

// buildSystemPrompt assembles base instructions, the optional session
// override, and (when the active model lacks native tool calling) a
// tools-description block, exactly as step 4 specifies.
func buildSystemPrompt(session *Session, tools []llm.ToolDefinition, caps llm.ModelCapabilities) string {
	var sb strings.Builder
	sb.WriteString(baseAgentPrompt)

	if session.SystemPromptOverride != "" {
		sb.WriteString("\n\n")
		sb.WriteString(session.SystemPromptOverride)
	}

	if !caps.SupportsToolCalling && len(tools) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(llmmanager.BuildToolsPrompt(tools))
	}

	return sb.String()
}
