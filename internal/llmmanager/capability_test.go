package llmmanager

import (
	"strings"
	"testing"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

func TestAdaptForCapabilitiesLeavesNativeToolersUntouched(t *testing.T) {
	req := llm.CompletionRequest{
		SystemPrompt: "be helpful",
		Tools:        []llm.ToolDefinition{{Name: "search", Description: "search the web"}},
	}
	caps := llm.ModelCapabilities{SupportsToolCalling: true}

	out := AdaptForCapabilities(req, caps)
	if out.SystemPrompt != req.SystemPrompt {
		t.Fatalf("system prompt should be unchanged, got %q", out.SystemPrompt)
	}
	if len(out.Tools) != 1 {
		t.Fatalf("expected tools preserved, got %v", out.Tools)
	}
}

func TestAdaptForCapabilitiesSynthesizesPromptForNonToolModels(t *testing.T) {
	req := llm.CompletionRequest{
		SystemPrompt: "be helpful",
		Tools:        []llm.ToolDefinition{{Name: "search", Description: "search the web"}},
	}
	caps := llm.ModelCapabilities{SupportsToolCalling: false}

	out := AdaptForCapabilities(req, caps)
	if len(out.Tools) != 0 {
		t.Fatalf("expected tools emptied, got %v", out.Tools)
	}
	if !strings.Contains(out.SystemPrompt, "be helpful") {
		t.Fatalf("expected original system prompt preserved, got %q", out.SystemPrompt)
	}
	if !strings.Contains(out.SystemPrompt, "search") {
		t.Fatalf("expected tool description embedded, got %q", out.SystemPrompt)
	}
	if !strings.Contains(out.SystemPrompt, `"name"`) {
		t.Fatalf("expected expected JSON call shape documented, got %q", out.SystemPrompt)
	}
}

func TestAdaptForCapabilitiesNoopWithoutTools(t *testing.T) {
	req := llm.CompletionRequest{SystemPrompt: "be helpful"}
	caps := llm.ModelCapabilities{SupportsToolCalling: false}

	out := AdaptForCapabilities(req, caps)
	if out.SystemPrompt != req.SystemPrompt {
		t.Fatalf("expected system prompt unchanged when there are no tools, got %q", out.SystemPrompt)
	}
}
