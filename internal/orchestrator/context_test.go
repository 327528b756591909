package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

func TestCompactHistoryNoopsWithoutContextWindow(t *testing.T) {
	provider := &scriptedProvider{}
	mgr := newTestManager(t, provider)
	o := New(&fakeHost{}, mgr, newTestKernel())

	sess := &Session{ID: "s1", Messages: []llm.Message{
		{Role: "user", Content: strings.Repeat("x", 1000)},
	}}
	original := sess.Messages

	if err := o.compactHistory(context.Background(), sess, llm.ModelCapabilities{}); err != nil {
		t.Fatalf("compactHistory: %v", err)
	}
	if len(sess.Messages) != len(original) {
		t.Fatalf("expected history untouched when ContextWindow is zero, got %d messages", len(sess.Messages))
	}
}

func TestCompactHistorySummarisesOverBudgetSession(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.CompletionResponse{
			{Content: "condensed recap of the earlier turns"},
		},
	}
	mgr := newTestManager(t, provider)
	o := New(&fakeHost{}, mgr, newTestKernel())

	sess := &Session{
		ID: "s1",
		Messages: []llm.Message{
			{Role: "user", Content: strings.Repeat("a", 200)},
			{Role: "assistant", Content: strings.Repeat("b", 200)},
			{Role: "user", Content: strings.Repeat("c", 200)},
			{Role: "assistant", Content: strings.Repeat("d", 200)},
		},
	}

	// scriptedProvider.CountTokens counts messages, not characters, so the
	// window here is sized in message units: threshold = 0.75*3 = 2.25,
	// comfortably crossed by the four seed messages.
	caps := llm.ModelCapabilities{ContextWindow: 3}
	if err := o.compactHistory(context.Background(), sess, caps); err != nil {
		t.Fatalf("compactHistory: %v", err)
	}

	if provider.calls == 0 {
		t.Fatal("expected the active provider to be used as the summariser")
	}
	foundSummary := false
	for _, m := range sess.Messages {
		if strings.Contains(m.Content, "condensed recap") {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatalf("expected a summary message folded into history, got %#v", sess.Messages)
	}
}
