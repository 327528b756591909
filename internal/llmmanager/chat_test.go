package llmmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/harbor/internal/harborerr"
	"github.com/MrWong99/harbor/internal/resilience"
	"github.com/MrWong99/harbor/pkg/provider/llm"
)

func activateFake(t *testing.T, m *Manager, id string, fp *fakeProvider) {
	t.Helper()
	if _, err := m.Detect(context.Background(), id); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if err := m.SetActive(id, "gpt-5"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
}

func TestChatClassifiesContextDeadline(t *testing.T) {
	m := New()
	fp := registerFake(t, m, "openai", true, nil)
	fp.completeErr = context.DeadlineExceeded
	activateFake(t, m, "openai", fp)

	_, err := m.Chat(context.Background(), llm.CompletionRequest{})
	if !harborerr.Is(err, harborerr.Timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestChatClassifiesContextCancellation(t *testing.T) {
	m := New()
	fp := registerFake(t, m, "openai", true, nil)
	fp.completeErr = context.Canceled
	activateFake(t, m, "openai", fp)

	_, err := m.Chat(context.Background(), llm.CompletionRequest{})
	if !harborerr.Is(err, harborerr.Cancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestChatTripsCircuitBreakerAfterRepeatedFailures(t *testing.T) {
	m := New()
	fp := registerFake(t, m, "openai", true, nil)
	fp.completeErr = errors.New("upstream down")
	activateFake(t, m, "openai", fp)

	breaker := m.breakerFor("openai")
	for i := 0; i < 5; i++ {
		if _, err := m.Chat(context.Background(), llm.CompletionRequest{}); err == nil {
			t.Fatalf("iteration %d: expected failure", i)
		}
	}
	if breaker.State() != resilience.StateOpen {
		t.Fatalf("expected breaker open after 5 consecutive failures, got %s", breaker.State())
	}

	_, err := m.Chat(context.Background(), llm.CompletionRequest{})
	if !harborerr.Is(err, harborerr.LLMError) {
		t.Fatalf("expected llm_error while circuit is open, got %v", err)
	}
}
