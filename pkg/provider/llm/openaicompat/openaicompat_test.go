package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

func TestNewRejectsEmptyFields(t *testing.T) {
	if _, err := New("", "model"); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
	if _, err := New("http://localhost:8080", ""); err == nil {
		t.Fatalf("expected error for empty model")
	}
}

func TestCompleteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "local-model" {
			t.Fatalf("unexpected model %q", req.Model)
		}

		resp := chatResponse{}
		resp.Choices = []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		}{{Message: chatMessage{Role: "assistant", Content: "hi there"}, FinishReason: "stop"}}
		resp.Usage.PromptTokens = 3
		resp.Usage.CompletionTokens = 2
		resp.Usage.TotalTokens = 5

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "local-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestCompleteSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "local-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatalf("expected error from 500 response")
	}
}

func TestStreamCompletionParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"hel"}}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p, err := New(srv.URL, "local-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var text string
	var finish string
	for chunk := range ch {
		text += chunk.Text
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if text != "hello" {
		t.Fatalf("expected accumulated text %q, got %q", "hello", text)
	}
	if finish != "stop" {
		t.Fatalf("expected finish reason %q, got %q", "stop", finish)
	}
}

func TestCountTokensEstimatesFromLength(t *testing.T) {
	p, err := New("http://localhost:8080", "local-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := p.CountTokens([]llm.Message{{Role: "user", Content: strings.Repeat("a", 40)}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n <= 0 {
		t.Fatalf("expected positive token estimate, got %d", n)
	}
}

func TestCapabilitiesDefaultsToNoToolCalling(t *testing.T) {
	p, err := New("http://localhost:8080", "local-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Capabilities().SupportsToolCalling {
		t.Fatalf("expected SupportsToolCalling=false by default")
	}
}

func TestWithCapabilitiesOverride(t *testing.T) {
	p, err := New("http://localhost:8080", "local-model", WithCapabilities(llm.ModelCapabilities{SupportsToolCalling: true}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !p.Capabilities().SupportsToolCalling {
		t.Fatalf("expected overridden capability to take effect")
	}
}

func TestSSEDecoderSkipsCommentsAndBlankLines(t *testing.T) {
	r := strings.NewReader(": comment\n\ndata: {\"a\":1}\n\n")
	d := newSSEDecoder(bufio.NewReader(r))

	payload, ok := d.next()
	if !ok {
		t.Fatalf("expected a payload")
	}
	if payload != `{"a":1}` {
		t.Fatalf("unexpected payload %q", payload)
	}

	if _, ok := d.next(); ok {
		t.Fatalf("expected stream exhausted")
	}
}
