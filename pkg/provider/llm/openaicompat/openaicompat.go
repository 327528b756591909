// Package openaicompat provides an LLM provider for local runtimes that
// expose an OpenAI-compatible /v1/chat/completions endpoint (llama.cpp
// server, vLLM, text-generation-webui, etc.), reached over a plain HTTP
// client rather than the OpenAI SDK — the SDK targets api.openai.com and
// rejects the local runtime's self-signed/loopback setup in practice.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// Provider implements llm.Provider against a local OpenAI-compatible server.
type Provider struct {
	client *resty.Client
	model  string
	caps   llm.ModelCapabilities
}

// Option configures a Provider.
type Option func(*Provider)

// WithCapabilities overrides the default capability set reported by this
// runtime. Local models vary widely in context window and tool-calling
// support, so there is no single sensible default.
func WithCapabilities(caps llm.ModelCapabilities) Option {
	return func(p *Provider) { p.caps = caps }
}

// WithTimeout sets a per-request timeout. Local inference on CPU-bound
// hardware can be slow, so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.SetTimeout(d) }
}

// New constructs a Provider against baseURL (e.g. "http://127.0.0.1:8080").
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("openaicompat: baseURL must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openaicompat: model must not be empty")
	}

	p := &Provider{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(2 * time.Minute),
		model:  model,
		caps: llm.ModelCapabilities{
			ContextWindow:       8_192,
			MaxOutputTokens:     2_048,
			SupportsToolCalling: false,
			SupportsStreaming:   true,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := p.buildRequest(req, false)

	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("openaicompat: chat completion: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("openaicompat: server returned %s: %s", resp.Status(), resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openaicompat: empty choices in response")
	}

	choice := out.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// StreamCompletion implements llm.Provider using the server-sent-events
// variant of the same endpoint, with "stream": true.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body := p.buildRequest(req, true)

	ch := make(chan llm.Chunk, 32)
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetDoNotParseResponse(true).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("openaicompat: start stream: %w", err)
	}
	if resp.IsError() {
		resp.RawBody().Close()
		return nil, fmt.Errorf("openaicompat: server returned %s", resp.Status())
	}

	go func() {
		defer close(ch)
		defer resp.RawBody().Close()

		decoder := newSSEDecoder(resp.RawBody())
		for {
			line, ok := decoder.next()
			if !ok {
				if err := decoder.scanner.Err(); err != nil {
					select {
					case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
					case <-ctx.Done():
					}
				}
				return
			}
			if line == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content   string         `json:"content"`
						ToolCalls []chatToolCall `json:"tool_calls"`
					} `json:"delta"`
					FinishReason string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			out := llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}
			for _, tc := range c.Delta.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
					ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
				})
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// CountTokens implements llm.Provider with a rough character-based estimate;
// local runtimes rarely expose a tokenize endpoint worth depending on.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

func (p *Provider) buildRequest(req llm.CompletionRequest, stream bool) chatRequest {
	body := chatRequest{Model: p.model, Temperature: req.Temperature, MaxTokens: req.MaxTokens, Stream: stream}

	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg := chatMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			ctc := chatToolCall{ID: tc.ID, Type: "function"}
			ctc.Function.Name = tc.Name
			ctc.Function.Arguments = tc.Arguments
			msg.ToolCalls = append(msg.ToolCalls, ctc)
		}
		body.Messages = append(body.Messages, msg)
	}
	for _, td := range req.Tools {
		ct := chatTool{Type: "function"}
		ct.Function.Name = td.Name
		ct.Function.Description = td.Description
		ct.Function.Parameters = td.Parameters
		body.Tools = append(body.Tools, ct)
	}
	return body
}
