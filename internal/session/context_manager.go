package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

// TokenCounter estimates the token cost of a message list. The Chat
// Orchestrator supplies [llmmanager.Manager.CountTokens] so the budget is
// measured against the active provider's own tokenisation rather than the
// generic heuristic; tests and callers without a provider handy may leave it
// nil to fall back to [estimateTokens].
type TokenCounter func(messages []llm.Message) (int, error)

// ContextManager tracks token usage in a conversation and triggers
// summarisation when approaching the context window limit.
//
// It maintains an ordered list of [llm.Message] values and accumulated
// summaries. When the estimated token count exceeds thresholdRatio × maxTokens,
// the oldest half of the messages is summarised and replaced by a compact
// summary message. This keeps the working set within the provider's context
// window while preserving narratively important information.
//
// All methods are safe for concurrent use.
type ContextManager struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser
	counter        TokenCounter

	mu            sync.Mutex
	currentTokens int
	messages      []llm.Message
	summaries     []string
}

// ContextManagerConfig configures a [ContextManager].
type ContextManagerConfig struct {
	// MaxTokens is the provider's context window size (e.g., 128000).
	MaxTokens int

	// ThresholdRatio is the fraction of MaxTokens at which summarisation is
	// triggered. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Summariser is used to compress older messages when the threshold is
	// exceeded. Must not be nil.
	Summariser Summariser

	// Counter estimates token usage for a message list. Defaults to the
	// character-count heuristic in [estimateTokens] when nil.
	Counter TokenCounter
}

// NewContextManager creates a new [ContextManager] with the given configuration.
// If ThresholdRatio is zero or negative, 0.75 is used.
func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &ContextManager{
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: ratio,
		summariser:     cfg.Summariser,
		counter:        cfg.Counter,
		messages:       make([]llm.Message, 0),
		summaries:      make([]string, 0),
	}
}

// AddMessages appends messages and re-estimates the total token count.
// If the estimate exceeds threshold × maxTokens, the oldest half of the
// messages is automatically summarised and replaced.
func (cm *ContextManager) AddMessages(ctx context.Context, msgs ...llm.Message) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.messages = append(cm.messages, msgs...)
	if err := cm.recount(); err != nil {
		return fmt.Errorf("context manager: count tokens: %w", err)
	}

	threshold := int(float64(cm.maxTokens) * cm.thresholdRatio)
	if cm.currentTokens > threshold && len(cm.messages) > 1 {
		if err := cm.summariseOldest(ctx); err != nil {
			return fmt.Errorf("context manager auto-summarise: %w", err)
		}
	}

	return nil
}

// recount refreshes currentTokens from the combined summaries+messages view
// (the same view [ContextManager.Messages] returns), using counter when set
// or the character-count heuristic otherwise. Must be called with cm.mu held.
func (cm *ContextManager) recount() error {
	combined := make([]llm.Message, 0, len(cm.summaries)+len(cm.messages))
	for _, s := range cm.summaries {
		combined = append(combined, llm.Message{Role: "system", Content: fmt.Sprintf("[Previous conversation summary]: %s", s)})
	}
	combined = append(combined, cm.messages...)

	if cm.counter == nil {
		total := 0
		for _, m := range combined {
			total += estimateTokens(m)
		}
		cm.currentTokens = total
		return nil
	}
	total, err := cm.counter(combined)
	if err != nil {
		return err
	}
	cm.currentTokens = total
	return nil
}

// Messages returns the current conversation history, including any
// summary prefixes, as a fresh slice the caller may keep.
func (cm *ContextManager) Messages() []llm.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	result := make([]llm.Message, 0, len(cm.summaries)+len(cm.messages))

	// Prepend accumulated summaries as system context.
	for _, s := range cm.summaries {
		result = append(result, llm.Message{
			Role:    "system",
			Content: fmt.Sprintf("[Previous conversation summary]: %s", s),
		})
	}

	result = append(result, cm.messages...)
	return result
}

// TokenEstimate returns the current estimated token count, including
// summary tokens.
func (cm *ContextManager) TokenEstimate() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.currentTokens
}

// Reset clears all messages and summaries.
func (cm *ContextManager) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = cm.messages[:0]
	cm.summaries = cm.summaries[:0]
	cm.currentTokens = 0
}

// summariseOldest compresses the oldest half of messages into a summary.
// Must be called with cm.mu held.
func (cm *ContextManager) summariseOldest(ctx context.Context) error {
	half := len(cm.messages) / 2
	if half == 0 {
		half = 1
	}

	toSummarise := make([]llm.Message, half)
	copy(toSummarise, cm.messages[:half])

	// Temporarily release the lock for the (potentially slow) LLM call.
	cm.mu.Unlock()
	summary, err := cm.summariser.Summarise(ctx, toSummarise)
	cm.mu.Lock()
	if err != nil {
		return err
	}

	// Remove summarised messages from the front and fold the summary in,
	// then re-measure the total against whatever counter is configured.
	cm.messages = cm.messages[half:]
	cm.summaries = append(cm.summaries, summary)
	return cm.recount()
}

// estimateTokens returns a rough token count for a single message using
// the 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
