package orchestrator

import (
	"encoding/json"
	"sort"
	"strings"
)

// parsedCall is a tool call recovered from assistant prose by the
// text-based parser.
type parsedCall struct {
	Name      string
	Arguments map[string]any
}

// callShape is the minimal JSON object shape §4.5.1 requires: a tool name
// plus an object-valued parameters (or arguments) field. Fields beyond these
// are ignored.
type callShape struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

// parseTextToolCall implements the §4.5.1 text-based tool-call parser: it
// strips surrounding code fences, tries the whole string as JSON, and
// failing that scans for balanced {...} substrings longest-first, returning
// the first one whose shape matches and whose name is in knownTools. It
// returns ok=false when no tool call is present — the text is the final
// answer.
func parseTextToolCall(text string, knownTools map[string]bool) (call parsedCall, ok bool) {
	stripped := stripCodeFences(text)

	if c, matched := tryParseCallShape(stripped, knownTools); matched {
		return c, true
	}

	for _, candidate := range balancedBraceSubstrings(stripped) {
		if c, matched := tryParseCallShape(candidate, knownTools); matched {
			return c, true
		}
	}

	return parsedCall{}, false
}

// tryParseCallShape attempts to unmarshal s as a callShape and validates it
// against the spec's shape and known-tool-name requirements.
func tryParseCallShape(s string, knownTools map[string]bool) (parsedCall, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return parsedCall{}, false
	}

	var shape callShape
	if err := json.Unmarshal([]byte(s), &shape); err != nil {
		return parsedCall{}, false
	}
	if shape.Name == "" || !knownTools[shape.Name] {
		return parsedCall{}, false
	}

	args := shape.Parameters
	if args == nil {
		args = shape.Arguments
	}
	if args == nil {
		return parsedCall{}, false
	}

	return parsedCall{Name: shape.Name, Arguments: args}, true
}

// stripCodeFences removes a single leading/trailing Markdown code fence
// (``` or ```json) if the text is wholly wrapped in one.
func stripCodeFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}

	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(t[:nl])
		if firstLine == "" || isLangTag(firstLine) {
			t = t[nl+1:]
		}
	}
	t = strings.TrimSuffix(strings.TrimRight(t, "\n"), "```")
	return strings.TrimSpace(t)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if !(('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')) {
			return false
		}
	}
	return len(s) > 0
}

// balancedBraceSubstrings scans text for every substring delimited by a
// balanced pair of braces, returning them ordered longest-first so the most
// complete candidate is tried before a truncated nested one.
func balancedBraceSubstrings(text string) []string {
	var candidates []string

	var stack []int
	for i, r := range text {
		switch r {
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			candidates = append(candidates, text[start:i+1])
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
	return candidates
}
