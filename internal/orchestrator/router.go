package orchestrator

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// routerThreshold is the minimum relevance score a tool must reach to
	// survive the router. Tuned loose: the router's job is to cut obviously
	// irrelevant tools, not to second-guess the model on borderline ones.
	routerThreshold = 0.72
)

// routeTools narrows tools to those plausibly relevant to query, scored via
// Jaro-Winkler similarity between query tokens and each tool's name and
// description tokens, taking the best pairwise match per tool (the same
// token-to-token comparison strategy the teacher's phonetic matcher uses for
// fuzzy name matching, applied here to task-keyword relevance instead of NPC
// addressing). If nothing clears the threshold, the full set is returned
// unfiltered rather than starving the model of every tool.
func routeTools(query string, tools map[string]toolMapping) map[string]toolMapping {
	if len(tools) == 0 {
		return tools
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return tools
	}

	scored := make(map[string]toolMapping, len(tools))
	for name, tm := range tools {
		haystack := tokenize(tm.descriptor.ToolName + " " + tm.descriptor.Definition.Description)
		if toolRelevance(queryTokens, haystack) >= routerThreshold {
			scored[name] = tm
		}
	}

	if len(scored) == 0 {
		return tools
	}
	return scored
}

// toolRelevance returns the best Jaro-Winkler score between any query token
// and any haystack token.
func toolRelevance(queryTokens, haystackTokens []string) float64 {
	var best float64
	for _, q := range queryTokens {
		for _, h := range haystackTokens {
			if s := matchr.JaroWinkler(q, h, false); s > best {
				best = s
			}
		}
	}
	return best
}

// tokenize lowercases and splits on whitespace/punctuation, discarding
// tokens too short to score meaningfully.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
