package workflow

import (
	"strings"

	"github.com/meow-stack/storyflow/internal/types"
)

var knownActions = []string{
	string(types.ActionGuide), string(types.ActionElicit), string(types.ActionReflect),
	string(types.ActionDisplay), string(types.ActionTemplate), "render_template",
	string(types.ActionValidate), string(types.ActionLoadStateMachine),
	string(types.ActionTransitionStory), string(types.ActionSubWorkflow), string(types.ActionRoute),
}

// suggestAction finds a known action similar to the given one using Levenshtein distance.
// Returns the closest match if the distance is <= 2, otherwise returns empty string.
func suggestAction(action string) string {
	return findSimilar(strings.ToLower(strings.TrimSpace(action)), knownActions)
}

// findSimilar returns the candidate closest to name within an edit distance of 2.
func findSimilar(name string, candidates []string) string {
	const maxDistance = 2
	bestMatch := ""
	bestDist := maxDistance + 1

	for _, c := range candidates {
		dist := levenshteinDistance(name, c)
		if dist < bestDist {
			bestDist = dist
			bestMatch = c
		}
	}

	if bestDist <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance computes the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(
				prev[j]+1,      // deletion
				cur[j-1]+1,     // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
