package rules

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a loaded name
// to be offered as a correction of a mistyped one.
const suggestThreshold = 0.80

// suggest returns the name from names most similar to name, compared
// case-insensitively, or "" when no candidate reaches [suggestThreshold].
func suggest(name string, names []string) string {
	in := strings.ToLower(strings.TrimSpace(name))
	if in == "" {
		return ""
	}
	best, bestScore := "", 0.0
	for _, candidate := range names {
		score := matchr.JaroWinkler(in, strings.ToLower(candidate), false)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	if bestScore < suggestThreshold {
		return ""
	}
	return best
}
