// Package transcript applies compiled rule sets to text.
//
// Application is an ordered fold over the rules: each rule replaces every
// non-overlapping match of its pattern in the output of the previous rule.
// No rule ever sees the original text once an earlier rule changed it, so
// one rule may create matches for the next:
//
//	rules: [A → B, B → C]
//	Apply("A", rules) == "C"
//
// All functions are pure and safe for concurrent use.
package transcript

import "github.com/MrWong99/livescribe/internal/rules"

// Apply transcribes text with rs in order. An empty rule list returns text
// unchanged.
func Apply(text string, rs []rules.Rule) string {
	for _, r := range rs {
		text = r.Apply(text)
	}
	return text
}

// Step records the effect of one rule during [Trace].
type Step struct {
	// Index is the 0-based position of the rule within its set.
	Index int

	Pattern     string
	Replacement string

	// Before is the rule's input, After its output.
	Before string
	After  string
}

// Changed reports whether the rule modified its input.
func (s Step) Changed() bool {
	return s.Before != s.After
}

// Trace applies rs like [Apply] and records every intermediate result. The
// final text is the After of the last step, or text itself for an empty rule
// list.
func Trace(text string, rs []rules.Rule) (string, []Step) {
	steps := make([]Step, 0, len(rs))
	for i, r := range rs {
		out := r.Apply(text)
		steps = append(steps, Step{
			Index:       i,
			Pattern:     r.Pattern.String(),
			Replacement: r.Replacement,
			Before:      text,
			After:       out,
		})
		text = out
	}
	return text, steps
}
