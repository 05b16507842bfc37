// Package rules compiles rules documents into named, ordered rule sets and
// keeps track of which rule set is currently selected.
//
// A rules document is a YAML stream. Every document in the stream that has a
// "rules" key becomes one [RuleSet]:
//
//	name: hiragana
//	rules:
//	  - "kya": "きゃ"
//	  - "ka": "か"
//	  - "(a)(b)": "$2$1"
//
// Rules are kept in declaration order. Applying a rule set is a sequential
// fold: the output of one rule is the input of the next (see the transcript
// package). A later document whose name collides with an earlier one replaces
// it.
//
// Documents are decoded into [yaml.Node] trees only, so a document can never
// instantiate application types or execute anything while it is loaded.
package rules

import (
	"slices"
	"strconv"
)

// unnamedPrefix is the prefix of synthesized rule set names. The suffix is the
// 1-based position of the record among the unnamed records of one load.
const unnamedPrefix = "Unnamed ruleset #"

// UnnamedName returns the synthesized name of the n-th unnamed rule set.
func UnnamedName(n int) string {
	return unnamedPrefix + strconv.Itoa(n)
}

// Pattern is a compiled regular expression together with its substitution
// strategy. Implementations are immutable and safe for concurrent use.
type Pattern interface {
	// ReplaceAll replaces every non-overlapping match in src with template,
	// expanding group references such as $1 or ${name}.
	ReplaceAll(src, template string) string

	// String returns the source text of the pattern.
	String() string
}

// Rule is a single pattern → replacement substitution.
type Rule struct {
	Pattern     Pattern
	Replacement string
}

// Apply performs the rule's global substitution on text.
func (r Rule) Apply(text string) string {
	return r.Pattern.ReplaceAll(text, r.Replacement)
}

// RuleSet is a named, ordered list of rules.
type RuleSet struct {
	Name  string
	Rules []Rule
}

// Len returns the number of rules in the set. A nil set has no rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rules)
}

// Table maps rule set names to rule sets. A Table is built fresh by every
// compile and is never mutated afterwards.
type Table map[string]*RuleSet

// Names returns the rule set names in lexicographic order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether t contains a rule set called name.
func (t Table) Has(name string) bool {
	_, ok := t[name]
	return ok
}
