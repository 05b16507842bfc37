package rules

import (
	"errors"
	"fmt"
)

// ErrNoRulesFile is returned by [Registry.Reload] when no rules file has been
// loaded yet.
var ErrNoRulesFile = errors.New("rules: no rules file loaded")

// MalformedRulesError reports a rules document that is not valid YAML or
// whose records do not have the expected shape.
type MalformedRulesError struct {
	// Document is the 1-based index of the offending document in the stream.
	// Zero when the position is unknown.
	Document int

	// Line is the 1-based source line of the offending node, or zero.
	Line int

	// Reason describes the shape violation. Empty when Err is a decoder error.
	Reason string

	// Err is the underlying decoder error, if any.
	Err error
}

func (e *MalformedRulesError) Error() string {
	msg := "rules: malformed document"
	if e.Document > 0 {
		msg += fmt.Sprintf(" #%d", e.Document)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	switch {
	case e.Reason != "" && e.Err != nil:
		return msg + ": " + e.Reason + ": " + e.Err.Error()
	case e.Reason != "":
		return msg + ": " + e.Reason
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedRulesError) Unwrap() error { return e.Err }

// InvalidPatternError reports a rule whose pattern does not compile.
type InvalidPatternError struct {
	RuleSet string
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("rules: ruleset %q: invalid pattern %q: %v", e.RuleSet, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// UnknownRuleSetError is returned when selecting a rule set that is not part
// of the loaded table.
type UnknownRuleSetError struct {
	Name string

	// Suggestion is the closest loaded name, or empty when nothing is close.
	Suggestion string
}

func (e *UnknownRuleSetError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("rules: unknown ruleset %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("rules: unknown ruleset %q", e.Name)
}
