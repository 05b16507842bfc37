package rules

import (
	"fmt"
	"regexp"

	"github.com/dlclark/regexp2"
)

// Dialect selects the regular expression engine rule patterns are compiled
// with.
type Dialect string

const (
	// DialectRE2 compiles patterns with Go's regexp package. Matching runs in
	// linear time; lookaround and backreferences inside patterns are not
	// available.
	DialectRE2 Dialect = "re2"

	// DialectRegexp2 compiles patterns with a backtracking engine that
	// understands lookaround, atomic groups and backreferences, as found in
	// Perl or Python style transliteration tables.
	DialectRegexp2 Dialect = "regexp2"
)

// IsValid reports whether d is a recognised dialect.
func (d Dialect) IsValid() bool {
	return d == DialectRE2 || d == DialectRegexp2
}

// compilePattern compiles expr in dialect d. An empty dialect means
// [DialectRE2].
func compilePattern(d Dialect, expr string) (Pattern, error) {
	switch d {
	case "", DialectRE2:
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		return re2Pattern{re: re}, nil
	case DialectRegexp2:
		re, err := regexp2.Compile(expr, regexp2.None)
		if err != nil {
			return nil, err
		}
		return backtrackPattern{re: re}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", d)
	}
}

type re2Pattern struct {
	re *regexp.Regexp
}

func (p re2Pattern) ReplaceAll(src, template string) string {
	return p.re.ReplaceAllString(src, template)
}

func (p re2Pattern) String() string { return p.re.String() }

type backtrackPattern struct {
	re *regexp2.Regexp
}

func (p backtrackPattern) ReplaceAll(src, template string) string {
	out, err := p.re.Replace(src, template, -1, -1)
	if err != nil {
		// Replace only fails on a match timeout, and none is configured.
		return src
	}
	return out
}

func (p backtrackPattern) String() string { return p.re.String() }
