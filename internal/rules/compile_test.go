package rules_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/transcript"
)

func compile(t *testing.T, doc string, opts ...rules.CompileOption) rules.Table {
	t.Helper()
	table, err := rules.Compile(strings.NewReader(doc), opts...)
	if err != nil {
		t.Fatalf("Compile: unexpected error: %v", err)
	}
	return table
}

func TestCompile_SingleNamedRecord(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: kana
rules:
  - "kya": "きゃ"
  - "ka": "か"
`)

	rs, ok := table["kana"]
	if !ok {
		t.Fatalf("ruleset %q missing; names=%v", "kana", table.Names())
	}
	if rs.Len() != 2 {
		t.Fatalf("rule count: got %d, want 2", rs.Len())
	}
	if got := rs.Rules[0].Pattern.String(); got != "kya" {
		t.Errorf("first pattern: got %q, want %q", got, "kya")
	}
	if got := rs.Rules[1].Replacement; got != "か" {
		t.Errorf("second replacement: got %q, want %q", got, "か")
	}
}

func TestCompile_UnnamedRecordsNumberedInDocumentOrder(t *testing.T) {
	t.Parallel()

	table := compile(t, `
rules:
  - "a": "b"
---
name: named
rules:
  - "c": "d"
---
rules:
  - "e": "f"
`)

	want := []string{"Unnamed ruleset #1", "Unnamed ruleset #2", "named"}
	if diff := cmp.Diff(want, table.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if got := table["Unnamed ruleset #2"].Rules[0].Pattern.String(); got != "e" {
		t.Errorf("second unnamed ruleset pattern: got %q, want %q", got, "e")
	}
}

func TestCompile_NamesAreSorted(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: zeta
rules: []
---
name: alpha
rules: []
---
name: Mid
rules: []
`)

	want := []string{"Mid", "alpha", "zeta"}
	if diff := cmp.Diff(want, table.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_RecordWithoutRulesIsSkipped(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: metadata only
author: someone
---
rules:
  - "x": "y"
---
`)

	want := []string{"Unnamed ruleset #1"}
	if diff := cmp.Diff(want, table.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_EmptyStream(t *testing.T) {
	t.Parallel()

	table := compile(t, "")
	if len(table) != 0 {
		t.Errorf("expected empty table, got %v", table.Names())
	}
}

func TestCompile_CollidingNamesLastWins(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: dup
rules:
  - "first": "1"
---
name: dup
rules:
  - "second": "2"
  - "third": "3"
`)

	if len(table) != 1 {
		t.Fatalf("expected 1 ruleset, got %d", len(table))
	}
	rs := table["dup"]
	if rs.Len() != 2 || rs.Rules[0].Pattern.String() != "second" {
		t.Errorf("expected the later record to win, got %d rules starting with %q", rs.Len(), rs.Rules[0].Pattern.String())
	}
}

func TestCompile_MultiPairEntryKeepsOrder(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: multi
rules:
  - "a": "1"
    "b": "2"
  - "c": "3"
`)

	var got []string
	for _, r := range table["multi"].Rules {
		got = append(got, r.Pattern.String())
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("pattern order mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_ScalarsAreVerbatim(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: ~
rules:
  - "x": ~
  - "y": null
  - "z":
  - "w": ""
---
name: null
rules:
`)

	rs, ok := table["~"]
	if !ok {
		t.Fatalf("ruleset %q missing; names=%v", "~", table.Names())
	}
	var got []string
	for _, r := range rs.Rules {
		got = append(got, r.Replacement)
	}
	if diff := cmp.Diff([]string{"~", "null", "", ""}, got); diff != "" {
		t.Errorf("replacements mismatch (-want +got):\n%s", diff)
	}
	if out := transcript.Apply("xyzw", rs.Rules); out != "~null" {
		t.Errorf("Apply: got %q, want %q", out, "~null")
	}

	empty, ok := table["null"]
	if !ok {
		t.Fatalf("ruleset %q missing; names=%v", "null", table.Names())
	}
	if empty.Len() != 0 {
		t.Errorf("empty rules should yield an empty ruleset, got %d rules", empty.Len())
	}
}

func TestCompile_Names(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"blank kept", "name: \"  \"\nrules: []\n", "  "},
		{"tilde kept", "name: ~\nrules: []\n", "~"},
		{"empty quoted", "name: \"\"\nrules: []\n", "Unnamed ruleset #1"},
		{"empty value", "name:\nrules: []\n", "Unnamed ruleset #1"},
		{"missing", "rules: []\n", "Unnamed ruleset #1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			table := compile(t, tt.doc)
			if diff := cmp.Diff([]string{tt.want}, table.Names()); diff != "" {
				t.Errorf("names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompile_AliasesAreResolved(t *testing.T) {
	t.Parallel()

	table := compile(t, `
name: base
rules:
  - &twice {"a": "b"}
  - *twice
`)
	if table["base"].Len() != 2 {
		t.Errorf("alias should resolve to the anchored rule, got %d rules", table["base"].Len())
	}
}

func TestCompile_ScalarsAreKeptVerbatim(t *testing.T) {
	t.Parallel()

	// Unquoted scalars that YAML would resolve to numbers or booleans stay text.
	table := compile(t, `
name: 1.50
rules:
  - 0x10: yes
`)
	rs, ok := table["1.50"]
	if !ok {
		t.Fatalf("expected ruleset named %q, got %v", "1.50", table.Names())
	}
	if rs.Rules[0].Pattern.String() != "0x10" || rs.Rules[0].Replacement != "yes" {
		t.Errorf("got rule %q -> %q", rs.Rules[0].Pattern.String(), rs.Rules[0].Replacement)
	}
}

func TestCompile_MalformedDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"invalid yaml", "rules: [unclosed"},
		{"record is a list", "- rules: []"},
		{"record is a scalar", "just text"},
		{"rules is a mapping", "rules:\n  a: b"},
		{"rules is a scalar", "rules: abc"},
		{"rule is a scalar", "rules:\n  - abc"},
		{"rule value is a list", "rules:\n  - a: [b]"},
		{"name is a mapping", "name: {x: y}\nrules: []"},
		{"second document broken", "rules: []\n---\nrules: 5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := rules.Compile(strings.NewReader(tc.doc))
			var malformed *rules.MalformedRulesError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected *MalformedRulesError, got %T: %v", err, err)
			}
			if malformed.Document == 0 {
				t.Errorf("expected a document index in %v", err)
			}
		})
	}
}

func TestCompile_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := rules.Compile(strings.NewReader(`
name: broken
rules:
  - "ok": "fine"
  - "(unclosed": "x"
`))

	var invalid *rules.InvalidPatternError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidPatternError, got %T: %v", err, err)
	}
	if invalid.RuleSet != "broken" {
		t.Errorf("RuleSet: got %q, want %q", invalid.RuleSet, "broken")
	}
	if invalid.Pattern != "(unclosed" {
		t.Errorf("Pattern: got %q, want %q", invalid.Pattern, "(unclosed")
	}
	if !strings.Contains(err.Error(), "broken") || !strings.Contains(err.Error(), "(unclosed") {
		t.Errorf("error should name ruleset and pattern: %v", err)
	}
}

func TestCompile_Dialects(t *testing.T) {
	t.Parallel()

	// Lookahead is only understood by the backtracking dialect.
	doc := `
name: lookahead
rules:
  - "n(?=[aiueo])": "N"
`
	if _, err := rules.Compile(strings.NewReader(doc)); err == nil {
		t.Error("re2 dialect should reject lookahead")
	}

	table := compile(t, doc, rules.WithDialect(rules.DialectRegexp2))
	got := table["lookahead"].Rules[0].Apply("nani n")
	if got != "NaNi n" {
		t.Errorf("regexp2 apply: got %q, want %q", got, "NaNi n")
	}
}

func TestCompile_UnknownDialect(t *testing.T) {
	t.Parallel()

	if _, err := rules.Compile(strings.NewReader(""), rules.WithDialect("pcre")); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

func TestCompileFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "kana.yaml")
	if err := os.WriteFile(path, []byte("name: k\nrules:\n  - a: あ\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := rules.CompileFile(path)
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if got := table["k"].Rules[0].Apply("a"); got != "あ" {
		t.Errorf("got %q, want %q", got, "あ")
	}

	_, err = rules.CompileFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist for a missing file, got %v", err)
	}
}
