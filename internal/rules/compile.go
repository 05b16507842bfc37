package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// CompileOption configures [Compile] and [CompileFile].
type CompileOption func(*compiler)

// WithDialect selects the pattern dialect. The default is [DialectRE2].
func WithDialect(d Dialect) CompileOption {
	return func(c *compiler) {
		if d != "" {
			c.dialect = d
		}
	}
}

type compiler struct {
	dialect Dialect
	unnamed int
}

// CompileFile reads the rules document at path and compiles it.
// Read failures are returned wrapped; content failures are
// [*MalformedRulesError] or [*InvalidPatternError].
func CompileFile(path string, opts ...CompileOption) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}
	return Compile(bytes.NewReader(data), opts...)
}

// Compile decodes every document of the YAML stream in r and returns the
// resulting table. Either the whole stream compiles or an error is returned;
// there is no partial table.
func Compile(r io.Reader, opts ...CompileOption) (Table, error) {
	c := &compiler{dialect: DialectRE2}
	for _, o := range opts {
		o(c)
	}
	if !c.dialect.IsValid() {
		return nil, fmt.Errorf("rules: unknown dialect %q", c.dialect)
	}

	table := make(Table)
	dec := yaml.NewDecoder(r)
	for doc := 1; ; doc++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedRulesError{Document: doc, Err: err}
		}

		rs, err := c.record(doc, &node)
		if err != nil {
			return nil, err
		}
		if rs != nil {
			table[rs.Name] = rs
		}
	}
	return table, nil
}

// record turns one decoded document into a rule set. It returns nil without
// error for documents that carry no "rules" key.
func (c *compiler) record(doc int, node *yaml.Node) (*RuleSet, error) {
	root := deref(node)
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = deref(root.Content[0])
	}
	if isNull(root) {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, &MalformedRulesError{Document: doc, Line: root.Line, Reason: "record is not a mapping"}
	}

	rulesNode := lookup(root, "rules")
	if rulesNode == nil {
		return nil, nil
	}

	name, err := c.name(doc, root)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{Name: name}
	if isEmpty(rulesNode) {
		return rs, nil
	}
	if rulesNode.Kind != yaml.SequenceNode {
		return nil, &MalformedRulesError{Document: doc, Line: rulesNode.Line, Reason: `"rules" is not a sequence`}
	}

	for _, entry := range rulesNode.Content {
		entry = deref(entry)
		if entry.Kind != yaml.MappingNode {
			return nil, &MalformedRulesError{Document: doc, Line: entry.Line, Reason: "rule is not a pattern: replacement mapping"}
		}
		for i := 0; i+1 < len(entry.Content); i += 2 {
			key, val := deref(entry.Content[i]), deref(entry.Content[i+1])
			if key.Kind != yaml.ScalarNode || val.Kind != yaml.ScalarNode {
				return nil, &MalformedRulesError{Document: doc, Line: key.Line, Reason: "rule pattern and replacement must be scalars"}
			}
			pat, err := compilePattern(c.dialect, key.Value)
			if err != nil {
				return nil, &InvalidPatternError{RuleSet: name, Pattern: key.Value, Err: err}
			}
			// Scalars are taken as written: "~" and "null" stay literal text.
			rs.Rules = append(rs.Rules, Rule{Pattern: pat, Replacement: val.Value})
		}
	}
	return rs, nil
}

// name resolves the record's name, synthesizing one for unnamed records. A
// present name is kept verbatim; only a missing or empty one counts as
// unnamed, since the empty string means "no selection". The unnamed counter
// advances only for records that actually define rules.
func (c *compiler) name(doc int, root *yaml.Node) (string, error) {
	if n := lookup(root, "name"); n != nil && !isEmpty(n) {
		if n.Kind != yaml.ScalarNode {
			return "", &MalformedRulesError{Document: doc, Line: n.Line, Reason: `"name" is not a scalar`}
		}
		return n.Value, nil
	}
	c.unnamed++
	return UnnamedName(c.unnamed), nil
}

// lookup returns the value node stored under key in mapping m. When the key
// is repeated the last occurrence wins.
func lookup(m *yaml.Node, key string) *yaml.Node {
	var found *yaml.Node
	for i := 0; i+1 < len(m.Content); i += 2 {
		k := deref(m.Content[i])
		if k.Kind == yaml.ScalarNode && k.Value == key {
			found = deref(m.Content[i+1])
		}
	}
	return found
}

// deref follows alias nodes to their anchors.
func deref(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// isEmpty reports whether n has no content at all, as for `key:` with nothing
// after it. An explicit "~" or "null" is content.
func isEmpty(n *yaml.Node) bool {
	return n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Value == "")
}

func isNull(n *yaml.Node) bool {
	return n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}
