package rules

import (
	"log/slog"
	"slices"
	"sync"
)

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithRegistryDialect sets the dialect used by [Registry.Load].
func WithRegistryDialect(d Dialect) RegistryOption {
	return func(r *Registry) {
		r.dialect = d
	}
}

// WithDefault sets the preferred rule set. Whenever the selection has to be
// re-established after a load, name is chosen if the new table contains it;
// otherwise the first name in sorted order is used.
func WithDefault(name string) RegistryOption {
	return func(r *Registry) {
		r.preferred = name
	}
}

// WithLogger sets the logger used for load and selection events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// Registry owns the currently loaded [Table] and the current selection.
//
// Invariant: when the table is non-empty the selection names one of its rule
// sets; when the table is empty the selection is "".
//
// Registry is safe for concurrent use. A table is swapped in only after the
// whole document compiled, so a failed load leaves both the table and the
// selection untouched.
type Registry struct {
	dialect   Dialect
	preferred string
	log       *slog.Logger

	mu       sync.RWMutex
	table    Table
	names    []string
	selected string
	path     string
}

// NewRegistry returns an empty registry with no selection.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		dialect: DialectRE2,
		log:     slog.Default(),
		table:   Table{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load compiles the rules document at path and, on success, replaces the
// table and re-establishes a valid selection. The path is remembered for
// [Registry.Reload].
func (r *Registry) Load(path string) error {
	t, err := CompileFile(path, WithDialect(r.dialect))
	if err != nil {
		r.log.Warn("rules: load failed, keeping previous table", "path", path, "err", err)
		return err
	}

	r.mu.Lock()
	r.path = path
	r.swap(t)
	selected, count := r.selected, len(r.names)
	r.mu.Unlock()

	r.log.Info("rules: table loaded", "path", path, "rulesets", count, "selected", selected)
	return nil
}

// Reload loads the most recently loaded path again.
func (r *Registry) Reload() error {
	path := r.Path()
	if path == "" {
		return ErrNoRulesFile
	}
	return r.Load(path)
}

// LoadTable replaces the table with t and re-establishes a valid selection.
// The remembered path is left unchanged.
func (r *Registry) LoadTable(t Table) {
	if t == nil {
		t = Table{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swap(t)
}

// swap installs t and reselects. Callers must hold r.mu for writing.
func (r *Registry) swap(t Table) {
	r.table = t
	r.names = t.Names()
	r.reselect()
}

// reselect keeps the current selection when it is still valid. Otherwise it
// falls back to the preferred default, then to the first sorted name, and
// clears the selection for an empty table. Callers must hold r.mu for writing.
func (r *Registry) reselect() {
	switch {
	case len(r.names) == 0:
		r.selected = ""
	case r.table.Has(r.selected):
	case r.preferred != "" && r.table.Has(r.preferred):
		r.selected = r.preferred
	default:
		r.selected = r.names[0]
	}
}

// Select makes name the current rule set. It returns an
// [*UnknownRuleSetError] and leaves the selection unchanged when the table
// has no such rule set.
func (r *Registry) Select(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.table.Has(name) {
		return &UnknownRuleSetError{Name: name, Suggestion: suggest(name, r.names)}
	}
	r.selected = name
	return nil
}

// SetDefault changes the preferred rule set used by later loads. The current
// selection is left alone.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferred = name
}

// Names returns the loaded rule set names in lexicographic order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}

// Snapshot returns the sorted names and the selection as one consistent view.
func (r *Registry) Snapshot() (names []string, selected string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names), r.selected
}

// Selected returns the name of the current rule set, or "" when none is
// selected.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Current returns the selected rule set. ok is false when nothing is
// selected.
func (r *Registry) Current() (rs *RuleSet, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok = r.table[r.selected]
	return rs, ok
}

// Lookup returns the rule set called name.
func (r *Registry) Lookup(name string) (*RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.table[name]
	return rs, ok
}

// Path returns the path of the last successfully loaded rules file.
func (r *Registry) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Len returns the number of loaded rule sets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
