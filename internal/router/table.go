package router

import (
	"fmt"

	"gatewaycore/internal/types"
)

type entry struct {
	rule    types.RouteRule
	matcher matcher
}

// Table is an ordered set of route rules keyed by pattern.
//
// Lookups prefer an exact pattern equal to the path, then fall back to the
// first pattern in registration order that matches. Table is not safe for
// concurrent use; callers serialize access.
type Table struct {
	entries []*entry
	index   map[string]int
}

// NewTable creates an empty route table
func NewTable() *Table {
	return &Table{
		index: make(map[string]int),
	}
}

// Upsert stores rule under its pattern. Replacing an existing pattern keeps
// the position of its first registration.
func (t *Table) Upsert(rule types.RouteRule) error {
	m, err := compile(rule.Pattern)
	if err != nil {
		return err
	}

	e := &entry{rule: cloneRule(rule), matcher: m}
	if i, ok := t.index[rule.Pattern]; ok {
		t.entries[i] = e
		return nil
	}

	t.index[rule.Pattern] = len(t.entries)
	t.entries = append(t.entries, e)
	return nil
}

// Remove deletes the rule for pattern and reports whether it existed
func (t *Table) Remove(pattern string) bool {
	i, ok := t.index[pattern]
	if !ok {
		return false
	}

	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	delete(t.index, pattern)
	for j := i; j < len(t.entries); j++ {
		t.index[t.entries[j].rule.Pattern] = j
	}
	return true
}

// Get returns the rule registered under pattern
func (t *Table) Get(pattern string) (types.RouteRule, bool) {
	i, ok := t.index[pattern]
	if !ok {
		return types.RouteRule{}, false
	}
	return cloneRule(t.entries[i].rule), true
}

// Find returns the rule that routes path
func (t *Table) Find(path string) (types.RouteRule, error) {
	if i, ok := t.index[path]; ok {
		return cloneRule(t.entries[i].rule), nil
	}

	for _, e := range t.entries {
		if e.matcher.match(path) {
			return cloneRule(e.rule), nil
		}
	}

	return types.RouteRule{}, fmt.Errorf("%w: %s", types.ErrRouteNotFound, path)
}

// List returns every rule in registration order
func (t *Table) List() []types.RouteRule {
	out := make([]types.RouteRule, len(t.entries))
	for i, e := range t.entries {
		out[i] = cloneRule(e.rule)
	}
	return out
}

// Len returns the number of registered patterns
func (t *Table) Len() int {
	return len(t.entries)
}

func cloneRule(r types.RouteRule) types.RouteRule {
	r.RequestTransform = cloneMap(r.RequestTransform)
	r.ResponseTransform = cloneMap(r.ResponseTransform)
	return r
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
