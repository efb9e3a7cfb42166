package patch

import (
	"fmt"
	"sort"
)

// Changes is an explicit patch set keyed by json member name. A member that
// is absent was not changed; a member present with a nil value was set to null.
type Changes map[string]any

// Has reports whether field was changed.
func (c Changes) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Fields returns the changed members in sorted order.
func (c Changes) Fields() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Without returns a copy of c without the named members.
func (c Changes) Without(fields ...string) Changes {
	out := make(Changes, len(c))
	for k, v := range c {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Diff compares the top-level members of old and updated and returns the ones whose value differs.
func Diff(old, updated any) (Changes, error) {
	a, err := toDocument(old)
	if err != nil {
		return nil, fmt.Errorf("encode old: %w", err)
	}
	b, err := toDocument(updated)
	if err != nil {
		return nil, fmt.Errorf("encode new: %w", err)
	}
	am, _ := a.(map[string]any)
	bm, _ := b.(map[string]any)
	changes := Changes{}
	for k, nv := range bm {
		ov, ok := am[k]
		if !ok || !equal(ov, nv) {
			changes[k] = nv
		}
	}
	for k := range am {
		if _, ok := bm[k]; !ok {
			changes[k] = nil
		}
	}
	return changes, nil
}
