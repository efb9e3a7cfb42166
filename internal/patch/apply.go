package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"switchboard.dev/internal/apperr"
)

// Apply applies ops in order to a copy of doc and returns the copy. doc is
// never modified: if any operation fails the error names it and the caller
// still holds the untouched original.
func Apply(doc any, ops []Op) (any, error) {
	root := deepCopy(doc)
	for i, op := range ops {
		next, err := applyOne(root, op)
		if err != nil {
			return nil, opError(i, op, err)
		}
		root = next
	}
	return root, nil
}

// Validate checks ops structurally and, when doc is not nil, performs a dry
// run against it. It never modifies doc.
func Validate(ops []Op, doc any) error {
	for i, op := range ops {
		if err := checkShape(op); err != nil {
			return opError(i, op, err)
		}
	}
	if doc == nil {
		return nil
	}
	_, err := Apply(doc, ops)
	return err
}

func opError(i int, op Op, err error) error {
	return apperr.BadRequest(apperr.CodeInvalidPatch, fmt.Sprintf("operation %d (%s %s): %v", i, op.Kind, op.Path, err))
}

func checkShape(op Op) error {
	if _, ok := kindNames[op.Kind]; !ok {
		return fmt.Errorf("unknown op %s", op.Kind)
	}
	if _, err := parsePointer(op.Path); err != nil {
		return err
	}
	if op.Kind.needsFrom() {
		if _, err := parsePointer(op.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
	}
	return nil
}

func applyOne(root any, op Op) (any, error) {
	if err := checkShape(op); err != nil {
		return nil, err
	}
	path, _ := parsePointer(op.Path)
	switch op.Kind {
	case Add:
		v, err := normalize(op.Value)
		if err != nil {
			return nil, err
		}
		return addAt(root, path, v)
	case Remove:
		return removeAt(root, path)
	case Replace:
		v, err := normalize(op.Value)
		if err != nil {
			return nil, err
		}
		return replaceAt(root, path, v)
	case Copy:
		from, _ := parsePointer(op.From)
		v, err := getAt(root, from)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		return addAt(root, path, deepCopy(v))
	case Move:
		from, _ := parsePointer(op.From)
		if len(path) > len(from) && isPrefix(from, path) {
			return nil, fmt.Errorf("cannot move %s into its own child", op.From)
		}
		v, err := getAt(root, from)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		root, err = removeAt(root, from)
		if err != nil {
			return nil, err
		}
		return addAt(root, path, v)
	case Test:
		want, err := normalize(op.Value)
		if err != nil {
			return nil, err
		}
		got, err := getAt(root, path)
		if err != nil {
			return nil, err
		}
		if !equal(got, want) {
			return nil, fmt.Errorf("test failed: current value differs")
		}
		return root, nil
	}
	return nil, fmt.Errorf("unknown op %s", op.Kind)
}

// update walks to the parent of the last token and lets leaf rewrite it.
func update(node any, tokens []string, leaf func(container any, key string) (any, error)) (any, error) {
	if len(tokens) == 1 {
		return leaf(node, tokens[0])
	}
	key := tokens[0]
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("path segment %q does not exist", key)
		}
		c, err := update(child, tokens[1:], leaf)
		if err != nil {
			return nil, err
		}
		n[key] = c
		return n, nil
	case []any:
		i, err := arrayIndex(key, len(n), false)
		if err != nil {
			return nil, err
		}
		c, err := update(n[i], tokens[1:], leaf)
		if err != nil {
			return nil, err
		}
		n[i] = c
		return n, nil
	default:
		return nil, fmt.Errorf("path segment %q is not an object or array", key)
	}
}

func getAt(root any, tokens []string) (any, error) {
	node := root
	for _, key := range tokens {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[key]
			if !ok {
				return nil, fmt.Errorf("path segment %q does not exist", key)
			}
			node = child
		case []any:
			i, err := arrayIndex(key, len(n), false)
			if err != nil {
				return nil, err
			}
			node = n[i]
		default:
			return nil, fmt.Errorf("path segment %q is not an object or array", key)
		}
	}
	return node, nil
}

func addAt(root any, tokens []string, value any) (any, error) {
	return update(root, tokens, func(container any, key string) (any, error) {
		switch c := container.(type) {
		case map[string]any:
			c[key] = value
			return c, nil
		case []any:
			i, err := arrayIndex(key, len(c), true)
			if err != nil {
				return nil, err
			}
			c = append(c, nil)
			copy(c[i+1:], c[i:])
			c[i] = value
			return c, nil
		default:
			return nil, fmt.Errorf("cannot add %q to a scalar", key)
		}
	})
}

func removeAt(root any, tokens []string) (any, error) {
	return update(root, tokens, func(container any, key string) (any, error) {
		switch c := container.(type) {
		case map[string]any:
			if _, ok := c[key]; !ok {
				return nil, fmt.Errorf("path segment %q does not exist", key)
			}
			delete(c, key)
			return c, nil
		case []any:
			i, err := arrayIndex(key, len(c), false)
			if err != nil {
				return nil, err
			}
			return append(c[:i], c[i+1:]...), nil
		default:
			return nil, fmt.Errorf("cannot remove %q from a scalar", key)
		}
	})
}

func replaceAt(root any, tokens []string, value any) (any, error) {
	return update(root, tokens, func(container any, key string) (any, error) {
		switch c := container.(type) {
		case map[string]any:
			if _, ok := c[key]; !ok {
				return nil, fmt.Errorf("path segment %q does not exist", key)
			}
			c[key] = value
			return c, nil
		case []any:
			i, err := arrayIndex(key, len(c), false)
			if err != nil {
				return nil, err
			}
			c[i] = value
			return c, nil
		default:
			return nil, fmt.Errorf("cannot replace %q in a scalar", key)
		}
	})
}

func deepCopy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// normalize turns an arbitrary Go value into the document tree representation.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	return decodeValue(raw)
}

func equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !equal(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case json.Number:
		bv, ok := b.(json.Number)
		if !ok {
			return false
		}
		if av == bv {
			return true
		}
		return numbersEqual(av, bv)
	default:
		return a == b
	}
}

// numbersEqual compares JSON numbers exactly: integers as int64, anything
// else as rationals so that 1 equals 1.0 and large ids never round.
func numbersEqual(a, b json.Number) bool {
	x, errA := strconv.ParseInt(string(a), 10, 64)
	y, errB := strconv.ParseInt(string(b), 10, 64)
	if errA == nil && errB == nil {
		return x == y
	}
	var ra, rb big.Rat
	if _, ok := ra.SetString(string(a)); !ok {
		return false
	}
	if _, ok := rb.SetString(string(b)); !ok {
		return false
	}
	return ra.Cmp(&rb) == 0
}

// toDocument converts a typed value into a document tree.
func toDocument(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

// fromDocument decodes a document tree into dst, rejecting members dst does not declare.
func fromDocument(doc any, dst any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
