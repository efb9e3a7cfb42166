// Package patch implements JSON-Patch style operations over typed entities.
//
// Operations are applied to a JSON document tree obtained from the request
// representation of an entity, never to the entity itself, so a failing
// sequence cannot leave a partially modified value behind.
package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"switchboard.dev/internal/apperr"
)

// Kind is the operation tag.
type Kind uint8

const (
	Add Kind = iota + 1
	Remove
	Replace
	Copy
	Move
	Test
)

var kindNames = map[Kind]string{
	Add:     "add",
	Remove:  "remove",
	Replace: "replace",
	Copy:    "copy",
	Move:    "move",
	Test:    "test",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// needsValue reports whether the operation carries a value member.
func (k Kind) needsValue() bool {
	return k == Add || k == Replace || k == Test
}

// needsFrom reports whether the operation carries a from member.
func (k Kind) needsFrom() bool {
	return k == Copy || k == Move
}

// Op is a single patch operation. Value is only meaningful for add, replace
// and test; From only for copy and move.
type Op struct {
	Kind  Kind
	Path  string
	From  string
	Value any
}

type wireOp struct {
	Op    string          `json:"op"`
	Path  *string         `json:"path"`
	From  *string         `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, ok := parseKind(w.Op)
	if !ok {
		return fmt.Errorf("unknown op %q", w.Op)
	}
	if w.Path == nil {
		return errors.New("missing path")
	}
	op := Op{Kind: kind, Path: *w.Path}
	if kind.needsFrom() {
		if w.From == nil {
			return fmt.Errorf("%s requires from", kind)
		}
		op.From = *w.From
	}
	if kind.needsValue() {
		if w.Value == nil {
			return fmt.Errorf("%s requires value", kind)
		}
		v, err := decodeValue(w.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		op.Value = v
	}
	*o = op
	return nil
}

func (o Op) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"op":   o.Kind.String(),
		"path": o.Path,
	}
	if o.Kind.needsFrom() {
		out["from"] = o.From
	}
	if o.Kind.needsValue() {
		out["value"] = o.Value
	}
	return json.Marshal(out)
}

// Ops is an operation sequence. It decodes from a single operation object as well as from an array.
type Ops []Op

func (ops *Ops) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty patch document")
	}
	switch data[0] {
	case '{':
		var op Op
		if err := json.Unmarshal(data, &op); err != nil {
			return err
		}
		*ops = Ops{op}
		return nil
	case '[':
		var list []Op
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*ops = Ops(list)
		return nil
	default:
		return errors.New("patch must be an operation or an array of operations")
	}
}

// Parse decodes a patch document. Malformed documents are reported as bad requests.
func Parse(data []byte) (Ops, error) {
	var ops Ops
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, apperr.BadRequest(apperr.CodeInvalidPatch, err.Error())
	}
	return ops, nil
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
