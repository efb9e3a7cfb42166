package patch

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"switchboard.dev/internal/apperr"
)

// Schema is the declared top-level field set of a request type.
type Schema struct {
	// json member name -> Go field name
	fields   map[string]string
	readonly map[string]bool
}

var schemas sync.Map // reflect.Type -> *Schema

// SchemaFor returns the field schema of the struct type D. Fields tagged
// `patch:"readonly"` exist but cannot be targeted by a patch.
func SchemaFor[D any]() *Schema {
	var zero D
	return schemaOf(reflect.TypeOf(zero))
}

func schemaOf(t reflect.Type) *Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := schemas.Load(t); ok {
		return cached.(*Schema)
	}
	s := &Schema{fields: map[string]string{}, readonly: map[string]bool{}}
	collectFields(t, s)
	actual, _ := schemas.LoadOrStore(t, s)
	return actual.(*Schema)
}

func collectFields(t reflect.Type, s *Schema) {
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Tag.Get("json") == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			collectFields(ft, s)
			continue
		}
		if !f.IsExported() {
			continue
		}
		name := jsonName(f)
		if name == "-" {
			continue
		}
		s.fields[name] = f.Name
		if f.Tag.Get("patch") == "readonly" {
			s.readonly[name] = true
		}
	}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

// Has reports whether name is a declared member.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Names returns every declared member.
func (s *Schema) Names() []string {
	out := make([]string, 0, len(s.fields))
	for name := range s.fields {
		out = append(out, name)
	}
	return out
}

// GoName returns the Go field name of a json member.
func (s *Schema) GoName(name string) string {
	return s.fields[name]
}

// Check verifies that every operation is well formed and addresses declared, writable members.
func (s *Schema) Check(ops []Op) error {
	if err := Validate(ops, nil); err != nil {
		return err
	}
	for i, op := range ops {
		if err := s.checkPointer(op.Path, op.Kind != Test); err != nil {
			return opError(i, op, err)
		}
		if op.Kind.needsFrom() {
			if err := s.checkPointer(op.From, op.Kind == Move); err != nil {
				return opError(i, op, fmt.Errorf("from: %w", err))
			}
		}
	}
	return nil
}

func (s *Schema) checkPointer(p string, write bool) error {
	tokens, err := parsePointer(p)
	if err != nil {
		return err
	}
	if !s.Has(tokens[0]) {
		return fmt.Errorf("unknown field %q", tokens[0])
	}
	if write && s.readonly[tokens[0]] {
		return fmt.Errorf("field %q is read-only", tokens[0])
	}
	return nil
}

// touched returns the top-level members written by ops.
func touched(ops []Op) []string {
	seen := map[string]bool{}
	var out []string
	mark := func(p string) {
		tokens, err := parsePointer(p)
		if err != nil || seen[tokens[0]] {
			return
		}
		seen[tokens[0]] = true
		out = append(out, tokens[0])
	}
	for _, op := range ops {
		if op.Kind == Test {
			continue
		}
		mark(op.Path)
		if op.Kind == Move {
			mark(op.From)
		}
	}
	return out
}

func badField(field string, err error) error {
	return apperr.Unprocessable(apperr.CodeInvalidField, fmt.Sprintf("%s: %v", field, err))
}
