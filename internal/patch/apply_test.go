package patch

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"switchboard.dev/internal/apperr"
)

func mustDoc(t *testing.T, raw string) any {
	t.Helper()
	v, err := decodeValue([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestApplyEmptyPatchReturnsEqualDocument(t *testing.T) {
	doc := mustDoc(t, `{"name":"alice","tags":["a","b"],"limits":{"max":3}}`)
	out, err := Apply(doc, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(doc, out) {
		t.Fatalf("expected deep-equal document, got %v", out)
	}
}

func TestApplyOperations(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		ops  string
		want string
	}{
		{"add member", `{"a":1}`, `[{"op":"add","path":"/b","value":2}]`, `{"a":1,"b":2}`},
		{"add array end", `{"l":[1]}`, `[{"op":"add","path":"/l/-","value":2}]`, `{"l":[1,2]}`},
		{"add array insert", `{"l":[1,3]}`, `[{"op":"add","path":"/l/1","value":2}]`, `{"l":[1,2,3]}`},
		{"remove member", `{"a":1,"b":2}`, `[{"op":"remove","path":"/b"}]`, `{"a":1}`},
		{"remove element", `{"l":[1,2,3]}`, `[{"op":"remove","path":"/l/0"}]`, `{"l":[2,3]}`},
		{"replace", `{"a":{"b":1}}`, `[{"op":"replace","path":"/a/b","value":"x"}]`, `{"a":{"b":"x"}}`},
		{"copy", `{"a":{"b":1},"c":null}`, `[{"op":"copy","from":"/a","path":"/c"}]`, `{"a":{"b":1},"c":{"b":1}}`},
		{"move", `{"a":1,"b":null}`, `[{"op":"move","from":"/a","path":"/b"}]`, `{"b":1}`},
		{"test then replace", `{"a":1.0}`, `[{"op":"test","path":"/a","value":1},{"op":"replace","path":"/a","value":2}]`, `{"a":2}`},
		{"escaped pointer", `{"a/b":1,"m~n":2}`, `[{"op":"replace","path":"/a~1b","value":3},{"op":"remove","path":"/m~0n"}]`, `{"a/b":3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ops, err := Parse([]byte(tc.ops))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			out, err := Apply(mustDoc(t, tc.doc), ops)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !equal(out, mustDoc(t, tc.want)) {
				got, _ := json.Marshal(out)
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestApplyIsAtomic(t *testing.T) {
	doc := mustDoc(t, `{"name":"alice","role":"admin"}`)
	before, _ := json.Marshal(doc)
	ops := Ops{
		{Kind: Replace, Path: "/name", Value: "bob"},
		{Kind: Test, Path: "/role", Value: "reseller"},
	}
	if _, err := Apply(doc, ops); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	after, _ := json.Marshal(doc)
	if string(before) != string(after) {
		t.Fatalf("document mutated: %s -> %s", before, after)
	}

	ops = Ops{
		{Kind: Replace, Path: "/name", Value: "bob"},
		{Kind: Remove, Path: "/missing"},
	}
	if _, err := Apply(doc, ops); err == nil {
		t.Fatalf("expected error for missing path")
	}
	after, _ = json.Marshal(doc)
	if string(before) != string(after) {
		t.Fatalf("document mutated: %s -> %s", before, after)
	}
}

func TestTestOpComparesLargeIntegersExactly(t *testing.T) {
	doc := mustDoc(t, `{"id":9007199254740993,"ratio":0.5}`)
	stale, err := Parse([]byte(`[{"op":"test","path":"/id","value":9007199254740992}]`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Apply(doc, stale); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected stale id to fail the test op, got %v", err)
	}
	current, err := Parse([]byte(`[{"op":"test","path":"/id","value":9007199254740993},{"op":"test","path":"/ratio","value":5e-1}]`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Apply(doc, current); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestApplyRejectsInvalidTargets(t *testing.T) {
	doc := mustDoc(t, `{"a":{"b":1},"l":[1]}`)
	cases := map[string]Ops{
		"root path":         {{Kind: Replace, Path: "", Value: 1}},
		"no leading slash":  {{Kind: Replace, Path: "a", Value: 1}},
		"replace missing":   {{Kind: Replace, Path: "/zzz", Value: 1}},
		"index out of range": {{Kind: Replace, Path: "/l/4", Value: 1}},
		"leading zero":      {{Kind: Remove, Path: "/l/00"}},
		"through scalar":    {{Kind: Add, Path: "/a/b/c", Value: 1}},
		"move into child":   {{Kind: Move, From: "/a", Path: "/a/x"}},
		"dash on replace":   {{Kind: Replace, Path: "/l/-", Value: 1}},
		"unknown kind":      {{Kind: Kind(42), Path: "/a"}},
	}
	for name, ops := range cases {
		if err := Validate(ops, doc); !errors.Is(err, apperr.ErrBadRequest) {
			t.Fatalf("%s: expected bad request, got %v", name, err)
		}
	}
}

func TestOpsDecodeSingleAndArray(t *testing.T) {
	single, err := Parse([]byte(`{"op":"replace","path":"/a","value":1}`))
	if err != nil {
		t.Fatalf("Parse single: %v", err)
	}
	if len(single) != 1 || single[0].Kind != Replace {
		t.Fatalf("unexpected ops: %+v", single)
	}
	many, err := Parse([]byte(` [{"op":"remove","path":"/a"},{"op":"add","path":"/b","value":null}]`))
	if err != nil {
		t.Fatalf("Parse array: %v", err)
	}
	if len(many) != 2 || many[1].Kind != Add || many[1].Value != nil {
		t.Fatalf("unexpected ops: %+v", many)
	}
	for _, raw := range []string{`"x"`, `{"op":"jump","path":"/a"}`, `{"op":"add","path":"/a"}`, `{"op":"copy","path":"/a"}`, `{"op":"remove"}`} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, apperr.ErrBadRequest) {
			t.Fatalf("%s: expected bad request, got %v", raw, err)
		}
	}
}

func TestOpMarshalRoundTrip(t *testing.T) {
	op := Op{Kind: Move, From: "/a", Path: "/b"}
	raw, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"from":"/a","op":"move","path":"/b"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}

func TestDiffReportsChangedAndNulledFields(t *testing.T) {
	type rec struct {
		Name  string  `json:"name"`
		Email *string `json:"email"`
		Flag  bool    `json:"flag"`
	}
	mail := "a@example.com"
	changes, err := Diff(rec{Name: "a", Email: &mail}, rec{Name: "a", Flag: true})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if changes.Has("name") {
		t.Fatalf("unchanged field reported: %v", changes)
	}
	if !changes.Has("email") || changes["email"] != nil {
		t.Fatalf("expected explicit null for email: %v", changes)
	}
	if !changes.Has("flag") {
		t.Fatalf("expected flag change: %v", changes)
	}
	if got := changes.Fields(); !reflect.DeepEqual(got, []string{"email", "flag"}) {
		t.Fatalf("unexpected fields %v", got)
	}
	if changes.Without("flag").Has("flag") {
		t.Fatalf("Without did not drop flag")
	}
}
