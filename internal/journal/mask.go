package journal

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Placeholder replaces secret values in journal content.
const Placeholder = "********"

var secretFields = map[string]bool{
	"password":    true,
	"webpassword": true,
}

// mask replaces secret members at any depth, including the value of a patch
// operation that targets a secret field.
func mask(v any) any {
	switch n := v.(type) {
	case map[string]any:
		if _, ok := n["value"]; ok && (targetsSecret(n["path"]) || targetsSecret(n["from"])) {
			n["value"] = Placeholder
		}
		for k, child := range n {
			if secretFields[k] {
				n[k] = Placeholder
				continue
			}
			n[k] = mask(child)
		}
		return n
	case []any:
		for i, child := range n {
			n[i] = mask(child)
		}
		return n
	default:
		return v
	}
}

// targetsSecret reports whether pointer names a secret field as its last token.
func targetsSecret(pointer any) bool {
	p, ok := pointer.(string)
	if !ok || !strings.HasPrefix(p, "/") {
		return false
	}
	last := p[strings.LastIndex(p, "/")+1:]
	last = strings.ReplaceAll(strings.ReplaceAll(last, "~1", "/"), "~0", "~")
	return secretFields[last]
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
