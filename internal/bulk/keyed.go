package bulk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"switchboard.dev/internal/apperr"
)

// Keyed maps entity ids to values and remembers the order ids were submitted in.
type Keyed[V any] struct {
	IDs    []int64
	Values map[int64]V
}

// Single returns a one-entry map.
func Single[V any](id int64, v V) Keyed[V] {
	return Keyed[V]{IDs: []int64{id}, Values: map[int64]V{id: v}}
}

// Len returns the number of entries.
func (k Keyed[V]) Len() int { return len(k.IDs) }

// Set adds or replaces the value of id.
func (k *Keyed[V]) Set(id int64, v V) {
	if k.Values == nil {
		k.Values = map[int64]V{}
	}
	if _, ok := k.Values[id]; !ok {
		k.IDs = append(k.IDs, id)
	}
	k.Values[id] = v
}

// ParseID parses a string-encoded entity id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest(apperr.CodeInvalidID, s)
	}
	return id, nil
}

// UnmarshalJSON decodes a JSON object whose keys are entity ids.
func (k *Keyed[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return apperr.BadRequest(apperr.CodeInvalidJSON, err.Error())
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return apperr.BadRequest(apperr.CodeInvalidJSON, "expected an object keyed by id")
	}
	out := Keyed[V]{Values: map[int64]V{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return apperr.BadRequest(apperr.CodeInvalidJSON, err.Error())
		}
		key, _ := tok.(string)
		id, err := ParseID(key)
		if err != nil {
			return err
		}
		if _, dup := out.Values[id]; dup {
			return apperr.BadRequest(apperr.CodeInvalidID, fmt.Sprintf("duplicate id %d", id))
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				return ae
			}
			return apperr.BadRequest(apperr.CodeInvalidJSON, fmt.Sprintf("%d: %v", id, err))
		}
		out.IDs = append(out.IDs, id)
		out.Values[id] = v
	}
	if _, err := dec.Token(); err != nil {
		return apperr.BadRequest(apperr.CodeInvalidJSON, err.Error())
	}
	*k = out
	return nil
}
