package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Op is a filter comparison.
type Op string

const (
	OpEq            Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query or subscription to documents whose top-level
// Field compares to Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Filter {
	return Filter{Field: field, Op: OpEq, Value: v}
}

// ArrayContains matches documents whose array field contains v.
func ArrayContains(field string, v any) Filter {
	return Filter{Field: field, Op: OpArrayContains, Value: v}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

// Match reports whether a JSON document satisfies every filter. Values are
// compared by their JSON encoding, so 42 and int64(42) are equal.
func Match(data json.RawMessage, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return false
	}
	for _, f := range filters {
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false
		}
		v, ok := doc[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if !jsonEqual(v, want) {
				return false
			}
		case OpArrayContains:
			arr, ok := v.([]any)
			if !ok {
				return false
			}
			found := false
			for _, el := range arr {
				if jsonEqual(el, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func jsonEqual(v any, want []byte) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return bytes.Equal(b, want)
}
