package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Answer is either a scalar string or a nested mapping of sub-id to Answer.
// The zero value is an empty scalar.
type Answer struct {
	text   string
	fields map[string]Answer
}

// Text returns a scalar answer.
func Text(s string) Answer {
	return Answer{text: s}
}

// Nested returns a map answer built from the given fields.
func Nested(fields map[string]Answer) Answer {
	if fields == nil {
		fields = map[string]Answer{}
	}
	return Answer{fields: fields}
}

// IsNested reports whether the answer is a map.
func (a Answer) IsNested() bool {
	return a.fields != nil
}

// String returns the scalar text (empty for map answers).
func (a Answer) String() string {
	return a.text
}

// Field returns a sub-answer of a map answer.
func (a Answer) Field(key string) (Answer, bool) {
	if a.fields == nil {
		return Answer{}, false
	}
	v, ok := a.fields[key]
	return v, ok
}

// Fields returns the sub-answers of a map answer. The map must not be modified.
func (a Answer) Fields() map[string]Answer {
	return a.fields
}

// Equal reports deep equality.
func (a Answer) Equal(b Answer) bool {
	if a.IsNested() != b.IsNested() {
		return false
	}
	if !a.IsNested() {
		return a.text == b.text
	}
	if len(a.fields) != len(b.fields) {
		return false
	}
	for k, v := range a.fields {
		w, ok := b.fields[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// IsAnswered is the single "answered" predicate: the answer exists and, if
// a string, has non-whitespace content. A map counts when any leaf does.
func IsAnswered(a Answer) bool {
	if !a.IsNested() {
		return strings.TrimSpace(a.text) != ""
	}
	for _, v := range a.fields {
		if IsAnswered(v) {
			return true
		}
	}
	return false
}

// MarshalJSON encodes scalars as JSON strings and maps as objects.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsNested() {
		return json.Marshal(a.fields)
	}
	return json.Marshal(a.text)
}

// UnmarshalJSON accepts a string, an object, null, or any other scalar
// (kept as its literal text).
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = Answer{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Text(s)
	case data[0] == '{':
		var m map[string]Answer
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*a = Nested(m)
	case data[0] == '[':
		return fmt.Errorf("answer: arrays are not supported")
	default:
		*a = Text(string(data))
	}
	return nil
}

// AnswerTree maps a question identifier to its answer.
type AnswerTree map[string]Answer

// With returns a new tree with the leaf at path set to value. Only the maps
// along the path are copied; siblings are shared and never mutated. A scalar
// found where a map is needed is replaced by a fresh map.
func (t AnswerTree) With(path []string, value string) AnswerTree {
	out := make(AnswerTree, len(t)+1)
	maps.Copy(out, t)
	if len(path) == 0 {
		return out
	}
	out[path[0]] = withPath(out[path[0]], path[1:], value)
	return out
}

func withPath(cur Answer, rest []string, value string) Answer {
	if len(rest) == 0 {
		return Text(value)
	}
	fields := make(map[string]Answer, len(cur.fields)+1)
	maps.Copy(fields, cur.fields)
	fields[rest[0]] = withPath(fields[rest[0]], rest[1:], value)
	return Nested(fields)
}

// Lookup returns the answer at path.
func (t AnswerTree) Lookup(path ...string) (Answer, bool) {
	if len(path) == 0 {
		return Answer{}, false
	}
	a, ok := t[path[0]]
	for _, k := range path[1:] {
		if !ok {
			break
		}
		a, ok = a.Field(k)
	}
	return a, ok
}

// Text returns the scalar text at path, or "".
func (t AnswerTree) Text(path ...string) string {
	a, _ := t.Lookup(path...)
	return a.String()
}

// Equal reports deep equality of two trees.
func (t AnswerTree) Equal(o AnswerTree) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		w, ok := o[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}
