// Package document holds the in-memory system of record: parsed documents
// keyed by integer key, plus their raw source text.
package document

import (
	"strconv"
	"strings"
)

// ValueKind tags a Value's dynamic type.
type ValueKind int

// Value kinds. Arrays are represented as ordered []Value per field path and
// nested objects are flattened into dot-path fields, so only scalar kinds
// remain at the leaves.
const (
	ValueString ValueKind = iota
	ValueNumber
	ValueBool
)

// Value is a tagged-variant scalar field value.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// String renders the value for display, facet bucketing and equality filters.
// Numbers drop a trailing ".0" so 10 and 10.0 bucket together.
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Equals reports whether v equals other. Values of different kinds are never
// equal.
func (v Value) Equals(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueString:
		return v.Str == other.Str
	case ValueNumber:
		return v.Num == other.Num
	case ValueBool:
		return v.Bool == other.Bool
	}
	return false
}

// Document is one loaded record: its assigned key, the raw source text it
// came from, and its flattened field values.
type Document struct {
	Key    uint64
	Raw    string
	Fields map[string][]Value
}

// Text returns the document's text representation of a field: all values
// rendered and joined with spaces, in array order.
func (d *Document) Text(field string) string {
	vals := d.Fields[field]
	switch len(vals) {
	case 0:
		return ""
	case 1:
		return vals[0].String()
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

// Numeric returns the first numeric value of a field, if any.
func (d *Document) Numeric(field string) (float64, bool) {
	for _, v := range d.Fields[field] {
		if v.Kind == ValueNumber {
			return v.Num, true
		}
	}
	return 0, false
}
