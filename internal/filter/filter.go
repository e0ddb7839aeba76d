// Package filter implements boolean predicate trees over filterable fields.
// A filter is an immutable expression tree, content-addressed by a hash of
// its structural definition, evaluating to a set of document keys.
package filter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/schema"
)

// Op combines two filters.
type Op int

// Combinator operations.
const (
	OpAnd Op = iota
	OpOr
)

type nodeKind int

const (
	nodeValue nodeKind = iota
	nodeRange
	nodeAnd
	nodeOr
	nodeNot
	nodeKeys
)

// Filter is an immutable predicate tree node. Construct with NewValue,
// NewRange, NewKeys, Combine and Negate; equal definitions hash equal and
// share cache entries.
type Filter struct {
	kind  nodeKind
	field string
	value document.Value
	lo    float64
	hi    float64
	left  *Filter
	right *Filter
	keys  *roaring64.Bitmap
	hash  uint64
}

// NewValue creates an equality filter on a filterable field.
func NewValue(s *schema.Schema, field string, value document.Value) (*Filter, error) {
	f, err := s.GetField(field)
	if err != nil {
		return nil, err
	}
	if !f.Filterable {
		return nil, fmt.Errorf("%w: field %q is not filterable", core.ErrSchemaViolation, field)
	}
	flt := &Filter{kind: nodeValue, field: field, value: value}
	flt.hash = flt.computeHash()
	return flt, nil
}

// NewRange creates an inclusive numeric range filter on a filterable field.
func NewRange(s *schema.Schema, field string, lo, hi float64) (*Filter, error) {
	f, err := s.GetField(field)
	if err != nil {
		return nil, err
	}
	if !f.Filterable {
		return nil, fmt.Errorf("%w: field %q is not filterable", core.ErrSchemaViolation, field)
	}
	if f.Kind != schema.KindNumber {
		return nil, fmt.Errorf("%w: field %q is not numeric", core.ErrSchemaViolation, field)
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: range lower bound %v above upper bound %v", core.ErrSchemaViolation, lo, hi)
	}
	flt := &Filter{kind: nodeRange, field: field, lo: lo, hi: hi}
	flt.hash = flt.computeHash()
	return flt, nil
}

// NewKeys creates a filter from an explicit set of document keys. The set is
// copied; later changes to keys do not affect the filter.
func NewKeys(keys *roaring64.Bitmap) *Filter {
	cp := roaring64.New()
	if keys != nil {
		cp.Or(keys)
	}
	flt := &Filter{kind: nodeKeys, keys: cp}
	flt.hash = flt.computeHash()
	return flt
}

// KeysOf builds a key filter from a plain key slice.
func KeysOf(keys ...core.DocKey) *Filter {
	bm := roaring64.New()
	bm.AddMany(keys)
	return NewKeys(bm)
}

// Combine joins two filters with AND or OR.
func Combine(a, b *Filter, op Op) (*Filter, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: combine requires two filters", core.ErrSchemaViolation)
	}
	kind := nodeAnd
	if op == OpOr {
		kind = nodeOr
	}
	flt := &Filter{kind: kind, left: a, right: b}
	flt.hash = flt.computeHash()
	return flt, nil
}

// Negate inverts a filter against the full document-key set.
func Negate(f *Filter) (*Filter, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: negate requires a filter", core.ErrSchemaViolation)
	}
	flt := &Filter{kind: nodeNot, left: f}
	flt.hash = flt.computeHash()
	return flt, nil
}

// Hash returns the structural content hash. Equal definitions (including
// AND/OR operand order swaps) yield equal hashes.
func (f *Filter) Hash() uint64 { return f.hash }

func (f *Filter) computeHash() uint64 {
	d := xxhash.New()
	f.writeHash(d)
	return d.Sum64()
}

func (f *Filter) writeHash(d *xxhash.Digest) {
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}

	writeU64(uint64(f.kind))
	switch f.kind {
	case nodeValue:
		_, _ = d.WriteString(f.field)
		writeU64(uint64(f.value.Kind))
		_, _ = d.WriteString(f.value.String())
	case nodeRange:
		_, _ = d.WriteString(f.field)
		writeU64(math.Float64bits(f.lo))
		writeU64(math.Float64bits(f.hi))
	case nodeAnd, nodeOr:
		// Commutative: order child hashes so a AND b == b AND a.
		lh, rh := f.left.hash, f.right.hash
		if rh < lh {
			lh, rh = rh, lh
		}
		writeU64(lh)
		writeU64(rh)
	case nodeNot:
		writeU64(f.left.hash)
	case nodeKeys:
		it := f.keys.Iterator()
		for it.HasNext() {
			writeU64(it.Next())
		}
	}
}

// ValueOf converts a dynamically typed filter operand (as decoded from JSON
// or YAML) into a document value.
func ValueOf(v any) (document.Value, error) {
	switch val := v.(type) {
	case string:
		return document.StringValue(val), nil
	case float64:
		return document.NumberValue(val), nil
	case int:
		return document.NumberValue(float64(val)), nil
	case int64:
		return document.NumberValue(float64(val)), nil
	case bool:
		return document.BoolValue(val), nil
	}
	return document.Value{}, fmt.Errorf("%w: unsupported filter value %T", core.ErrSchemaViolation, v)
}

// matches reports whether a leaf predicate accepts the document. Only valid
// for value and range nodes.
func (f *Filter) matches(doc *document.Document) bool {
	switch f.kind {
	case nodeValue:
		for _, v := range doc.Fields[f.field] {
			if v.Equals(f.value) {
				return true
			}
		}
	case nodeRange:
		for _, v := range doc.Fields[f.field] {
			if v.Kind == document.ValueNumber && v.Num >= f.lo && v.Num <= f.hi {
				return true
			}
		}
	}
	return false
}
